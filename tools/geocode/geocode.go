// Package geocode resolves free-text addresses to coordinates through the
// Mapbox forward geocoding API, with an in-process read-through cache.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/rfvalente/morada/internal/geo"
	"github.com/rfvalente/morada/internal/helpers"
	"github.com/rfvalente/morada/models"
)

const (
	defaultBaseURL    = "https://api.mapbox.com"
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 500 * time.Millisecond

	cacheNumCounters = 10_000
	cacheMaxCost     = 4096
	cacheBufferItems = 64
	cacheTTL         = time.Hour
)

type Config struct {
	APIKey     string
	BaseURL    string
	Country    string // optional ISO 3166-1 alpha-2 hint, e.g. "pt"
	Timeout    time.Duration
	RetryDelay time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	cache  *ristretto.Cache
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[GEO] ", log.LstdFlags)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, models.E(models.KindConfiguration, "geocode.new", "building cache", err)
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger,
	}, nil
}

// Geocode resolves a free-text query to coordinates. It returns
// models.ErrNotFound when the provider has no feature for the query;
// confidence thresholds are the caller's concern. Transient upstream failures
// get exactly one retry.
func (c *Client) Geocode(ctx context.Context, query string) (models.GeocodeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.GeocodeResult{}, models.E(models.KindLogic, "geocode", "empty query", nil)
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return models.GeocodeResult{}, models.E(models.KindConfiguration, "geocode", "GEOCODER_API_KEY is not set", nil)
	}

	key := geo.Fold(query)
	if v, ok := c.cache.Get(key); ok {
		if res, ok := v.(models.GeocodeResult); ok {
			return res, nil
		}
	}

	res, err := c.forward(ctx, query)
	if err != nil && models.Retryable(err) {
		if serr := helpers.SleepCtx(ctx, c.cfg.RetryDelay); serr != nil {
			return models.GeocodeResult{}, err
		}
		res, err = c.forward(ctx, query)
	}
	if err != nil {
		return models.GeocodeResult{}, err
	}

	c.cache.SetWithTTL(key, res, 1, cacheTTL)
	return res, nil
}

// Wait flushes pending cache writes. Only tests need the determinism.
func (c *Client) Wait() { c.cache.Wait() }

func (c *Client) forward(ctx context.Context, query string) (models.GeocodeResult, error) {
	const op = "geocode.forward"

	params := url.Values{}
	params.Set("access_token", c.cfg.APIKey)
	params.Set("limit", "1")
	if c.cfg.Country != "" {
		params.Set("country", c.cfg.Country)
	}
	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s",
		c.cfg.BaseURL, url.PathEscape(query), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.GeocodeResult{}, models.E(models.KindUpstreamFatal, op, "building request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.GeocodeResult{}, models.E(models.KindTimeout, op, "request cancelled", err)
		}
		return models.GeocodeResult{}, models.E(models.KindUpstreamTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.GeocodeResult{}, models.E(models.KindUpstreamTransient, op, "reading response", err)
	}
	if kind, _ := models.ClassifyHTTPStatus(resp.StatusCode); kind != models.KindUnknown {
		return models.GeocodeResult{}, models.E(kind, op,
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Features []struct {
			PlaceName string    `json:"place_name"`
			Relevance float64   `json:"relevance"`
			Center    []float64 `json:"center"` // lon, lat
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.GeocodeResult{}, models.E(models.KindParse, op, "decoding response", err)
	}
	if len(payload.Features) == 0 {
		return models.GeocodeResult{}, models.E(models.KindNotFound, op,
			fmt.Sprintf("no match for %q", query), models.ErrNotFound)
	}

	f := payload.Features[0]
	if len(f.Center) < 2 {
		return models.GeocodeResult{}, models.E(models.KindParse, op, "feature has no center", nil)
	}
	return models.GeocodeResult{
		Lat:               f.Center[1],
		Lon:               f.Center[0],
		Confidence:        f.Relevance,
		NormalizedAddress: f.PlaceName,
	}, nil
}
