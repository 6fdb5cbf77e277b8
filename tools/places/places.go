// Package places looks up points of interest around a coordinate through the
// Mapbox Search Box category API.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rfvalente/morada/internal/geo"
	"github.com/rfvalente/morada/models"
)

const (
	defaultBaseURL  = "https://api.mapbox.com"
	defaultTimeout  = 10 * time.Second
	defaultRadiusM  = 1500.0
	defaultPerLimit = 10
)

// categorySlugs maps our category names onto the provider's canonical ids.
var categorySlugs = map[models.POICategory]string{
	models.POISchool:         "school",
	models.POIHospital:       "hospital",
	models.POIGrocery:        "grocery",
	models.POIRestaurant:     "restaurant",
	models.POIPark:           "park",
	models.POITransitStation: "bus_station",
	models.POICafe:           "cafe",
	models.POIGym:            "fitness_center",
}

type Config struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	PerLimit int // max results requested per category
}

type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PerLimit <= 0 {
		cfg.PerLimit = defaultPerLimit
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[POI] ", log.LstdFlags)
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// PoisNear returns points of interest within radiusM meters of the
// coordinate, ascending by distance. Categories default to the standard set.
// A category lookup that fails is logged and skipped; the call errors only
// when every category fails.
func (c *Client) PoisNear(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, models.E(models.KindConfiguration, "places", "POI_PROVIDER_API_KEY is not set", nil)
	}
	if radiusM <= 0 {
		radiusM = defaultRadiusM
	}
	if len(categories) == 0 {
		categories = models.DefaultPOICategories
	}

	var (
		mu        sync.Mutex
		pois      []models.POI
		firstErr  error
		failures  int
		requested int
		wg        sync.WaitGroup
	)
	for _, cat := range categories {
		slug, ok := categorySlugs[cat]
		if !ok {
			continue
		}
		requested++
		wg.Add(1)
		go func(cat models.POICategory, slug string) {
			defer wg.Done()
			found, err := c.category(ctx, slug, cat, lat, lon)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				c.logger.Printf("category %s lookup failed: %v", cat, err)
				return
			}
			pois = append(pois, found...)
		}(cat, slug)
	}
	wg.Wait()

	if requested > 0 && failures == requested {
		return nil, firstErr
	}

	kept := pois[:0]
	for _, p := range pois {
		if p.DistanceMeters <= radiusM {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].DistanceMeters < kept[j].DistanceMeters
	})
	return kept, nil
}

func (c *Client) category(ctx context.Context, slug string, cat models.POICategory, lat, lon float64) ([]models.POI, error) {
	op := "places." + slug

	params := url.Values{}
	params.Set("access_token", c.cfg.APIKey)
	params.Set("proximity", fmt.Sprintf("%s,%s",
		strconv.FormatFloat(lon, 'f', -1, 64), strconv.FormatFloat(lat, 'f', -1, 64)))
	params.Set("limit", strconv.Itoa(c.cfg.PerLimit))
	params.Set("language", "en")
	endpoint := fmt.Sprintf("%s/search/searchbox/v1/category/%s?%s", c.cfg.BaseURL, slug, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, models.E(models.KindUpstreamFatal, op, "building request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.E(models.KindTimeout, op, "request cancelled", err)
		}
		return nil, models.E(models.KindUpstreamTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, models.E(models.KindUpstreamTransient, op, "reading response", err)
	}
	if kind, _ := models.ClassifyHTTPStatus(resp.StatusCode); kind != models.KindUnknown {
		return nil, models.E(kind, op, fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Features []struct {
			Properties struct {
				Name        string  `json:"name"`
				Distance    float64 `json:"distance"`
				Coordinates struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"coordinates"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, models.E(models.KindParse, op, "decoding response", err)
	}

	pois := make([]models.POI, 0, len(payload.Features))
	for _, f := range payload.Features {
		p := f.Properties
		if p.Name == "" {
			continue
		}
		dist := p.Distance
		if dist <= 0 {
			dist = geo.DistanceMeters(lat, lon, p.Coordinates.Latitude, p.Coordinates.Longitude)
		}
		pois = append(pois, models.POI{
			Name:           p.Name,
			Category:       cat,
			Lat:            p.Coordinates.Latitude,
			Lon:            p.Coordinates.Longitude,
			DistanceMeters: dist,
		})
	}
	return pois, nil
}
