package core

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/rfvalente/morada/models"
)

const (
	geocodeWorkers = 8

	// geocodeConfidenceFloor is the threshold below which a geocoder match is
	// treated as a miss.
	geocodeConfidenceFloor = 0.3
)

// MappingAgent resolves a coordinate for every candidate: extracted
// coordinates win, then the full address, then city plus country. Candidates
// where every strategy misses are dropped; input order is preserved.
type MappingAgent struct {
	geocoder Geocoder
	logger   *log.Logger
}

func NewMappingAgent(geocoder Geocoder, logger *log.Logger) *MappingAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[MAP] ", log.LstdFlags)
	}
	return &MappingAgent{geocoder: geocoder, logger: logger}
}

func (a *MappingAgent) Name() string { return AgentMapping }

func (a *MappingAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(MapInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "mapping", "unexpected payload type", nil)
	}

	results := make([]*models.GeoCandidate, len(in.Candidates))
	sem := make(chan struct{}, geocodeWorkers)
	var wg sync.WaitGroup
	for i, c := range in.Candidates {
		wg.Add(1)
		go func(i int, cand models.Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if resolved, ok := a.resolve(ctx, cand); ok {
				results[i] = &resolved
			}
		}(i, c)
	}
	wg.Wait()

	geocoded := make([]models.GeoCandidate, 0, len(in.Candidates))
	for _, g := range results {
		if g != nil {
			geocoded = append(geocoded, *g)
		}
	}
	a.logger.Printf("resolved %d of %d candidates", len(geocoded), len(in.Candidates))
	return req.Respond(MapOutput{Geocoded: geocoded}), nil
}

func (a *MappingAgent) resolve(ctx context.Context, cand models.Candidate) (models.GeoCandidate, bool) {
	if cand.Latitude != nil && cand.Longitude != nil {
		return models.GeoCandidate{Candidate: cand, Lat: *cand.Latitude, Lon: *cand.Longitude, Confidence: 1}, true
	}

	for _, query := range geocodeQueries(cand) {
		res, err := a.geocoder.Geocode(ctx, query)
		if err != nil {
			a.logger.Printf("geocode %q failed: %v", query, err)
			continue
		}
		if res.Confidence < geocodeConfidenceFloor {
			a.logger.Printf("geocode %q below confidence floor (%.2f)", query, res.Confidence)
			continue
		}
		return models.GeoCandidate{
			Candidate:         cand,
			Lat:               res.Lat,
			Lon:               res.Lon,
			Confidence:        res.Confidence,
			NormalizedAddress: res.NormalizedAddress,
		}, true
	}
	return models.GeoCandidate{}, false
}

func geocodeQueries(cand models.Candidate) []string {
	var queries []string
	if q := joinNonEmpty(cand.Address, cand.City); q != "" {
		queries = append(queries, q)
	}
	if cand.City != "" {
		queries = append(queries, joinNonEmpty(cand.City, "Portugal"))
	}
	return queries
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ", ")
}
