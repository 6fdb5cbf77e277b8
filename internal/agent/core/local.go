package core

import (
	"context"
	"log"
	"sync"

	"github.com/rfvalente/morada/models"
)

const (
	poiTopCandidates = 5
	poiWorkers       = 4
	poiRadiusMeters  = 1500
)

// LocalAgent attaches nearby points of interest to the best candidates. Only
// the top few get a lookup; the rest carry empty lists. A provider failure
// for one candidate empties that candidate only; the batch never fails.
type LocalAgent struct {
	pois   POIProvider
	logger *log.Logger
}

func NewLocalAgent(pois POIProvider, logger *log.Logger) *LocalAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[LOCAL] ", log.LstdFlags)
	}
	return &LocalAgent{pois: pois, logger: logger}
}

func (a *LocalAgent) Name() string { return AgentLocal }

func (a *LocalAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(LocalInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "local", "unexpected payload type", nil)
	}

	enriched := make([]models.EnrichedCandidate, len(in.Geocoded))
	for i, g := range in.Geocoded {
		enriched[i] = models.EnrichedCandidate{GeoCandidate: g, POIs: []models.POI{}}
	}

	lookups := len(enriched)
	if lookups > poiTopCandidates {
		lookups = poiTopCandidates
	}

	sem := make(chan struct{}, poiWorkers)
	var wg sync.WaitGroup
	for i := 0; i < lookups; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			pois, err := a.pois.PoisNear(ctx, enriched[i].Lat, enriched[i].Lon, poiRadiusMeters, nil)
			if err != nil {
				a.logger.Printf("poi lookup for %s failed: %v", enriched[i].URL, err)
				return
			}
			if len(pois) > 0 {
				enriched[i].POIs = pois
			}
		}(i)
	}
	wg.Wait()

	return req.Respond(LocalOutput{Enriched: enriched}), nil
}
