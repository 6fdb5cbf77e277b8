package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"

	"github.com/rfvalente/morada/internal/agent/core"
	"github.com/rfvalente/morada/internal/agent/telemetry"
	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/session"
	"github.com/rfvalente/morada/tools/telephony"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// scriptedLLM plays back canned completions, picking the document by the
// system prompt of the incoming request. Listing extractions are keyed by the
// page URL embedded in the user prompt.
type scriptedLLM struct {
	scoping   string
	listings  map[string]string
	community string
	general   string
	prober    string
	summary   string
}

func (s *scriptedLLM) Complete(_ context.Context, _ llm.Request) (string, error) {
	if s.summary == "" {
		return "", models.E(models.KindLogic, "stub", "unscripted Complete call", nil)
	}
	return s.summary, nil
}

func (s *scriptedLLM) CompleteJSON(_ context.Context, req llm.Request, out any) error {
	switch {
	case strings.Contains(req.System, "Fold the conversation"):
		return json.Unmarshal([]byte(s.scoping), out)
	case strings.Contains(req.System, "extract one property listing"):
		for url, doc := range s.listings {
			if strings.Contains(req.Prompt, "URL: "+url) {
				return json.Unmarshal([]byte(doc), out)
			}
		}
		return models.E(models.KindParse, "stub", "no listing scripted for page", nil)
	case strings.Contains(req.System, "profile a neighborhood"):
		return json.Unmarshal([]byte(s.community), out)
	case strings.Contains(req.System, "answer questions about neighborhoods"):
		return json.Unmarshal([]byte(s.general), out)
	case strings.Contains(req.System, "negotiation leverage"):
		return json.Unmarshal([]byte(s.prober), out)
	}
	return models.E(models.KindLogic, "stub", "unscripted CompleteJSON call", nil)
}

type stubSearch struct {
	searchFn func(ctx context.Context, query, engine string) ([]models.SearchHit, error)
	scrapeFn func(ctx context.Context, url string) (string, error)
}

func (s *stubSearch) Search(ctx context.Context, query, engine string) ([]models.SearchHit, error) {
	if s.searchFn == nil {
		return nil, models.E(models.KindLogic, "stub", "unexpected Search call", nil)
	}
	return s.searchFn(ctx, query, engine)
}

func (s *stubSearch) ScrapeMarkdown(ctx context.Context, url string) (string, error) {
	if s.scrapeFn == nil {
		return "", models.E(models.KindLogic, "stub", "unexpected ScrapeMarkdown call", nil)
	}
	return s.scrapeFn(ctx, url)
}

type stubGeocoder struct {
	fn func(ctx context.Context, query string) (models.GeocodeResult, error)
}

func (s *stubGeocoder) Geocode(ctx context.Context, query string) (models.GeocodeResult, error) {
	if s.fn == nil {
		return models.GeocodeResult{}, models.E(models.KindLogic, "stub", "unexpected Geocode call", nil)
	}
	return s.fn(ctx, query)
}

type stubPOI struct {
	fn func(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error)
}

func (s *stubPOI) PoisNear(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error) {
	if s.fn == nil {
		return nil, models.E(models.KindLogic, "stub", "unexpected PoisNear call", nil)
	}
	return s.fn(ctx, lat, lon, radiusM, categories)
}

type stubPhone struct {
	updateFn func(ctx context.Context, systemPrompt, firstMessage string) error
	createFn func(ctx context.Context, number string) (string, error)
	getFn    func(ctx context.Context, id string) (telephony.Call, error)
}

func (s *stubPhone) UpdateAssistant(ctx context.Context, systemPrompt, firstMessage string) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, systemPrompt, firstMessage)
}

func (s *stubPhone) CreateCall(ctx context.Context, number string) (string, error) {
	if s.createFn == nil {
		return "", models.E(models.KindLogic, "stub", "unexpected CreateCall call", nil)
	}
	return s.createFn(ctx, number)
}

func (s *stubPhone) GetCall(ctx context.Context, id string) (telephony.Call, error) {
	if s.getFn == nil {
		return telephony.Call{}, models.E(models.KindLogic, "stub", "unexpected GetCall call", nil)
	}
	return s.getFn(ctx, id)
}

// providers bundles the stubbed externals behind one coordinator.
type providers struct {
	llm      core.LLM
	search   core.SearchProvider
	geo      core.Geocoder
	poi      core.POIProvider
	phone    core.Telephony
	noTarget bool // leave TELEPHONY_TARGET_NUMBER unset
}

func newTestCoordinator(p providers, sessions session.Store) *core.Coordinator {
	logger := discardLogger()
	if p.search == nil {
		p.search = &stubSearch{}
	}
	if p.geo == nil {
		p.geo = &stubGeocoder{}
	}
	if p.poi == nil {
		p.poi = &stubPOI{}
	}
	if p.phone == nil {
		p.phone = &stubPhone{}
	}
	target := "+351910000000"
	if p.noTarget {
		target = ""
	}
	return core.NewCoordinator(core.CoordinatorDeps{
		Scoping:   core.NewScopingAgent(p.llm, logger),
		General:   core.NewGeneralAgent(p.llm, p.search, logger),
		Research:  core.NewResearchAgent(p.llm, p.search, nil, logger),
		Mapping:   core.NewMappingAgent(p.geo, logger),
		Local:     core.NewLocalAgent(p.poi, logger),
		Community: core.NewCommunityAgent(p.llm, p.search, logger),
		Negotiator: core.NewNegotiationAgent(p.llm, p.search, p.phone, core.NegotiationConfig{
			TargetNumber: target,
			PollInterval: time.Millisecond,
			CallDeadline: 2 * time.Second,
		}, logger),
		Sessions: sessions,
		Metrics:  telemetry.New(logger),
		Logger:   logger,
	})
}
