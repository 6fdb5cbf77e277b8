package core

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/tools/telephony"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type stubLLM struct {
	completeFn func(ctx context.Context, req llm.Request) (string, error)
	jsonFn     func(ctx context.Context, req llm.Request, out any) error
}

func (s *stubLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if s.completeFn == nil {
		return "", models.E(models.KindLogic, "stub", "unexpected Complete call", nil)
	}
	return s.completeFn(ctx, req)
}

func (s *stubLLM) CompleteJSON(ctx context.Context, req llm.Request, out any) error {
	if s.jsonFn == nil {
		return models.E(models.KindLogic, "stub", "unexpected CompleteJSON call", nil)
	}
	return s.jsonFn(ctx, req, out)
}

// answerJSON builds a jsonFn that decodes the same document every call.
func answerJSON(doc string) func(context.Context, llm.Request, any) error {
	return func(_ context.Context, _ llm.Request, out any) error {
		return json.Unmarshal([]byte(doc), out)
	}
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
	return s.fn(ctx, query)
}

type stubPOI struct {
	fn func(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error)
}

func (s *stubPOI) PoisNear(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error) {
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

// stubAgent lets coordinator tests script a whole stage.
type stubAgent struct {
	name string
	fn   func(ctx context.Context, req Envelope) (Envelope, error)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	return s.fn(ctx, req)
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }
