package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
)

// CommunityAgent profiles the neighborhood of the top candidate from three
// scoped searches. Any failure surfaces as an error; the coordinator then
// omits the report rather than inventing one.
type CommunityAgent struct {
	gateway LLM
	search  SearchProvider
	logger  *log.Logger
}

func NewCommunityAgent(gateway LLM, search SearchProvider, logger *log.Logger) *CommunityAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMMUNITY] ", log.LstdFlags)
	}
	return &CommunityAgent{gateway: gateway, search: search, logger: logger}
}

func (a *CommunityAgent) Name() string { return AgentCommunity }

func (a *CommunityAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(CommunityInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "community", "unexpected payload type", nil)
	}
	report, err := a.profile(ctx, in.Location)
	if err != nil {
		return Envelope{}, err
	}
	return req.Respond(CommunityOutput{Report: report}), nil
}

func (a *CommunityAgent) profile(ctx context.Context, location string) (*models.CommunityReport, error) {
	const op = "community.profile"
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, models.E(models.KindLogic, op, "no location to profile", nil)
	}

	news, err := a.search.Search(ctx, fmt.Sprintf("%s local news community safety crime development", location), "google")
	if err != nil {
		return nil, err
	}
	schools, err := a.search.Search(ctx, fmt.Sprintf("%s schools ratings education quality", location), "google")
	if err != nil {
		return nil, err
	}
	housing, err := a.search.Search(ctx, fmt.Sprintf("%s housing prices per square meter average home size", location), "google")
	if err != nil {
		return nil, err
	}

	system, user := communityPrompt(location, news, schools, housing)
	var report models.CommunityReport
	if err := a.gateway.CompleteJSON(ctx, llm.Request{
		System:      system,
		Prompt:      user,
		Temperature: 0.2,
		MaxTokens:   900,
	}, &report); err != nil {
		return nil, err
	}

	if report.Location == "" {
		report.Location = location
	}
	report.OverallScore = a.clampScore("overall_score", report.OverallScore)
	report.SafetyScore = a.clampScore("safety_score", report.SafetyScore)
	report.SchoolRating = a.clampScore("school_rating", report.SchoolRating)
	if report.PositiveStories == nil {
		report.PositiveStories = []models.Story{}
	}
	if report.NegativeStories == nil {
		report.NegativeStories = []models.Story{}
	}
	return &report, nil
}

func (a *CommunityAgent) clampScore(name string, v float64) float64 {
	switch {
	case v < 0:
		a.logger.Printf("clamping %s %.2f to 0", name, v)
		return 0
	case v > 10:
		a.logger.Printf("clamping %s %.2f to 10", name, v)
		return 10
	default:
		return v
	}
}
