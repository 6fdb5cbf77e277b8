package core

import (
	"context"
	"strings"
	"testing"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
)

func execCommunity(t *testing.T, gateway LLM, search SearchProvider, location string) (*models.CommunityReport, error) {
	t.Helper()
	agent := NewCommunityAgent(gateway, search, discardLogger())
	resp, err := agent.Execute(context.Background(), NewRequest("s", AgentCommunity, CommunityInput{Location: location}))
	if err != nil {
		return nil, err
	}
	out, ok := resp.Payload.(CommunityOutput)
	if !ok {
		t.Fatalf("payload is %T, want CommunityOutput", resp.Payload)
	}
	return out.Report, nil
}

func snippetSearch(queries *[]string) *stubSearch {
	return &stubSearch{searchFn: func(_ context.Context, query, _ string) ([]models.SearchHit, error) {
		*queries = append(*queries, query)
		return []models.SearchHit{{Title: "Faro em notícias", URL: "https://observador.pt/faro", Snippet: "Obras no centro."}}, nil
	}}
}

func TestCommunityProfileRunsThreeSearches(t *testing.T) {
	t.Parallel()

	doc := `{
		"location": "Faro",
		"overall_score": 7.4,
		"overall_explanation": "Calm and well served.",
		"safety_score": 7.8,
		"school_rating": 7.0,
		"positive_stories": [{"title": "Nova ciclovia", "summary": "Liga a baixa à universidade."}],
		"negative_stories": [],
		"price_per_m2": 2200,
		"average_size_m2": 98
	}`
	var queries []string
	report, err := execCommunity(t, &stubLLM{jsonFn: answerJSON(doc)}, snippetSearch(&queries), "Faro")
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}

	if len(queries) != 3 {
		t.Fatalf("issued %d searches, want news + schools + housing", len(queries))
	}
	wantTopics := []string{"local news", "schools", "housing prices"}
	for i, topic := range wantTopics {
		if !strings.Contains(queries[i], "Faro") || !strings.Contains(queries[i], topic) {
			t.Errorf("query %d = %q, want it to cover %s for Faro", i, queries[i], topic)
		}
	}

	if report == nil {
		t.Fatal("report is nil")
	}
	if report.Location != "Faro" || report.OverallScore != 7.4 {
		t.Errorf("report = %+v, want the scripted profile", report)
	}
	if len(report.PositiveStories) != 1 || report.NegativeStories == nil {
		t.Errorf("stories = %+v / %+v, want one positive and an empty negative list", report.PositiveStories, report.NegativeStories)
	}
	if report.PricePerM2 != 2200 || report.AverageSizeM2 != 98 {
		t.Errorf("housing averages = %v / %v", report.PricePerM2, report.AverageSizeM2)
	}
}

func TestCommunityClampsScores(t *testing.T) {
	t.Parallel()

	doc := `{"location": "Faro", "overall_score": 12, "safety_score": -3, "school_rating": 10.5}`
	var queries []string
	report, err := execCommunity(t, &stubLLM{jsonFn: answerJSON(doc)}, snippetSearch(&queries), "Faro")
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if report.OverallScore != 10 {
		t.Errorf("overall = %v, want clamped to 10", report.OverallScore)
	}
	if report.SafetyScore != 0 {
		t.Errorf("safety = %v, want clamped to 0", report.SafetyScore)
	}
	if report.SchoolRating != 10 {
		t.Errorf("school = %v, want clamped to 10", report.SchoolRating)
	}
}

func TestCommunityFillsMissingLocationAndStories(t *testing.T) {
	t.Parallel()

	doc := `{"overall_score": 6.0, "overall_explanation": "Thin sources."}`
	var queries []string
	report, err := execCommunity(t, &stubLLM{jsonFn: answerJSON(doc)}, snippetSearch(&queries), "Olhão")
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if report.Location != "Olhão" {
		t.Errorf("location = %q, want the searched area filled in", report.Location)
	}
	if report.PositiveStories == nil || report.NegativeStories == nil {
		t.Error("stories must decode as empty lists, not null")
	}
}

func TestCommunitySearchFailureSurfaces(t *testing.T) {
	t.Parallel()

	calls := 0
	search := &stubSearch{searchFn: func(_ context.Context, _, _ string) ([]models.SearchHit, error) {
		calls++
		if calls == 2 {
			return nil, models.E(models.KindUpstreamTransient, "websearch", "search provider unreachable", nil)
		}
		return []models.SearchHit{{Title: "ok", URL: "https://example.pt", Snippet: "ok"}}, nil
	}}

	_, err := execCommunity(t, &stubLLM{}, search, "Faro")
	if err == nil {
		t.Fatal("want the failed schools search to surface")
	}
	if models.KindOf(err) != models.KindUpstreamTransient {
		t.Errorf("kind = %v, want the upstream kind preserved", models.KindOf(err))
	}
}

func TestCommunityGatewayFailureSurfaces(t *testing.T) {
	t.Parallel()

	var queries []string
	gateway := &stubLLM{jsonFn: func(_ context.Context, _ llm.Request, _ any) error {
		return models.E(models.KindParse, "llm", "unrepairable JSON", nil)
	}}
	_, err := execCommunity(t, gateway, snippetSearch(&queries), "Faro")
	if err == nil {
		t.Fatal("want the gateway failure to surface")
	}
	if models.KindOf(err) != models.KindParse {
		t.Errorf("kind = %v, want parse", models.KindOf(err))
	}
}

func TestCommunityBlankLocationRejected(t *testing.T) {
	t.Parallel()

	_, err := execCommunity(t, &stubLLM{}, &stubSearch{}, "   ")
	if models.KindOf(err) != models.KindLogic {
		t.Fatalf("kind = %v, want a logic error for a blank location", models.KindOf(err))
	}
}
