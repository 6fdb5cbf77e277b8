package core

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/session"
	"github.com/rfvalente/morada/session/inmemory"
)

func respondWith(name string, payload any) *stubAgent {
	return &stubAgent{name: name, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		return req.Respond(payload), nil
	}}
}

func failWith(name string, err error) *stubAgent {
	return &stubAgent{name: name, fn: func(_ context.Context, _ Envelope) (Envelope, error) {
		return Envelope{}, err
	}}
}

func notCalled(t *testing.T, name string) *stubAgent {
	return &stubAgent{name: name, fn: func(_ context.Context, _ Envelope) (Envelope, error) {
		t.Errorf("%s must not run in this scenario", name)
		return Envelope{}, models.E(models.KindLogic, name, "unexpected dispatch", nil)
	}}
}

// chatStages wires the pipeline for one test; nil stages fail loudly when
// dispatched.
type chatStages struct {
	scoping    Agent
	general    Agent
	research   Agent
	mapping    Agent
	local      Agent
	community  Agent
	negotiator Agent
}

func newChatCoordinator(t *testing.T, store session.Store, budgets Budgets, s chatStages) *Coordinator {
	t.Helper()
	fill := func(a Agent, name string) Agent {
		if a != nil {
			return a
		}
		return notCalled(t, name)
	}
	return NewCoordinator(CoordinatorDeps{
		Scoping:    fill(s.scoping, AgentScoping),
		General:    fill(s.general, AgentGeneral),
		Research:   fill(s.research, AgentResearch),
		Mapping:    fill(s.mapping, AgentMapping),
		Local:      fill(s.local, AgentLocal),
		Community:  fill(s.community, AgentCommunity),
		Negotiator: fill(s.negotiator, AgentNegotiation),
		Sessions:   store,
		Budgets:    budgets,
		Logger:     discardLogger(),
	})
}

func faroRequirements() models.Requirements {
	return models.Requirements{Location: "Faro", Bedrooms: intp(2), BudgetMax: floatp(900), IsRent: true}
}

func rankedCandidates() []models.Candidate {
	return []models.Candidate{
		{Title: "T2 na Rua A", Address: "Rua A 1", City: "Faro", URL: "https://www.idealista.pt/imovel/1001", ImageURL: "https://img.idealista.pt/1001.jpg", Price: models.Price{Amount: 700, Currency: "EUR", IsRent: true}},
		{Title: "T2 na Rua B", Address: "Rua B 2", City: "Faro", URL: "https://www.idealista.pt/imovel/1002", Price: models.Price{Amount: 850, Currency: "EUR", IsRent: true}},
	}
}

func geocodedFrom(cands []models.Candidate) []models.GeoCandidate {
	out := make([]models.GeoCandidate, len(cands))
	for i, c := range cands {
		out[i] = models.GeoCandidate{Candidate: c, Lat: 37.01 + float64(i)/100, Lon: -7.93, Confidence: 0.9}
	}
	return out
}

func faroReport() *models.CommunityReport {
	return &models.CommunityReport{
		Location:           "Faro",
		OverallScore:       7.4,
		OverallExplanation: "Calm and well served.",
		PositiveStories:    []models.Story{},
		NegativeStories:    []models.Story{},
	}
}

func TestChatGatheringTurnStopsBeforeResearch(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{
		Requirements: models.Requirements{Location: "Faro"},
		Complete:     false,
		Message:      "Qual é o orçamento máximo?",
	})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping})

	res, err := coord.Chat(context.Background(), "chat-gather", "Quero viver em Faro")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	data, ok := res.Data.(GatherData)
	if !ok {
		t.Fatalf("data is %T, want GatherData", res.Data)
	}
	if data.Message != "Qual é o orçamento máximo?" || data.IsComplete {
		t.Errorf("data = %+v, want the scoping question", data)
	}

	sess, ok := store.Get("chat-gather")
	if !ok {
		t.Fatal("session missing")
	}
	req, complete := sess.Requirements()
	if complete || req.Location != "Faro" {
		t.Errorf("stored requirements = %+v complete=%t, want partial Faro", req, complete)
	}
	turns := sess.Transcript()
	if len(turns) != 2 || turns[1].Content != data.Message {
		t.Errorf("transcript = %+v, want user turn plus the question", turns)
	}
}

func TestChatScopingFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := failWith(AgentScoping, models.E(models.KindUpstreamAuth, "llm", "401 from provider", nil))
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping})

	res, err := coord.Chat(context.Background(), "chat-auth", "Olá")
	if models.KindOf(err) != models.KindUpstreamAuth {
		t.Fatalf("kind = %v, want the auth failure surfaced", models.KindOf(err))
	}
	if res.SessionID == "" {
		t.Error("failed turns still identify the session")
	}

	sess, _ := store.Get("chat-auth")
	if turns := sess.Transcript(); len(turns) != 1 {
		t.Errorf("transcript = %+v, want only the user turn on a fatal error", turns)
	}
}

func TestChatScopingPayloadMismatchIsLogicError(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: respondWith(AgentScoping, "not a scope output")})

	_, err := coord.Chat(context.Background(), "chat-bad-payload", "Olá")
	if models.KindOf(err) != models.KindLogic {
		t.Fatalf("kind = %v, want logic", models.KindOf(err))
	}
}

func TestChatGeneralQuestionUsesLastCity(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	store.Ensure("chat-general").SetLastCity("Tavira")

	scoping := respondWith(AgentScoping, ScopeOutput{
		IsGeneralQuestion: true,
		GeneralQuestion:   "Como são as escolas?",
	})
	general := &stubAgent{name: AgentGeneral, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(GeneralInput)
		if !ok {
			t.Fatalf("general payload is %T", req.Payload)
		}
		if in.Question != "Como são as escolas?" || in.City != "Tavira" {
			t.Errorf("general input = %+v, want the question plus the remembered city", in)
		}
		return req.Respond(GeneralOutput{Answer: "As escolas públicas têm boa reputação."}), nil
	}}
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping, general: general})

	res, err := coord.Chat(context.Background(), "chat-general", "E as escolas?")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	data, ok := res.Data.(GatherData)
	if !ok {
		t.Fatalf("data is %T, want GatherData", res.Data)
	}
	if data.Message != "As escolas públicas têm boa reputação." {
		t.Errorf("message = %q", data.Message)
	}

	sess, _ := store.Get("chat-general")
	if turns := sess.Transcript(); len(turns) != 2 || turns[1].Content != data.Message {
		t.Errorf("transcript = %+v, want the answer appended", turns)
	}
}

func TestChatFullSearchAssemblesResult(t *testing.T) {
	t.Parallel()

	cands := rankedCandidates()
	geocoded := geocodedFrom(cands)
	enriched := []models.EnrichedCandidate{
		{GeoCandidate: geocoded[0], POIs: []models.POI{{Name: "Escola", Category: models.POISchool, DistanceMeters: 300}}},
		{GeoCandidate: geocoded[1], POIs: []models.POI{}},
	}

	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := &stubAgent{name: AgentResearch, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(ResearchInput)
		if !ok {
			t.Fatalf("research payload is %T", req.Payload)
		}
		if in.Requirements.Location != "Faro" {
			t.Errorf("research got requirements %+v", in.Requirements)
		}
		return req.Respond(ResearchOutput{Candidates: cands, Summary: "Dois T2 em Faro; o da Rua A destaca-se."}), nil
	}}
	mapping := &stubAgent{name: AgentMapping, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(MapInput)
		if !ok {
			t.Fatalf("mapping payload is %T", req.Payload)
		}
		if len(in.Candidates) != 2 || in.Candidates[0].URL != cands[0].URL {
			t.Errorf("mapping got %+v, want the research candidates in order", in.Candidates)
		}
		return req.Respond(MapOutput{Geocoded: geocoded}), nil
	}}
	local := &stubAgent{name: AgentLocal, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(LocalInput)
		if !ok {
			t.Fatalf("local payload is %T", req.Payload)
		}
		if len(in.Geocoded) != 2 {
			t.Errorf("local got %d geocoded candidates, want 2", len(in.Geocoded))
		}
		return req.Respond(LocalOutput{Enriched: enriched}), nil
	}}
	community := &stubAgent{name: AgentCommunity, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(CommunityInput)
		if !ok {
			t.Errorf("community payload is %T", req.Payload)
			return Envelope{}, models.E(models.KindLogic, "community", "unexpected payload", nil)
		}
		if in.Location != "Faro" {
			t.Errorf("community location = %q, want the top candidate's city", in.Location)
		}
		return req.Respond(CommunityOutput{Report: faroReport()}), nil
	}}

	store := inmemory.New(64, discardLogger())
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{
		scoping: scoping, research: research, mapping: mapping, local: local, community: community,
	})

	res, err := coord.Chat(context.Background(), "chat-full", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	data, ok := res.Data.(ResultData)
	if !ok {
		t.Fatalf("data is %T, want ResultData", res.Data)
	}

	if data.TotalFound != 2 || len(data.Properties) != 2 {
		t.Fatalf("total_found = %d with %d properties, want 2", data.TotalFound, len(data.Properties))
	}
	if data.Properties[0].URL != cands[0].URL || data.Properties[1].URL != cands[1].URL {
		t.Error("property order does not follow the research ranking")
	}
	if data.SearchSummary != "Dois T2 em Faro; o da Rua A destaca-se." {
		t.Errorf("summary = %q, want the research summary untouched", data.SearchSummary)
	}
	top := data.TopResultCoordinates
	if top == nil || top.Latitude != geocoded[0].Lat || top.Address != "Rua A 1" {
		t.Errorf("top coordinates = %+v", top)
	}
	if top.ImageURL != "https://img.idealista.pt/1001.jpg" {
		t.Errorf("top image = %q", top.ImageURL)
	}
	if data.CommunityAnalysis == nil || data.CommunityAnalysis.Location != "Faro" {
		t.Errorf("community = %+v", data.CommunityAnalysis)
	}
	if len(data.RawSearchResults) != 2 {
		t.Errorf("raw results = %d, want 2", len(data.RawSearchResults))
	}

	sess, _ := store.Get("chat-full")
	if sess.LastCity() != "Faro" {
		t.Errorf("last city = %q", sess.LastCity())
	}
	if last := sess.LastResult(); last == nil || last.TotalFound != 2 || last.Community == nil {
		t.Errorf("stored result = %+v", last)
	}
	if turns := sess.Transcript(); len(turns) != 2 || turns[1].Content != data.SearchSummary {
		t.Errorf("transcript = %+v", turns)
	}
}

func TestChatResearchOutageYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := failWith(AgentResearch, models.E(models.KindUpstreamTransient, "websearch", "search provider unreachable", nil))
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping, research: research})

	res, err := coord.Chat(context.Background(), "chat-outage", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("outages must degrade, not fail: %v", err)
	}
	data, ok := res.Data.(ResultData)
	if !ok {
		t.Fatalf("data is %T, want ResultData", res.Data)
	}
	if data.TotalFound != 0 || len(data.Properties) != 0 {
		t.Errorf("data = %+v, want an empty result", data)
	}
	if !strings.Contains(data.SearchSummary, "unavailable right now") {
		t.Errorf("summary = %q, want the outage wording", data.SearchSummary)
	}

	sess, _ := store.Get("chat-outage")
	if req, complete := sess.Requirements(); !complete || req.Location != "Faro" {
		t.Errorf("requirements = %+v complete=%t, must survive the outage", req, complete)
	}
}

func TestChatResearchConfigurationFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := failWith(AgentResearch, models.E(models.KindConfiguration, "websearch", "SEARCH_PROVIDER_API_KEY is not set", nil))
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping, research: research})

	_, err := coord.Chat(context.Background(), "chat-conf", "T2 em Faro até 900€")
	if models.KindOf(err) != models.KindConfiguration {
		t.Fatalf("kind = %v, want configuration surfaced for remediation", models.KindOf(err))
	}
}

func TestChatNoMatchesNamesTheArea(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := respondWith(AgentResearch, ResearchOutput{})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping, research: research})

	res, err := coord.Chat(context.Background(), "chat-none", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	data := res.Data.(ResultData)
	if !strings.Contains(data.SearchSummary, "No matching properties found in Faro") {
		t.Errorf("summary = %q", data.SearchSummary)
	}
	if data.Properties == nil || data.RawSearchResults == nil {
		t.Error("empty result lists must not be null")
	}
}

func TestChatMappingFailureWarnsAndKeepsCommunity(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := respondWith(AgentResearch, ResearchOutput{Candidates: rankedCandidates(), Summary: "Dois T2 em Faro."})
	mapping := failWith(AgentMapping, models.E(models.KindUpstreamTransient, "geocode", "provider unreachable", nil))
	local := respondWith(AgentLocal, LocalOutput{})
	community := respondWith(AgentCommunity, CommunityOutput{Report: faroReport()})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{
		scoping: scoping, research: research, mapping: mapping, local: local, community: community,
	})

	res, err := coord.Chat(context.Background(), "chat-nomap", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("mapping failures must degrade: %v", err)
	}
	data := res.Data.(ResultData)
	if !strings.Contains(data.SearchSummary, "property mapping did not finish") {
		t.Errorf("summary = %q, want the mapping warning", data.SearchSummary)
	}
	if len(data.Properties) != 0 || data.TopResultCoordinates != nil {
		t.Errorf("data = %+v, want no mapped properties", data)
	}
	if data.CommunityAnalysis == nil {
		t.Error("community analysis must survive a mapping failure")
	}
}

func TestChatLocalFailureFallsBackToGeocoded(t *testing.T) {
	t.Parallel()

	cands := rankedCandidates()
	geocoded := geocodedFrom(cands)

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := respondWith(AgentResearch, ResearchOutput{Candidates: cands, Summary: "Dois T2 em Faro."})
	mapping := respondWith(AgentMapping, MapOutput{Geocoded: geocoded})
	local := failWith(AgentLocal, models.E(models.KindUpstreamTransient, "places", "provider unreachable", nil))
	community := respondWith(AgentCommunity, CommunityOutput{Report: faroReport()})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{
		scoping: scoping, research: research, mapping: mapping, local: local, community: community,
	})

	res, err := coord.Chat(context.Background(), "chat-nopoi", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("local failures must degrade: %v", err)
	}
	data := res.Data.(ResultData)
	if !strings.Contains(data.SearchSummary, "nearby places lookup did not finish") {
		t.Errorf("summary = %q, want the places warning", data.SearchSummary)
	}
	if len(data.Properties) != 2 {
		t.Fatalf("got %d properties, want the geocoded pair kept", len(data.Properties))
	}
	for i, p := range data.Properties {
		if len(p.POIs) != 0 || p.POIs == nil {
			t.Errorf("property %d POIs = %v, want an empty list", i, p.POIs)
		}
	}
	if data.TopResultCoordinates == nil || data.TopResultCoordinates.Latitude != geocoded[0].Lat {
		t.Errorf("top coordinates = %+v", data.TopResultCoordinates)
	}
}

func TestChatCommunityTimeoutWarns(t *testing.T) {
	t.Parallel()

	cands := rankedCandidates()
	geocoded := geocodedFrom(cands)

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := respondWith(AgentResearch, ResearchOutput{Candidates: cands, Summary: "Dois T2 em Faro."})
	mapping := respondWith(AgentMapping, MapOutput{Geocoded: geocoded})
	local := respondWith(AgentLocal, LocalOutput{Enriched: []models.EnrichedCandidate{
		{GeoCandidate: geocoded[0], POIs: []models.POI{}},
		{GeoCandidate: geocoded[1], POIs: []models.POI{}},
	}})
	community := &stubAgent{name: AgentCommunity, fn: func(ctx context.Context, _ Envelope) (Envelope, error) {
		<-ctx.Done()
		return Envelope{}, models.E(models.KindTimeout, "community.profile", "deadline exceeded", ctx.Err())
	}}
	coord := newChatCoordinator(t, store, Budgets{Community: 20 * time.Millisecond}, chatStages{
		scoping: scoping, research: research, mapping: mapping, local: local, community: community,
	})

	res, err := coord.Chat(context.Background(), "chat-slowcomm", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("community timeouts must degrade: %v", err)
	}
	data := res.Data.(ResultData)
	if !strings.Contains(data.SearchSummary, "community analysis did not finish") {
		t.Errorf("summary = %q, want the community warning", data.SearchSummary)
	}
	if data.CommunityAnalysis != nil {
		t.Error("timed-out community analysis must be omitted")
	}
	if len(data.Properties) != 2 {
		t.Errorf("got %d properties, want the search kept", len(data.Properties))
	}
}

func TestChatCommunityFailureOmitsReportSilently(t *testing.T) {
	t.Parallel()

	cands := rankedCandidates()
	geocoded := geocodedFrom(cands)

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true})
	research := respondWith(AgentResearch, ResearchOutput{Candidates: cands, Summary: "Dois T2 em Faro."})
	mapping := respondWith(AgentMapping, MapOutput{Geocoded: geocoded})
	local := respondWith(AgentLocal, LocalOutput{Enriched: []models.EnrichedCandidate{
		{GeoCandidate: geocoded[0], POIs: []models.POI{}},
		{GeoCandidate: geocoded[1], POIs: []models.POI{}},
	}})
	community := failWith(AgentCommunity, models.E(models.KindUpstreamTransient, "websearch", "search provider unreachable", nil))
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{
		scoping: scoping, research: research, mapping: mapping, local: local, community: community,
	})

	res, err := coord.Chat(context.Background(), "chat-nocomm", "T2 em Faro até 900€")
	if err != nil {
		t.Fatalf("community failures must degrade: %v", err)
	}
	data := res.Data.(ResultData)
	if data.SearchSummary != "Dois T2 em Faro." {
		t.Errorf("summary = %q, want no warning for a non-timeout community failure", data.SearchSummary)
	}
	if data.CommunityAnalysis != nil {
		t.Error("failed community analysis must be omitted")
	}
}

func TestChatCommunityPrefersScopedName(t *testing.T) {
	t.Parallel()

	cands := rankedCandidates()
	geocoded := geocodedFrom(cands)

	var asked string
	community := &stubAgent{name: AgentCommunity, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(CommunityInput)
		if !ok {
			t.Errorf("community payload is %T", req.Payload)
			return Envelope{}, models.E(models.KindLogic, "community", "unexpected payload", nil)
		}
		asked = in.Location
		return req.Respond(CommunityOutput{Report: faroReport()}), nil
	}}

	store := inmemory.New(64, discardLogger())
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{
		scoping:  respondWith(AgentScoping, ScopeOutput{Requirements: faroRequirements(), Complete: true, CommunityName: "Baixa de Faro"}),
		research: respondWith(AgentResearch, ResearchOutput{Candidates: cands, Summary: "Dois T2."}),
		mapping:  respondWith(AgentMapping, MapOutput{Geocoded: geocoded}),
		local: respondWith(AgentLocal, LocalOutput{Enriched: []models.EnrichedCandidate{
			{GeoCandidate: geocoded[0], POIs: []models.POI{}},
			{GeoCandidate: geocoded[1], POIs: []models.POI{}},
		}}),
		community: community,
	})

	if _, err := coord.Chat(context.Background(), "chat-scoped-comm", "T2 na baixa"); err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if asked != "Baixa de Faro" {
		t.Errorf("community profiled %q, want the neighborhood the user named", asked)
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Message: "Onde procura casa?"})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping})

	res, err := coord.Chat(context.Background(), "", "Olá")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if res.SessionID == "" {
		t.Error("session id was not generated")
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d sessions, want 1", store.Len())
	}
}

func TestChatConcurrentSameSessionKeepsAllTurns(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	scoping := respondWith(AgentScoping, ScopeOutput{Message: "Em que cidade?"})
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{scoping: scoping})

	var wg sync.WaitGroup
	for _, msg := range []string{"Quero um T2", "Com varanda"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			if _, err := coord.Chat(context.Background(), "chat-parallel", msg); err != nil {
				t.Errorf("parallel chat %q failed: %v", msg, err)
			}
		}(msg)
	}
	wg.Wait()

	sess, ok := store.Get("chat-parallel")
	if !ok {
		t.Fatal("session missing")
	}
	turns := sess.Transcript()
	if len(turns) != 4 {
		t.Fatalf("transcript has %d turns, want 4", len(turns))
	}
	var users, assistants int
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleUser:
			users++
		case session.RoleAssistant:
			assistants++
		}
	}
	if users != 2 || assistants != 2 {
		t.Errorf("turns = %d user / %d assistant, want 2 and 2", users, assistants)
	}
}

func TestNegotiateDelegatesToAgent(t *testing.T) {
	t.Parallel()

	want := models.NegotiationRecord{Address: "Rua das Flores 12", Success: true, CallSummary: "Viewing on Friday.", LeverageScore: 6.5}
	negotiator := &stubAgent{name: AgentNegotiation, fn: func(_ context.Context, req Envelope) (Envelope, error) {
		in, ok := req.Payload.(NegotiationInput)
		if !ok {
			t.Fatalf("negotiation payload is %T", req.Payload)
		}
		if in.Address != "Rua das Flores 12" {
			t.Errorf("address = %q", in.Address)
		}
		return req.Respond(NegotiationOutput{Record: want}), nil
	}}

	store := inmemory.New(64, discardLogger())
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{negotiator: negotiator})

	got, err := coord.Negotiate(context.Background(), NegotiationInput{Address: "Rua das Flores 12"})
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("record = %+v, want %+v", got, want)
	}
}

func TestNegotiateSurfacesAgentError(t *testing.T) {
	t.Parallel()

	store := inmemory.New(64, discardLogger())
	negotiator := failWith(AgentNegotiation, models.E(models.KindConfiguration, "negotiation", "TELEPHONY_TARGET_NUMBER is not set", nil))
	coord := newChatCoordinator(t, store, Budgets{}, chatStages{negotiator: negotiator})

	_, err := coord.Negotiate(context.Background(), NegotiationInput{Address: "Rua das Flores 12"})
	if models.KindOf(err) != models.KindConfiguration {
		t.Fatalf("kind = %v, want configuration", models.KindOf(err))
	}
}
