package core

import (
	"context"

	"github.com/google/uuid"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/session"
	"github.com/rfvalente/morada/tools/telephony"
)

// Kind distinguishes request and response envelopes.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Agent names, used in envelopes, logs and metrics.
const (
	AgentScoping     = "scoping"
	AgentGeneral     = "general"
	AgentResearch    = "research"
	AgentMapping     = "mapping"
	AgentLocal       = "local"
	AgentCommunity   = "community"
	AgentNegotiation = "negotiation"
)

// Envelope is the typed message exchanged between the coordinator and an
// agent. Envelopes are immutable once built; responses are new values
// correlated by ID.
type Envelope struct {
	ID        string
	SessionID string
	Kind      Kind
	Agent     string
	Payload   any
	Err       error
}

// NewRequest builds a request envelope for the named agent.
func NewRequest(sessionID, agent string, payload any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      KindRequest,
		Agent:     agent,
		Payload:   payload,
	}
}

// Respond builds the success response correlated with e.
func (e Envelope) Respond(payload any) Envelope {
	return Envelope{ID: e.ID, SessionID: e.SessionID, Kind: KindResponse, Agent: e.Agent, Payload: payload}
}

// Fail builds the failure response correlated with e.
func (e Envelope) Fail(err error) Envelope {
	return Envelope{ID: e.ID, SessionID: e.SessionID, Kind: KindResponse, Agent: e.Agent, Err: err}
}

// Agent is one pipeline stage with a single request/response surface.
type Agent interface {
	Name() string
	// Execute handles one request envelope. Errors are returned, not
	// embedded; the coordinator folds them into a failure envelope.
	Execute(ctx context.Context, req Envelope) (Envelope, error)
}

// LLM is the chat-completion surface agents depend on.
type LLM interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	CompleteJSON(ctx context.Context, req llm.Request, out any) error
}

// SearchProvider issues web searches and page scrapes.
type SearchProvider interface {
	Search(ctx context.Context, query, engine string) ([]models.SearchHit, error)
	ScrapeMarkdown(ctx context.Context, url string) (string, error)
}

// Geocoder forward-geocodes free text.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (models.GeocodeResult, error)
}

// POIProvider lists points of interest around a coordinate.
type POIProvider interface {
	PoisNear(ctx context.Context, lat, lon, radiusM float64, categories []models.POICategory) ([]models.POI, error)
}

// Telephony drives the outbound voice-call provider.
type Telephony interface {
	UpdateAssistant(ctx context.Context, systemPrompt, firstMessage string) error
	CreateCall(ctx context.Context, number string) (string, error)
	GetCall(ctx context.Context, id string) (telephony.Call, error)
}

// ScopeInput asks the scoping agent to fold one user turn into the
// requirements gathered so far.
type ScopeInput struct {
	Message    string
	Prior      models.Requirements
	Transcript []session.Turn
}

// ScopeOutput is the scoping agent's verdict for one turn.
type ScopeOutput struct {
	Requirements models.Requirements
	Complete     bool
	Message      string
	// General-question escape hatch: the user asked about an area rather
	// than stating requirements.
	IsGeneralQuestion bool
	GeneralQuestion   string
	CommunityName     string
}

// GeneralInput carries an area question to the general agent.
type GeneralInput struct {
	Question string
	City     string // last searched city, may be empty
}

type GeneralOutput struct {
	Answer string
}

// ResearchInput starts property discovery for completed requirements.
type ResearchInput struct {
	Requirements models.Requirements
}

type ResearchOutput struct {
	Candidates []models.Candidate
	Summary    string
}

type MapInput struct {
	Candidates []models.Candidate
}

type MapOutput struct {
	Geocoded []models.GeoCandidate
}

type LocalInput struct {
	Geocoded []models.GeoCandidate
}

type LocalOutput struct {
	Enriched []models.EnrichedCandidate
}

// CommunityInput names the area to profile.
type CommunityInput struct {
	Location string
}

type CommunityOutput struct {
	Report *models.CommunityReport
}

// NegotiationInput mirrors the negotiate HTTP request.
type NegotiationInput struct {
	Address        string
	Name           string
	Email          string
	AdditionalInfo string
}

type NegotiationOutput struct {
	Record models.NegotiationRecord
}

// GatherData is the chat payload while requirements are still being
// gathered, and for general-question answers.
type GatherData struct {
	Message    string `json:"message"`
	IsComplete bool   `json:"is_complete"`
}

// ResultData is the chat payload for a completed search.
type ResultData struct {
	Requirements         models.Requirements        `json:"requirements"`
	Properties           []models.EnrichedCandidate `json:"properties"`
	SearchSummary        string                     `json:"search_summary"`
	TotalFound           int                        `json:"total_found"`
	RawSearchResults     []models.EnrichedCandidate `json:"raw_search_results"`
	TopResultCoordinates *models.TopCoordinates     `json:"top_result_coordinates,omitempty"`
	CommunityAnalysis    *models.CommunityReport    `json:"community_analysis,omitempty"`
}

// ChatResult is what the coordinator hands the HTTP layer for one turn. Data
// is either GatherData or ResultData.
type ChatResult struct {
	SessionID string
	Data      any
}
