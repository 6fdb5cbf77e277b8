package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rfvalente/morada/internal/helpers"
	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/tools/telephony"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultCallDeadline = 10 * time.Minute
	proberHits          = 3
	neutralLeverage     = 5.0
	maxProbeChars       = 12000
)

// proberInclude lists the portals worth probing for listing history.
var proberInclude = []string{
	"idealista.pt", "zillow.com", "redfin.com",
	"realtor.com", "trulia.com", "rightmove.co.uk",
}

// NegotiationConfig tunes the call flow. Zero values fall back to defaults;
// TargetNumber has no default and is required at call time.
type NegotiationConfig struct {
	TargetNumber string
	PollInterval time.Duration
	CallDeadline time.Duration
}

// NegotiationAgent runs the synchronous call pipeline: probe the address for
// leverage, brief the voice assistant, place the call, and poll it to a
// terminal state.
type NegotiationAgent struct {
	gateway LLM
	search  SearchProvider
	phone   Telephony
	include map[string]bool
	cfg     NegotiationConfig
	logger  *log.Logger
}

func NewNegotiationAgent(gateway LLM, search SearchProvider, phone Telephony, cfg NegotiationConfig, logger *log.Logger) *NegotiationAgent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CallDeadline <= 0 {
		cfg.CallDeadline = defaultCallDeadline
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[NEGOTIATE] ", log.LstdFlags)
	}
	include := make(map[string]bool, len(proberInclude))
	for _, d := range proberInclude {
		include[d] = true
	}
	return &NegotiationAgent{gateway: gateway, search: search, phone: phone, include: include, cfg: cfg, logger: logger}
}

func (a *NegotiationAgent) Name() string { return AgentNegotiation }

func (a *NegotiationAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(NegotiationInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "negotiation", "unexpected payload type", nil)
	}
	record, err := a.negotiate(ctx, in)
	if err != nil {
		return Envelope{}, err
	}
	return req.Respond(NegotiationOutput{Record: record}), nil
}

func (a *NegotiationAgent) negotiate(ctx context.Context, in NegotiationInput) (models.NegotiationRecord, error) {
	const op = "negotiation"
	if strings.TrimSpace(in.Address) == "" {
		return models.NegotiationRecord{}, models.E(models.KindLogic, op, "address is required", nil)
	}
	if strings.TrimSpace(a.cfg.TargetNumber) == "" {
		return models.NegotiationRecord{}, models.E(models.KindConfiguration, op, "TELEPHONY_TARGET_NUMBER is not set", nil)
	}

	findings, assessment, leverage := a.probe(ctx, in.Address)

	brief := callBrief(in, findings, assessment, leverage)
	first := callFirstMessage(in.Name, in.Address)

	if err := a.phone.UpdateAssistant(ctx, brief, first); err != nil {
		return models.NegotiationRecord{}, err
	}
	callID, err := a.phone.CreateCall(ctx, a.cfg.TargetNumber)
	if err != nil {
		return models.NegotiationRecord{}, err
	}
	a.logger.Printf("call %s created for %s (leverage %.1f)", callID, in.Address, leverage)

	final, err := a.awaitCall(ctx, callID)
	if err != nil {
		return models.NegotiationRecord{}, err
	}

	summary := strings.TrimSpace(final.Summary)
	if summary == "" {
		summary = strings.TrimSpace(final.Transcript)
	}
	lines := make([]string, 0, len(findings))
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ReplaceAll(f.Category, "_", " "), f.Summary))
	}

	return models.NegotiationRecord{
		Address:       in.Address,
		Name:          in.Name,
		Email:         in.Email,
		Brief:         brief,
		Findings:      lines,
		LeverageScore: leverage,
		CallSummary:   summary,
		Success:       final.Status == telephony.StatusEnded,
	}, nil
}

type proberFinding struct {
	Category      string  `json:"category"`
	Summary       string  `json:"summary"`
	LeverageScore float64 `json:"leverage_score"`
}

type proberReply struct {
	Findings          []proberFinding `json:"findings"`
	OverallAssessment string          `json:"overall_assessment"`
	LeverageScore     float64         `json:"leverage_score"`
}

// probe runs the compressed research pass. It never fails the operation:
// anything going wrong degrades to empty findings at neutral leverage.
func (a *NegotiationAgent) probe(ctx context.Context, address string) ([]proberFinding, string, float64) {
	const fallback = "No relevant information found"

	query := fmt.Sprintf("%q property listing realtor agent contact OR %q real estate for sale rent", address, address)
	hits, err := a.search.Search(ctx, query, "google")
	if err != nil {
		a.logger.Printf("probe search failed: %v", err)
		return nil, fallback, neutralLeverage
	}

	picked := make([]models.SearchHit, 0, proberHits)
	for _, h := range hits {
		if !a.include[helpers.RegisteredDomain(h.URL)] {
			continue
		}
		picked = append(picked, h)
		if len(picked) == proberHits {
			break
		}
	}
	if len(picked) == 0 {
		if len(hits) > proberHits {
			hits = hits[:proberHits]
		}
		picked = hits
	}
	if len(picked) == 0 {
		return nil, fallback, neutralLeverage
	}

	var pageURL, pageText string
	for _, h := range picked {
		text, err := a.search.ScrapeMarkdown(ctx, h.URL)
		if err != nil {
			a.logger.Printf("probe scrape %s failed: %v", h.URL, err)
			continue
		}
		pageURL, pageText = h.URL, text
		break
	}
	if len(pageText) > maxProbeChars {
		pageText = pageText[:maxProbeChars]
	}

	system, user := proberPrompt(address, picked, pageURL, pageText)
	var reply proberReply
	if err := a.gateway.CompleteJSON(ctx, llm.Request{
		System:      system,
		Prompt:      user,
		Temperature: 0.2,
		MaxTokens:   800,
	}, &reply); err != nil {
		a.logger.Printf("probe analysis failed: %v", err)
		return nil, fallback, neutralLeverage
	}

	if reply.LeverageScore < 0 {
		reply.LeverageScore = 0
	}
	if reply.LeverageScore > 10 {
		reply.LeverageScore = 10
	}
	if strings.TrimSpace(reply.OverallAssessment) == "" {
		reply.OverallAssessment = fallback
	}
	return reply.Findings, reply.OverallAssessment, reply.LeverageScore
}

// awaitCall polls the provider until the call is terminal. Poll errors are
// tolerated; hitting the deadline marks the call timed out.
func (a *NegotiationAgent) awaitCall(ctx context.Context, id string) (telephony.Call, error) {
	const op = "negotiation.await"

	deadline := time.NewTimer(a.cfg.CallDeadline)
	defer deadline.Stop()
	tick := time.NewTicker(a.cfg.PollInterval)
	defer tick.Stop()

	last := telephony.Call{ID: id, Status: telephony.StatusTimedOut}
	for {
		select {
		case <-ctx.Done():
			return last, models.E(models.KindTimeout, op, "cancelled while waiting for the call", ctx.Err())
		case <-deadline.C:
			a.logger.Printf("call %s not terminal after %v", id, a.cfg.CallDeadline)
			last.Status = telephony.StatusTimedOut
			return last, nil
		case <-tick.C:
			call, err := a.phone.GetCall(ctx, id)
			if err != nil {
				a.logger.Printf("poll call %s: %v", id, err)
				continue
			}
			if call.Terminal() {
				return call, nil
			}
			last = call
		}
	}
}
