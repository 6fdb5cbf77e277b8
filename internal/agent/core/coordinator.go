package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rfvalente/morada/internal/agent/telemetry"
	"github.com/rfvalente/morada/internal/geo"
	"github.com/rfvalente/morada/models"
	"github.com/rfvalente/morada/session"
)

// Budgets are the per-request stage deadlines. The total budget caps the
// whole chat turn; stage budgets are carved out of it.
type Budgets struct {
	Total     time.Duration
	Research  time.Duration
	Mapping   time.Duration
	Local     time.Duration
	Community time.Duration
}

var DefaultBudgets = Budgets{
	Total:     90 * time.Second,
	Research:  60 * time.Second,
	Mapping:   20 * time.Second,
	Local:     15 * time.Second,
	Community: 30 * time.Second,
}

func (b Budgets) withDefaults() Budgets {
	d := DefaultBudgets
	if b.Total > 0 {
		d.Total = b.Total
	}
	if b.Research > 0 {
		d.Research = b.Research
	}
	if b.Mapping > 0 {
		d.Mapping = b.Mapping
	}
	if b.Local > 0 {
		d.Local = b.Local
	}
	if b.Community > 0 {
		d.Community = b.Community
	}
	return d
}

// Coordinator drives the chat and negotiation pipelines. Agents are wired in
// as typed request/response stages; the coordinator owns session access,
// stage deadlines, and assembly of partial results.
type Coordinator struct {
	scoping    Agent
	general    Agent
	research   Agent
	mapping    Agent
	local      Agent
	community  Agent
	negotiator Agent
	sessions   session.Store
	metrics    *telemetry.Telemetry
	budgets    Budgets
	logger     *log.Logger
}

// CoordinatorDeps wires a Coordinator. Metrics and Logger may be nil.
type CoordinatorDeps struct {
	Scoping    Agent
	General    Agent
	Research   Agent
	Mapping    Agent
	Local      Agent
	Community  Agent
	Negotiator Agent
	Sessions   session.Store
	Metrics    *telemetry.Telemetry
	Budgets    Budgets
	Logger     *log.Logger
}

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[COORD] ", log.LstdFlags)
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.New(logger)
	}
	return &Coordinator{
		scoping:    deps.Scoping,
		general:    deps.General,
		research:   deps.Research,
		mapping:    deps.Mapping,
		local:      deps.Local,
		community:  deps.Community,
		negotiator: deps.Negotiator,
		sessions:   deps.Sessions,
		metrics:    metrics,
		budgets:    deps.Budgets.withDefaults(),
		logger:     logger,
	}
}

// Chat handles one user turn end to end. Only scoping and research failures
// become error results; everything downstream degrades into partial output.
func (c *Coordinator) Chat(ctx context.Context, sessionID, message string) (ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budgets.Total)
	defer cancel()

	sess := c.sessions.Ensure(sessionID)
	sess.AppendUser(message)

	prior, _ := sess.Requirements()
	scopeEnv, err := c.dispatch(ctx, c.scoping, NewRequest(sess.ID(), AgentScoping, ScopeInput{
		Message:    message,
		Prior:      prior,
		Transcript: sess.Transcript(),
	}))
	if err != nil {
		c.metrics.RecordChat(telemetry.OutcomeError)
		return ChatResult{SessionID: sess.ID()}, err
	}
	scope, ok := scopeEnv.Payload.(ScopeOutput)
	if !ok {
		c.metrics.RecordChat(telemetry.OutcomeError)
		return ChatResult{SessionID: sess.ID()}, models.E(models.KindLogic, "coordinator", "scoping returned an unexpected payload", nil)
	}

	if scope.IsGeneralQuestion {
		return c.generalTurn(ctx, sess, scope)
	}

	sess.SetRequirements(scope.Requirements, scope.Complete)

	if !scope.Complete {
		sess.AppendAssistant(scope.Message)
		c.metrics.RecordChat(telemetry.OutcomeGathering)
		return ChatResult{SessionID: sess.ID(), Data: GatherData{Message: scope.Message}}, nil
	}

	data, err := c.runSearch(ctx, sess, scope)
	if err != nil {
		c.metrics.RecordChat(telemetry.OutcomeError)
		return ChatResult{SessionID: sess.ID()}, err
	}
	c.metrics.RecordChat(telemetry.OutcomeResults)
	return ChatResult{SessionID: sess.ID(), Data: data}, nil
}

func (c *Coordinator) generalTurn(ctx context.Context, sess *session.Session, scope ScopeOutput) (ChatResult, error) {
	env, err := c.dispatch(ctx, c.general, NewRequest(sess.ID(), AgentGeneral, GeneralInput{
		Question: scope.GeneralQuestion,
		City:     sess.LastCity(),
	}))
	var answer string
	if err != nil {
		answer = UserMessage(err)
	} else if out, ok := env.Payload.(GeneralOutput); ok {
		answer = out.Answer
	}
	if answer == "" {
		answer = "I couldn't find enough about that area to give you a useful answer."
	}
	sess.AppendAssistant(answer)
	c.metrics.RecordChat(telemetry.OutcomeGeneral)
	return ChatResult{SessionID: sess.ID(), Data: GatherData{Message: answer}}, nil
}

func (c *Coordinator) runSearch(ctx context.Context, sess *session.Session, scope ScopeOutput) (ResultData, error) {
	req := scope.Requirements

	rctx, rcancel := context.WithTimeout(ctx, c.budgets.Research)
	renv, rerr := c.dispatch(rctx, c.research, NewRequest(sess.ID(), AgentResearch, ResearchInput{Requirements: req}))
	rcancel()

	var research ResearchOutput
	if rerr != nil {
		switch models.KindOf(rerr) {
		case models.KindConfiguration, models.KindUpstreamAuth:
			return ResultData{}, rerr
		}
	} else if out, ok := renv.Payload.(ResearchOutput); ok {
		research = out
	}

	if len(research.Candidates) == 0 {
		data := emptyResult(req, rerr)
		sess.AppendAssistant(data.SearchSummary)
		return data, nil
	}

	// Community profiling needs only the top candidate's area, so it runs in
	// parallel with mapping and local discovery.
	topCand := research.Candidates[0]
	communityLoc := scope.CommunityName
	if communityLoc == "" {
		communityLoc = topCand.City
	}
	if communityLoc == "" {
		communityLoc = topCand.Address
	}
	if communityLoc == "" {
		communityLoc = req.Location
	}

	type communityResult struct {
		report *models.CommunityReport
		err    error
	}
	commCh := make(chan communityResult, 1)
	go func() {
		cctx, ccancel := context.WithTimeout(ctx, c.budgets.Community)
		defer ccancel()
		env, err := c.dispatch(cctx, c.community, NewRequest(sess.ID(), AgentCommunity, CommunityInput{Location: communityLoc}))
		if err != nil {
			commCh <- communityResult{err: err}
			return
		}
		out, _ := env.Payload.(CommunityOutput)
		commCh <- communityResult{report: out.Report}
	}()

	var warnings []string

	mctx, mcancel := context.WithTimeout(ctx, c.budgets.Mapping)
	menv, merr := c.dispatch(mctx, c.mapping, NewRequest(sess.ID(), AgentMapping, MapInput{Candidates: research.Candidates}))
	mapTimedOut := mctx.Err() != nil
	mcancel()
	var geocoded []models.GeoCandidate
	if merr == nil {
		if out, ok := menv.Payload.(MapOutput); ok {
			geocoded = out.Geocoded
		}
	}
	if mapTimedOut || merr != nil {
		warnings = append(warnings, "property mapping did not finish")
	}

	lctx, lcancel := context.WithTimeout(ctx, c.budgets.Local)
	lenv, lerr := c.dispatch(lctx, c.local, NewRequest(sess.ID(), AgentLocal, LocalInput{Geocoded: geocoded}))
	localTimedOut := lctx.Err() != nil
	lcancel()
	var enriched []models.EnrichedCandidate
	if lerr == nil {
		if out, ok := lenv.Payload.(LocalOutput); ok {
			enriched = out.Enriched
		}
	} else {
		for _, g := range geocoded {
			enriched = append(enriched, models.EnrichedCandidate{GeoCandidate: g, POIs: []models.POI{}})
		}
	}
	if localTimedOut || lerr != nil {
		warnings = append(warnings, "nearby places lookup did not finish")
	}
	if enriched == nil {
		enriched = []models.EnrichedCandidate{}
	}

	var report *models.CommunityReport
	select {
	case res := <-commCh:
		if res.err != nil {
			if models.KindOf(res.err) == models.KindTimeout {
				warnings = append(warnings, "community analysis did not finish")
			}
		} else {
			report = res.report
		}
	case <-ctx.Done():
		warnings = append(warnings, "community analysis did not finish")
	}

	summary := research.Summary
	if len(warnings) > 0 {
		summary = strings.TrimSpace(summary + " (" + strings.Join(warnings, "; ") + ")")
	}

	data := ResultData{
		Requirements:      req,
		Properties:        enriched,
		SearchSummary:     summary,
		TotalFound:        len(enriched),
		RawSearchResults:  enriched,
		CommunityAnalysis: report,
	}
	if len(enriched) > 0 {
		top := enriched[0]
		address := top.Address
		if address == "" {
			address = top.NormalizedAddress
		}
		data.TopResultCoordinates = &models.TopCoordinates{
			Latitude:  top.Lat,
			Longitude: top.Lon,
			Address:   address,
			ImageURL:  top.ImageURL,
		}
	}

	sess.SetLastResult(&models.SearchResult{
		Requirements:         req,
		Properties:           enriched,
		Summary:              summary,
		TotalFound:           len(enriched),
		TopResultCoordinates: data.TopResultCoordinates,
		Community:            report,
		CreatedAt:            time.Now(),
	})
	sess.SetLastCity(searchedCity(req.Location))
	sess.AppendAssistant(summary)
	return data, nil
}

// Negotiate passes one call request through the negotiation agent.
func (c *Coordinator) Negotiate(ctx context.Context, in NegotiationInput) (models.NegotiationRecord, error) {
	env, err := c.dispatch(ctx, c.negotiator, NewRequest("", AgentNegotiation, in))
	if err != nil {
		c.metrics.RecordNegotiation(false)
		return models.NegotiationRecord{}, err
	}
	out, ok := env.Payload.(NegotiationOutput)
	if !ok {
		c.metrics.RecordNegotiation(false)
		return models.NegotiationRecord{}, models.E(models.KindLogic, "coordinator", "negotiation returned an unexpected payload", nil)
	}
	c.metrics.RecordNegotiation(out.Record.Success)
	return out.Record, nil
}

// dispatch sends one request envelope and records the stage outcome.
func (c *Coordinator) dispatch(ctx context.Context, a Agent, req Envelope) (Envelope, error) {
	start := time.Now()
	resp, err := a.Execute(ctx, req)
	c.metrics.RecordStage(a.Name(), time.Since(start), err)
	if err != nil {
		c.logger.Printf("%s stage failed: %v", a.Name(), err)
		return req.Fail(err), err
	}
	return resp, nil
}

func emptyResult(req models.Requirements, err error) ResultData {
	summary := fmt.Sprintf("No matching properties found in %s right now. Try widening the budget or the area.", req.Location)
	if err != nil {
		summary = "The property search is unavailable right now. Please try again in a few minutes."
	}
	return ResultData{
		Requirements:     req,
		Properties:       []models.EnrichedCandidate{},
		SearchSummary:    summary,
		TotalFound:       0,
		RawSearchResults: []models.EnrichedCandidate{},
	}
}

func searchedCity(location string) string {
	if city, ok := geo.Lookup(location); ok {
		return city.Label
	}
	return strings.TrimSpace(location)
}

// UserMessage turns a pipeline error into a sentence safe to show the user.
// Configuration problems name the missing setting so they can be fixed from
// the chat surface.
func UserMessage(err error) string {
	var me *models.Error
	detail := ""
	if errors.As(err, &me) && me.Message != "" {
		detail = me.Message
	}
	switch models.KindOf(err) {
	case models.KindConfiguration:
		if detail == "" {
			detail = "a required setting is missing"
		}
		return "The assistant is not fully configured: " + detail + ". Please fix the deployment and try again."
	case models.KindUpstreamAuth:
		if detail == "" {
			detail = "credentials were rejected"
		}
		return "A provider rejected our credentials: " + detail + ". Please check the API keys."
	case models.KindParse:
		return "I had trouble reading the assistant's answer. Could you rephrase your message?"
	case models.KindTimeout:
		return "That took longer than expected. Please try again."
	default:
		return "Something went wrong on our side. Please try again in a moment."
	}
}
