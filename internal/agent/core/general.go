package core

import (
	"context"
	"log"
	"strings"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
)

// GeneralAgent answers free-form questions about an area: a quick web search
// feeds snippets to the model, which must answer from them alone.
type GeneralAgent struct {
	gateway LLM
	search  SearchProvider
	logger  *log.Logger
}

func NewGeneralAgent(gateway LLM, search SearchProvider, logger *log.Logger) *GeneralAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[GENERAL] ", log.LstdFlags)
	}
	return &GeneralAgent{gateway: gateway, search: search, logger: logger}
}

func (a *GeneralAgent) Name() string { return AgentGeneral }

func (a *GeneralAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(GeneralInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "general", "unexpected payload type", nil)
	}
	return req.Respond(GeneralOutput{Answer: a.answer(ctx, in)}), nil
}

func (a *GeneralAgent) answer(ctx context.Context, in GeneralInput) string {
	query := strings.TrimSpace(in.Question)
	if in.City != "" {
		query += " " + in.City
	}

	hits, err := a.search.Search(ctx, query, "google")
	if err != nil {
		a.logger.Printf("area search failed: %v", err)
		switch models.KindOf(err) {
		case models.KindConfiguration, models.KindUpstreamAuth:
			return UserMessage(err)
		}
		hits = nil
	}

	system, user := generalPrompt(in.Question, in.City, hits)
	var reply struct {
		Answer string `json:"answer"`
	}
	if err := a.gateway.CompleteJSON(ctx, llm.Request{
		System:      system,
		Prompt:      user,
		Temperature: 0.3,
		MaxTokens:   500,
	}, &reply); err != nil {
		a.logger.Printf("area answer failed: %v", err)
		return UserMessage(err)
	}
	if strings.TrimSpace(reply.Answer) == "" {
		return "I couldn't find enough about that area to give you a useful answer."
	}
	return strings.TrimSpace(reply.Answer)
}
