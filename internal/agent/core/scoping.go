package core

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/rfvalente/morada/internal/llm"
	"github.com/rfvalente/morada/models"
)

// ScopingAgent folds chat turns into a Requirements record. It never returns
// the gateway's errors upward: a failed completion becomes an explanatory
// message and the prior requirements stay untouched.
type ScopingAgent struct {
	gateway LLM
	logger  *log.Logger
}

func NewScopingAgent(gateway LLM, logger *log.Logger) *ScopingAgent {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCOPE] ", log.LstdFlags)
	}
	return &ScopingAgent{gateway: gateway, logger: logger}
}

func (a *ScopingAgent) Name() string { return AgentScoping }

func (a *ScopingAgent) Execute(ctx context.Context, req Envelope) (Envelope, error) {
	in, ok := req.Payload.(ScopeInput)
	if !ok {
		return Envelope{}, models.E(models.KindLogic, "scoping", "unexpected payload type", nil)
	}
	return req.Respond(a.scope(ctx, in)), nil
}

// scopeReply is the wire shape of the scoping completion. Pointer fields let
// the merge distinguish "not mentioned" from explicit zeros.
type scopeReply struct {
	Location          *string  `json:"location"`
	Bedrooms          *int     `json:"bedrooms"`
	Bathrooms         *float64 `json:"bathrooms"`
	BudgetMin         *float64 `json:"budget_min"`
	BudgetMax         *float64 `json:"budget_max"`
	IsRent            *bool    `json:"is_rent"`
	AdditionalInfo    *string  `json:"additional_info"`
	IsComplete        bool     `json:"is_complete"`
	NeedsMoreInfo     bool     `json:"needs_more_info"`
	MessageToUser     string   `json:"message_to_user"`
	IsGeneralQuestion bool     `json:"is_general_question"`
	GeneralQuestion   string   `json:"general_question"`
	CommunityName     string   `json:"community_name"`
}

func (a *ScopingAgent) scope(ctx context.Context, in ScopeInput) ScopeOutput {
	var reply scopeReply
	err := a.gateway.CompleteJSON(ctx, llm.Request{
		System:      scopingSystemPrompt,
		Prompt:      scopingUserPrompt(in.Prior, in.Transcript, in.Message),
		Temperature: 0.2,
		MaxTokens:   700,
	}, &reply)
	if err != nil {
		a.logger.Printf("scoping completion failed: %v", err)
		return ScopeOutput{Requirements: in.Prior, Message: UserMessage(err)}
	}

	if reply.IsGeneralQuestion {
		question := strings.TrimSpace(reply.GeneralQuestion)
		if question == "" {
			question = in.Message
		}
		return ScopeOutput{
			Requirements:      in.Prior,
			Message:           strings.TrimSpace(reply.MessageToUser),
			IsGeneralQuestion: true,
			GeneralQuestion:   question,
			CommunityName:     strings.TrimSpace(reply.CommunityName),
		}
	}

	merged := mergeRequirements(in.Prior, reply)
	if err := merged.Validate(); err != nil {
		a.logger.Printf("rejecting merged requirements: %v", err)
		return ScopeOutput{Requirements: in.Prior, Message: rejectionMessage(err)}
	}

	return ScopeOutput{
		Requirements:  merged,
		Complete:      merged.Complete() && reply.IsComplete,
		Message:       strings.TrimSpace(reply.MessageToUser),
		CommunityName: strings.TrimSpace(reply.CommunityName),
	}
}

// mergeRequirements overlays the turn's non-null fields onto prior. Nulls
// never erase earlier answers.
func mergeRequirements(prior models.Requirements, r scopeReply) models.Requirements {
	merged := prior
	if r.Location != nil && strings.TrimSpace(*r.Location) != "" {
		merged.Location = strings.TrimSpace(*r.Location)
	}
	if r.Bedrooms != nil {
		merged.Bedrooms = r.Bedrooms
	}
	if r.Bathrooms != nil {
		merged.Bathrooms = r.Bathrooms
	}
	if r.BudgetMin != nil {
		merged.BudgetMin = r.BudgetMin
	}
	if r.BudgetMax != nil {
		merged.BudgetMax = r.BudgetMax
	}
	if r.IsRent != nil {
		merged.IsRent = *r.IsRent
	}
	if r.AdditionalInfo != nil && strings.TrimSpace(*r.AdditionalInfo) != "" {
		merged.AdditionalInfo = strings.TrimSpace(*r.AdditionalInfo)
	}
	return merged
}

func rejectionMessage(err error) string {
	var me *models.Error
	if errors.As(err, &me) && me.Message != "" {
		return "I couldn't keep that update: " + me.Message + ". Could you restate it?"
	}
	return "I couldn't keep that update. Could you restate it?"
}
