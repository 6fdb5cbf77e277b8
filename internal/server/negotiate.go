package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rfvalente/morada/internal/agent/core"
)

// NegotiateRequest is the body of POST /api/negotiate.
type NegotiateRequest struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	AdditionalInfo string `json:"additional_info"`
}

// NegotiateResponse reports the synchronous outcome of one negotiation call.
type NegotiateResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	LeverageScore float64  `json:"leverage_score"`
	Findings      []string `json:"findings"`
	CallSummary   string   `json:"call_summary"`
}

// NegotiateHandler serves the voice negotiation endpoint.
type NegotiateHandler struct {
	Coord  *core.Coordinator
	Logger *log.Logger
}

func (h *NegotiateHandler) Register(g *echo.Group) {
	g.POST("/negotiate", h.handle)
}

func (h *NegotiateHandler) handle(c echo.Context) error {
	var req NegotiateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NegotiateResponse{Message: "invalid request body", Findings: []string{}})
	}
	if strings.TrimSpace(req.Address) == "" {
		return c.JSON(http.StatusBadRequest, NegotiateResponse{Message: "address is required", Findings: []string{}})
	}

	record, err := h.Coord.Negotiate(c.Request().Context(), core.NegotiationInput{
		Address:        req.Address,
		Name:           req.Name,
		Email:          req.Email,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		h.logger().Printf("negotiate %s: %v", req.Address, err)
		return c.JSON(http.StatusOK, NegotiateResponse{Message: core.UserMessage(err), Findings: []string{}})
	}

	findings := record.Findings
	if findings == nil {
		findings = []string{}
	}
	message := record.CallSummary
	if message == "" {
		if record.Success {
			message = "The call completed but no summary was returned."
		} else {
			message = "The call could not be completed. Please try again."
		}
	}
	return c.JSON(http.StatusOK, NegotiateResponse{
		Success:       record.Success,
		Message:       message,
		LeverageScore: record.LeverageScore,
		Findings:      findings,
		CallSummary:   record.CallSummary,
	})
}

func (h *NegotiateHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}
