package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rfvalente/morada/internal/agent/core"
	"github.com/rfvalente/morada/models"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the envelope every chat reply uses. Data is GatherData
// while requirements are being collected and ResultData after a completed
// search; on errors it is an errorData.
type ChatResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type errorData struct {
	Message string `json:"message"`
}

// ChatHandler serves the conversational endpoint.
type ChatHandler struct {
	Coord  *core.Coordinator
	Logger *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.handle)
}

func (h *ChatHandler) handle(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ChatResponse{Status: "error", Data: errorData{Message: "invalid request body"}})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ChatResponse{Status: "error", Data: errorData{Message: "message is required"}})
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	res, err := h.Coord.Chat(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		h.logger().Printf("chat %s: %v", req.SessionID, err)
		switch models.KindOf(err) {
		case models.KindConfiguration, models.KindUpstreamAuth:
			// Deployment problems read as assistant turns so the user sees
			// the remediation in the conversation.
			return c.JSON(http.StatusOK, ChatResponse{Status: "success", Data: core.GatherData{Message: core.UserMessage(err)}})
		default:
			return c.JSON(http.StatusOK, ChatResponse{Status: "error", Data: errorData{Message: core.UserMessage(err)}})
		}
	}
	return c.JSON(http.StatusOK, ChatResponse{Status: "success", Data: res.Data})
}

func (h *ChatHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}
