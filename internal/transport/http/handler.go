// Package http exposes the engine over HTTP: the streaming chat endpoint and
// the conversation browser.
package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/MeruLocal/hellocfo-sub002/internal/config"
	"github.com/MeruLocal/hellocfo-sub002/internal/domain"
	"github.com/MeruLocal/hellocfo-sub002/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	svc *service.Service
	cfg *config.Config
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat", h.Chat)

	e.GET("/v1/conversations", h.ListConversations)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	EntityID       string `json:"entity_id"`
	UserID         string `json:"user_id"`
}

// Chat runs one turn and streams progress as newline-delimited JSON. The
// response commits to 200 before the turn starts; failures after that arrive
// as error events on the stream.
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "entity_id is required"})
	}

	credential := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	w := newStreamWriter(resp)
	stop := w.startHeartbeat(h.cfg.HeartbeatInterval)
	defer stop()

	return h.svc.HandleChat(c.Request().Context(), domain.ChatRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		EntityID:       req.EntityID,
		UserID:         req.UserID,
		Credential:     credential,
	}, w.Emit)
}

// ListConversations returns conversation summaries for an entity.
func (h *Handler) ListConversations(c echo.Context) error {
	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "entity_id is required"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = n
	}

	summaries, err := h.svc.ListConversations(c.Request().Context(), entityID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": summaries})
}

// GetConversation returns one conversation with full message history.
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.svc.GetConversation(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.JSON(http.StatusOK, conv)
}
