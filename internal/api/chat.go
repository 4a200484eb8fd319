package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/homedesk/homedesk/internal/chatlog"
	"github.com/homedesk/homedesk/internal/engine"
	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/learning"
)

// Responder is the engine surface the chat endpoint needs.
type Responder interface {
	ProcessMessage(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// FeedbackService applies user feedback to the learning loop.
type FeedbackService interface {
	SubmitFeedback(ctx context.Context, logID uuid.UUID, fb chatlog.Feedback) (*learning.Result, error)
	PromoteToExample(ctx context.Context, logID uuid.UUID, category string) (uuid.UUID, error)
}

// LogReader reads conversation history.
type LogReader interface {
	BySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]chatlog.Entry, error)
}

type chatHandler struct {
	responder Responder
	feedback  FeedbackService
	logs      LogReader
	logger    *slog.Logger
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Language  string `json:"language,omitempty"`
}

type chatResponse struct {
	LogID        string   `json:"log_id,omitempty"`
	SessionID    string   `json:"session_id"`
	Reply        string   `json:"reply"`
	Strategy     string   `json:"strategy"`
	Confidence   float64  `json:"confidence"`
	Category     string   `json:"category"`
	Language     string   `json:"language"`
	Actions      []string `json:"suggested_actions,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	ExamplesUsed int      `json:"examples_used"`
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session", "session_id must be a UUID", h.logger)
			return
		}
		sessionID = parsed
	}

	resp, err := h.responder.ProcessMessage(r.Context(), engine.Request{
		SessionID: sessionID,
		Message:   req.Message,
		Language:  req.Language,
	})
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
			return
		}
		h.logger.Error("processing message", "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed", "could not generate a response", h.logger)
		return
	}

	out := chatResponse{
		SessionID:    resp.SessionID.String(),
		Reply:        resp.Reply,
		Strategy:     string(resp.Strategy),
		Confidence:   resp.Confidence,
		Category:     resp.Category,
		Language:     resp.Language,
		Actions:      resp.Actions,
		Sources:      resp.Sources,
		ExamplesUsed: len(resp.ExamplesUsed),
	}
	if resp.LogID != uuid.Nil {
		out.LogID = resp.LogID.String()
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

type feedbackRequest struct {
	LogID   string `json:"log_id"`
	Rating  int    `json:"rating"`
	Helpful bool   `json:"helpful"`
	Comment string `json:"comment,omitempty"`
}

type feedbackResponse struct {
	ExamplesUpdated int    `json:"examples_updated"`
	Promoted        bool   `json:"promoted"`
	PromotedID      string `json:"promoted_id,omitempty"`
}

// submitFeedback handles POST /api/v1/feedback.
func (h *chatHandler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	logID, err := uuid.Parse(req.LogID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_log_id", "log_id must be a UUID", h.logger)
		return
	}

	result, err := h.feedback.SubmitFeedback(r.Context(), logID, chatlog.Feedback{
		Rating:  req.Rating,
		Helpful: req.Helpful,
		Comment: req.Comment,
	})
	switch {
	case errors.Is(err, chatlog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat log entry not found", h.logger)
		return
	case errors.Is(err, chatlog.ErrFeedbackExists):
		writeError(w, http.StatusConflict, "feedback_exists", "feedback already recorded", h.logger)
		return
	case errors.Is(err, chatlog.ErrInvalidFeedback):
		writeError(w, http.StatusBadRequest, "invalid_feedback", "rating must be between 1 and 5", h.logger)
		return
	case err != nil:
		h.logger.Error("submitting feedback", "error", err, "log_id", logID)
		writeError(w, http.StatusInternalServerError, "feedback_failed", "could not record feedback", h.logger)
		return
	}

	out := feedbackResponse{
		ExamplesUpdated: result.ExamplesUpdated,
		Promoted:        result.Promoted,
	}
	if result.Promoted {
		out.PromotedID = result.PromotedID.String()
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

type promoteRequest struct {
	Category string `json:"category"`
}

// promote handles POST /api/v1/chat/{id}/promote. An operator turns a
// logged exchange into a corpus example under an explicit category.
func (h *chatHandler) promote(w http.ResponseWriter, r *http.Request) {
	logID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid chat log ID", h.logger)
		return
	}

	var req promoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if !example.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "invalid_category", "unknown category", h.logger)
		return
	}

	exampleID, err := h.feedback.PromoteToExample(r.Context(), logID, req.Category)
	switch {
	case errors.Is(err, chatlog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat log entry not found", h.logger)
		return
	case err != nil:
		h.logger.Error("promoting chat log", "error", err, "log_id", logID)
		writeError(w, http.StatusInternalServerError, "promotion_failed", "could not promote the exchange", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"example_id": exampleID.String()}, h.logger)
}

type historyEntry struct {
	ID          string  `json:"id"`
	UserMessage string  `json:"user_message"`
	BotResponse string  `json:"bot_response"`
	Language    string  `json:"language"`
	Confidence  float64 `json:"confidence"`
	Strategy    string  `json:"strategy"`
	CreatedAt   string  `json:"created_at"`
	Rating      *int    `json:"rating,omitempty"`
	Helpful     *bool   `json:"helpful,omitempty"`
}

// sessionHistory handles GET /api/v1/sessions/{id}/messages.
func (h *chatHandler) sessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", h.logger)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", h.logger)
			return
		}
	}

	entries, err := h.logs.BySession(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("listing session history", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "history_failed", "could not load history", h.logger)
		return
	}

	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		he := historyEntry{
			ID:          e.ID.String(),
			UserMessage: e.UserMessage,
			BotResponse: e.BotResponse,
			Language:    e.Language,
			Confidence:  e.Confidence,
			Strategy:    string(e.Strategy),
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.Feedback != nil {
			he.Rating = &e.Feedback.Rating
			he.Helpful = &e.Feedback.Helpful
		}
		out[i] = he
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out}, h.logger)
}
