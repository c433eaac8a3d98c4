package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/chat"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/store"
)

// Pinger is an optional dependency reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat   *chat.Service
	relay  Pinger
	logger zerolog.Logger
}

// NewHandler creates a new Handler. relay may be nil when no Redis relay is configured.
func NewHandler(svc *chat.Service, relay Pinger, logger zerolog.Logger) *Handler {
	return &Handler{
		chat:   svc,
		relay:  relay,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a core error to a response: bad input is 400, an unreachable
// store is 503, anything else is 500.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *chat.ValidationError
	var se *store.StorageError
	switch {
	case errors.As(err, &ve):
		h.Error(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotPersistable):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &se):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("store failure")
		h.Error(w, http.StatusServiceUnavailable, "message store unavailable")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// userParam parses a user id path parameter.
func userParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &chat.ValidationError{Field: name, Reason: "must be an integer user id"}
	}
	return id, nil
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &chat.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
