package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
)

// Processor is the single entry point into the replication core.
type Processor interface {
	ProcessEvent(ctx context.Context, id string) domain.ProcessResult
}

// SeenReporter provides duplicate-store stats for the verbose /health view.
type SeenReporter interface {
	Len() int
}

type Handler struct {
	processor Processor
	logger    *zap.Logger
	seen      SeenReporter // optional
}

func NewHandler(processor Processor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{processor: processor, logger: logger}
}

// WithSeenReporter enables the duplicate-store component in verbose /health.
func (h *Handler) WithSeenReporter(seen SeenReporter) *Handler {
	h.seen = seen
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/events" && r.Method == http.MethodPost:
		h.processEvent(w, r)

	case path == "/events" && r.Method != http.MethodPost:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")

	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

// maxRequestBodySize is the maximum allowed request body size (64KB).
// Notification events carry only an id; anything bigger is junk.
const maxRequestBodySize = 64 << 10

// EventRequest is the inbound notification body.
type EventRequest struct {
	ID string `json:"id"`
}

func (h *Handler) processEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateEvent(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.processor.ProcessEvent(r.Context(), req.ID)

	status := http.StatusOK
	if result.Status == domain.StatusError {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, result)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	SeenIDs    int               `json:"seen_ids,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.seen == nil {
		h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Components: map[string]string{"seen_store": "healthy"},
		SeenIDs:    h.seen.Len(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
