// Package handler exposes the defense engine over HTTP so authentication
// services outside this process can consume the check/record/clear contract.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bastion/internal/lockout/models"
	platformMW "bastion/internal/platform/middleware"
	"bastion/internal/transport/httputil"
	dErrors "bastion/pkg/domain-errors"
)

type Service interface {
	Check(ctx context.Context, namespace, identifier string) models.RateLimitDecision
	RecordFailure(ctx context.Context, namespace, identifier string)
	Clear(ctx context.Context, namespace, identifier string)
	CheckSimpleCounter(ctx context.Context, key string, max int64, window time.Duration) bool
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/lockout/check", h.HandleCheck)
	r.Post("/v1/lockout/record-failure", h.HandleRecordFailure)
	r.Post("/v1/lockout/clear", h.HandleClear)
	r.Post("/v1/lockout/counter-check", h.HandleCounterCheck)
}

type keyRequest struct {
	Namespace  string `json:"namespace"`
	Identifier string `json:"identifier"`
}

type counterCheckRequest struct {
	Key           string `json:"key"`
	Max           int64  `json:"max"`
	WindowSeconds int64  `json:"window_seconds"`
}

type counterCheckResponse struct {
	Allowed bool `json:"allowed"`
}

// HandleCheck implements POST /v1/lockout/check.
// Input: { "namespace": "login", "identifier": "user@example.com" }
// Output: the decision, always 200; the caller maps a deny to its own 429.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeKeyRequest(w, r, "check")
	if !ok {
		return
	}

	decision := h.service.Check(r.Context(), req.Namespace, req.Identifier)
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleRecordFailure implements POST /v1/lockout/record-failure.
func (h *Handler) HandleRecordFailure(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeKeyRequest(w, r, "record failure")
	if !ok {
		return
	}

	h.service.RecordFailure(r.Context(), req.Namespace, req.Identifier)
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear implements POST /v1/lockout/clear.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeKeyRequest(w, r, "clear")
	if !ok {
		return
	}

	h.service.Clear(r.Context(), req.Namespace, req.Identifier)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCounterCheck implements POST /v1/lockout/counter-check.
// Input: { "key": "ip:203.0.113.1", "max": 100, "window_seconds": 60 }
func (h *Handler) HandleCounterCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req counterCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode counter check request",
			"error", err,
			"request_id", platformMW.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid JSON in request body"))
		return
	}
	if req.Key == "" || req.Max <= 0 || req.WindowSeconds <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "key, max and window_seconds are required"))
		return
	}

	allowed := h.service.CheckSimpleCounter(ctx, req.Key, req.Max, time.Duration(req.WindowSeconds)*time.Second)
	httputil.WriteJSON(w, http.StatusOK, &counterCheckResponse{Allowed: allowed})
}

func (h *Handler) decodeKeyRequest(w http.ResponseWriter, r *http.Request, op string) (*keyRequest, bool) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode "+op+" request",
			"error", err,
			"request_id", platformMW.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid JSON in request body"))
		return nil, false
	}
	if req.Namespace == "" || req.Identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "namespace and identifier are required"))
		return nil, false
	}
	return &req, true
}
