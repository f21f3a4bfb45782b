package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"semcache-gateway/internal/provider"
	"semcache-gateway/internal/resolver"
	"semcache-gateway/pkg/logging/logging"
)

// ResolveHandler serves POST /embedding.
type ResolveHandler struct {
	Resolver *resolver.Resolver
}

func NewResolveHandler(r *resolver.Resolver) *ResolveHandler {
	return &ResolveHandler{Resolver: r}
}

type resolveRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Resolve handles one question: validate, run the tiered resolution,
// map error kinds to statuses.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Reject absent/blank text before it reaches the core.
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}

	res, err := h.Resolver.Resolve(ctx, req.Text)
	if err != nil {
		status := classifyStatus(err)
		logger.Warn("resolution failed",
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, err.Error())
		return
	}

	logger.Info("resolution completed",
		zap.String("source", res.Source),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, res)
}

// classifyStatus maps resolver error kinds to HTTP statuses.
func classifyStatus(err error) int {
	switch {
	case errors.Is(err, resolver.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
