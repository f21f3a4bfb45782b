package handlers

import (
	"net/http"

	"semcache-gateway/internal/usage"
)

// UsageHandler serves GET /usage: the tier counters and derived reuse
// rate, recomputed on every read.
type UsageHandler struct {
	Usage *usage.Collector
}

func NewUsageHandler(u *usage.Collector) *UsageHandler {
	return &UsageHandler{Usage: u}
}

func (h *UsageHandler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Usage.Snapshot())
}
