package handlers

import "net/http"

// StatusHandler отдаёт статусы соединений с биржами.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "paradex": "connected",
//	  "hyperliquid": "connected",
//	  "pacifica": "error",
//	  "ethereal": "disconnected"
//	}
type StatusHandler struct {
	source OpportunitySource
}

func NewStatusHandler(source OpportunitySource) *StatusHandler {
	return &StatusHandler{source: source}
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.ConnectionStatuses())
}
