package handlers

import "net/http"

// StatsHandler отдаёт агрегированную статистику сканера.
//
// GET /api/v1/stats
//
// Response 200 OK:
//
//	{
//	  "totalSymbols": 42,
//	  "totalOpportunities": 7,
//	  "executableCount": 2,
//	  "avgScore": 31.5,
//	  "updatesPerSecond": 1250.0,
//	  "uptime": 3600000
//	}
type StatsHandler struct {
	source OpportunitySource
}

func NewStatsHandler(source OpportunitySource) *StatsHandler {
	return &StatsHandler{source: source}
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Stats())
}
