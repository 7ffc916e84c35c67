package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"arbscan/internal/models"
)

// OpportunityHandler обрабатывает запросы списка и деталей возможностей.
//
// Endpoints:
// - GET /api/v1/opportunities - текущий снапшот (без уровней стаканов)
// - GET /api/v1/opportunities/{id} - одна возможность с полными стаканами
type OpportunityHandler struct {
	source OpportunitySource
}

func NewOpportunityHandler(source OpportunitySource) *OpportunityHandler {
	return &OpportunityHandler{source: source}
}

// GetOpportunities возвращает снапшот возможностей, отсортированный по score.
//
// GET /api/v1/opportunities?symbol=BTC&exchange=paradex&status=executable&minNetSpread=3&minScore=50&limit=20
//
// Все параметры опциональны. exchange фильтрует по любой из ног.
// Уровни стаканов в списке обрезаны - за ними идти в /opportunities/{id}.
func (h *OpportunityHandler) GetOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var minNetSpread, minScore float64
	var hasMinSpread, hasMinScore bool
	if v := q.Get("minNetSpread"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minNetSpread не является числом")
			return
		}
		minNetSpread, hasMinSpread = parsed, true
	}
	if v := q.Get("minScore"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minScore не является числом")
			return
		}
		minScore, hasMinScore = parsed, true
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit не является неотрицательным числом")
			return
		}
		limit = parsed
	}

	symbol := q.Get("symbol")
	exchange := models.Exchange(q.Get("exchange"))
	status := models.OpportunityStatus(q.Get("status"))

	all := h.source.AllOpportunities()
	out := make([]*models.ArbitrageOpportunity, 0, len(all))
	for _, opp := range all {
		if symbol != "" && opp.Symbol != symbol {
			continue
		}
		if exchange != "" && opp.BuyExchange != exchange && opp.SellExchange != exchange {
			continue
		}
		if status != "" && opp.Status != status {
			continue
		}
		if hasMinSpread && opp.NetSpreadBps < minNetSpread {
			continue
		}
		if hasMinScore && opp.Score < minScore {
			continue
		}
		out = append(out, stripBooks(opp))
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// GetOpportunity возвращает одну возможность с полными стаканами обеих ног.
//
// GET /api/v1/opportunities/{id}
func (h *OpportunityHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, opp := range h.source.AllOpportunities() {
		if opp.ID == id {
			writeJSON(w, http.StatusOK, opp)
			return
		}
	}
	writeError(w, http.StatusNotFound, "возможность не найдена")
}

// stripBooks отдаёт копию без уровней стаканов - экономия трафика в списке
func stripBooks(opp *models.ArbitrageOpportunity) *models.ArbitrageOpportunity {
	slim := *opp
	slim.BuyData.Bids = nil
	slim.BuyData.Asks = nil
	slim.SellData.Bids = nil
	slim.SellData.Asks = nil
	return &slim
}
