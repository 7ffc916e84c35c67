package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"arbscan/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse - стандартный формат ответа об ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// OpportunitySource - чтение состояния сканера.
// Реализуется агрегатором.
type OpportunitySource interface {
	AllOpportunities() []*models.ArbitrageOpportunity
	ConnectionStatuses() map[models.Exchange]models.ConnectionStatus
	Stats() models.ServerStats
}
