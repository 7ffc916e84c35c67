package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"arbscan/internal/api/handlers"
	"arbscan/internal/api/middleware"
	"arbscan/internal/websocket"
)

// Dependencies - зависимости HTTP слоя
type Dependencies struct {
	Source handlers.OpportunitySource
	Hub    *websocket.Hub
	Logger *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура:
//
// /api/v1/
//
//	├── GET /opportunities - снапшот возможностей (фильтры через query)
//	├── GET /opportunities/{id} - одна возможность с полными стаканами
//	├── GET /status - статусы соединений с биржами
//	└── GET /stats - агрегированная статистика
//
// /ws/stream - WebSocket поток real-time обновлений
// /health - проверка живости
// /metrics - Prometheus метрики
//
// Middleware: Recovery -> Logging -> CORS для всех маршрутов.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	log := deps.Logger
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	opportunityHandler := handlers.NewOpportunityHandler(deps.Source)
	statusHandler := handlers.NewStatusHandler(deps.Source)
	statsHandler := handlers.NewStatsHandler(deps.Source)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/opportunities", opportunityHandler.GetOpportunities).Methods("GET")
	api.HandleFunc("/opportunities/{id}", opportunityHandler.GetOpportunity).Methods("GET")
	api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
	api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
