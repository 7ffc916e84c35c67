package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера рыночных данных
var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbscan_events_total",
		Help: "Количество обработанных событий по биржам и типам",
	}, []string{"exchange", "type"})

	recomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbscan_recompute_duration_seconds",
		Help:    "Длительность пересчёта возможностей по символу",
		Buckets: prometheus.ExponentialBuckets(0.000005, 4, 10),
	})

	activeOpportunities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbscan_active_opportunities",
		Help: "Текущее количество активных арбитражных возможностей",
	})

	connectedExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbscan_connected_exchanges",
		Help: "Количество бирж в статусе connected",
	})
)
