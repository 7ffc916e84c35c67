package websocket

import "arbscan/internal/models"

// ============ Сообщения сервер -> клиент ============
// Типизированные структуры вместо map[string]interface{} -
// сериализация без рефлексии по known-type пути jsoniter.

// SnapshotMessage - полное состояние при подключении
type SnapshotMessage struct {
	Type          string                                      `json:"type"` // "snapshot"
	Opportunities []*models.ArbitrageOpportunity              `json:"opportunities"`
	Statuses      map[models.Exchange]models.ConnectionStatus `json:"statuses"`
	Timestamp     int64                                       `json:"timestamp"`
}

// OpportunityMessage - обновление возможности
type OpportunityMessage struct {
	Type string                       `json:"type"` // "opportunity"
	Data *models.ArbitrageOpportunity `json:"data"`
}

// RemoveMessage - возможность исчезла
type RemoveMessage struct {
	Type string `json:"type"` // "remove"
	ID   string `json:"id"`
}

// StatusMessage - смена статуса соединения биржи
type StatusMessage struct {
	Type     string                  `json:"type"` // "status"
	Exchange models.Exchange         `json:"exchange"`
	Status   models.ConnectionStatus `json:"status"`
}

// StatsMessage - периодическая статистика сервера
type StatsMessage struct {
	Type string             `json:"type"` // "stats"
	Data models.ServerStats `json:"data"`
}

// ============ Сообщения клиент -> сервер ============

// Действия клиента
const (
	ActionSubscribe              = "subscribe"
	ActionSubscribeToDetails     = "subscribeToDetails"
	ActionUnsubscribeFromDetails = "unsubscribeFromDetails"
)

// ClientMessage - команда от клиента
//
// subscribe задаёт фильтр общего потока; subscribeToDetails включает
// передачу полных стаканов по конкретной возможности.
type ClientMessage struct {
	Action        string                     `json:"action"`
	Config        *models.SubscriptionConfig `json:"config,omitempty"`
	OpportunityID string                     `json:"opportunityId,omitempty"`
}
