package models

import "time"

// Exchange - идентификатор поддерживаемой биржи
type Exchange string

// Поддерживаемые биржи (perp DEX)
const (
	ExchangeParadex     Exchange = "paradex"
	ExchangeHyperliquid Exchange = "hyperliquid"
	ExchangePacifica    Exchange = "pacifica"
	ExchangeEthereal    Exchange = "ethereal"
)

// AllExchanges возвращает список всех поддерживаемых бирж
// Порядок фиксирован - используется для детерминированной инициализации статусов
func AllExchanges() []Exchange {
	return []Exchange{
		ExchangeParadex,
		ExchangeHyperliquid,
		ExchangePacifica,
		ExchangeEthereal,
	}
}

// ConnectionStatus - статус соединения с биржей
//
// Мутируется только коннектором этой биржи.
// Используется для индикаторов в UI (зелёный/красный кружок).
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// OrderBookLevel - один уровень цены в стакане
type OrderBookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BBOUpdate - каноническое событие Best Bid/Offer
//
// Каждый коннектор конвертирует свой формат (строки, тупли, объекты)
// в эту структуру ДО того, как данные попадут в общую логику.
type BBOUpdate struct {
	Exchange Exchange `json:"exchange"`
	Symbol   string   `json:"symbol"`
	// Лучшая цена покупки (за сколько мы можем продать)
	Bid     float64 `json:"bid"`
	BidSize float64 `json:"bidSize"`
	// Лучшая цена продажи (за сколько мы можем купить)
	Ask     float64 `json:"ask"`
	AskSize float64 `json:"askSize"`
	// Время события на бирже (для расчёта задержки)
	Timestamp time.Time `json:"timestamp"`
}

// OrderBookUpdate - каноническое событие полного стакана
//
// Биды отсортированы по убыванию цены, аски - по возрастанию.
type OrderBookUpdate struct {
	Exchange   Exchange         `json:"exchange"`
	Symbol     string           `json:"symbol"`
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	Timestamp  time.Time        `json:"timestamp"`
	// Время получения нашим сервером; ReceivedAt - Timestamp = задержка
	ReceivedAt time.Time `json:"receivedAt"`
}

// FundingUpdate - каноническое событие ставки финансирования
//
// Источник зависит от биржи: live канал или медленный REST опрос.
// Коннектор эмитит один и тот же тип независимо от источника.
type FundingUpdate struct {
	Exchange        Exchange  `json:"exchange"`
	Symbol          string    `json:"symbol"`
	FundingRate     float64   `json:"fundingRate"`
	NextFundingTime time.Time `json:"nextFundingTime"`
	MarkPrice       float64   `json:"markPrice"`
	IndexPrice      float64   `json:"indexPrice"`
	Timestamp       time.Time `json:"timestamp"`
}

// TradeUpdate - каноническое событие сделки
type TradeUpdate struct {
	Exchange  Exchange  `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      string    `json:"side"` // "buy" или "sell"
	Timestamp time.Time `json:"timestamp"`
}

// DepthAtBps - агрегированная глубина рынка
//
// Сколько долларов ликвидности доступно в пределах N bps от mid price.
// Бакеты кумулятивные: уровень в пределах 5 bps попадает и в 10, и в 25.
type DepthAtBps struct {
	Bps5  float64 `json:"bps5"`
	Bps10 float64 `json:"bps10"`
	Bps25 float64 `json:"bps25"`
}

// ExchangeMarketData - полное состояние рынка по (символ, биржа)
//
// Единственный владелец - MarketStateStore агрегатора. Создаётся на первом
// BBO событии, перезаписывается на каждом обновлении. Никогда не удаляется:
// при устаревании помечается IsStale, но остаётся в кэше.
//
// ВАЖНО: слайсы Bids/Asks заменяются целиком и никогда не мутируются
// на месте - поэтому их можно безопасно копировать по ссылке в снапшоты.
type ExchangeMarketData struct {
	Exchange Exchange `json:"exchange"`
	Symbol   string   `json:"symbol"`

	// --- BBO ---
	Bid     float64 `json:"bid"`
	BidSize float64 `json:"bidSize"`
	Ask     float64 `json:"ask"`
	AskSize float64 `json:"askSize"`
	// Средняя цена (bid+ask)/2 - база для расчёта глубины
	MidPrice float64 `json:"midPrice"`

	// --- Стакан ---
	Bids          []OrderBookLevel `json:"bids"`
	Asks          []OrderBookLevel `json:"asks"`
	BidDepthAtBps DepthAtBps       `json:"bidDepthAtBps"`
	AskDepthAtBps DepthAtBps       `json:"askDepthAtBps"`

	// --- Фандинг ---
	FundingRate float64 `json:"fundingRate"`
	MarkPrice   float64 `json:"markPrice,omitempty"`
	IndexPrice  float64 `json:"indexPrice,omitempty"`

	// --- Метаданные ---
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
	// Задержка ReceivedAt - Timestamp в миллисекундах
	LatencyMs int64 `json:"latencyMs"`
	// Данные устарели (обновлений не было дольше порога)
	IsStale bool `json:"isStale"`
}

// SubscriptionConfig - клиентский фильтр общего потока возможностей
//
// Все поля опциональны, фильтрация рекомендательная (server-side).
type SubscriptionConfig struct {
	MinNetSpreadBps *float64   `json:"minNetSpreadBps,omitempty"`
	MinScore        *float64   `json:"minScore,omitempty"`
	Exchanges       []Exchange `json:"exchanges,omitempty"`
	Symbols         []string   `json:"symbols,omitempty"`
}

// ServerStats - агрегированная статистика сервера
type ServerStats struct {
	TotalSymbols       int     `json:"totalSymbols"`
	TotalOpportunities int     `json:"totalOpportunities"`
	ExecutableCount    int     `json:"executableCount"`
	AvgScore           float64 `json:"avgScore"`
	UpdatesPerSecond   float64 `json:"updatesPerSecond"`
	UptimeMs           int64   `json:"uptime"`
}
