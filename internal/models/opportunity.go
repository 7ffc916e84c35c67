package models

import "time"

// OpportunityStatus - итоговый статус возможности
//
// - executable: можно исполнять (чистый спред выше порога, ликвидность есть)
// - marginal: прибыль около нуля, рискованно
// - theoretical: спред технически есть, но комиссии съедают всё
//   либо данные устарели
type OpportunityStatus string

const (
	StatusExecutable  OpportunityStatus = "executable"
	StatusMarginal    OpportunityStatus = "marginal"
	StatusTheoretical OpportunityStatus = "theoretical"
)

// OpportunityLifecycle - история жизни возможности
//
// Одна запись на упорядоченную пару бирж по символу (ключ symbol|buy|sell).
// Переживает временное исчезновение спреда: при повторном появлении
// продолжается, а не начинается заново.
type OpportunityLifecycle struct {
	// Когда спред впервые стал положительным
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	// Сколько времени существует возможность
	LifetimeMs int64 `json:"lifetimeMs"`
	// Максимальный зафиксированный чистый спред
	PeakSpreadBps float64 `json:"peakSpreadBps"`
	// Средний чистый спред за время жизни
	AvgSpreadBps float64 `json:"avgSpreadBps"`
	// Сколько пересчётов нашли пару прибыльной
	OccurrenceCount int64 `json:"occurrenceCount"`
	// Скользящее окно последних значений спреда (для волатильности и sparkline)
	SpreadHistory []float64 `json:"spreadHistory"`
}

// SpreadHistoryLimit - размер скользящего окна истории спреда
const SpreadHistoryLimit = 60

// RiskMetrics - оценка рисков возможности
type RiskMetrics struct {
	// Стандартное отклонение истории спреда, bps
	Volatility1m float64 `json:"volatility1m"`
	// Максимальная задержка данных из двух ног, мс
	LatencyRiskMs int64 `json:"latencyRisk"`
	// Разница задержек ног: если одна биржа тормозит, а вторая нет - опасно
	LatencyAsymmetryMs int64 `json:"latencyAsymmetryMs"`
	// Хотя бы одна нога устарела
	StaleDataRisk bool `json:"staleDataRisk"`
	// min(depth)/max(depth) на полосе 10 bps; ниже 0.3 - риск не закрыть позицию
	DepthImbalance float64 `json:"depthImbalance"`
	// Текстовые флаги для UI
	RiskFlags []string `json:"riskFlags"`
}

// Флаги рисков
const (
	RiskFlagStaleData        = "stale_data"
	RiskFlagLatencyAsymmetry = "latency_asymmetry"
	RiskFlagDepthImbalance   = "depth_imbalance"
	RiskFlagHighVolatility   = "high_volatility"
)

// ArbitrageOpportunity - арбитражная возможность между двумя биржами
//
// Пересобирается заново на каждом пересчёте из текущего состояния кэша
// и сохранённого lifecycle; частично никогда не мутируется.
type ArbitrageOpportunity struct {
	// Уникальный ID: SYMBOL_buyExchange_sellExchange
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"` // всегда "perp-perp"

	// --- Исполнение ---
	BuyExchange  Exchange `json:"buyExchange"`
	SellExchange Exchange `json:"sellExchange"`
	// Покупаем по Ask биржи A
	BuyPrice float64 `json:"buyPrice"`
	// Продаём по Bid биржи B
	SellPrice float64 `json:"sellPrice"`

	// Полные данные ног. В общем потоке массивы bids/asks пустые
	// (экономия трафика), заполняются только для подписчиков деталей.
	BuyData  ExchangeMarketData `json:"buyData"`
	SellData ExchangeMarketData `json:"sellData"`

	// --- Спреды ---
	RawSpreadBps   float64 `json:"rawSpreadBps"`
	NetSpreadBps   float64 `json:"netSpreadBps"`
	SpreadAbsolute float64 `json:"spreadAbsolute"`

	// --- Размер и ликвидность ---
	// Максимальный объём (USD), исполнимый без превышения лимита проскальзывания
	MaxExecutableSize float64 `json:"maxExecutableSize"`
	SlippageAt1k      float64 `json:"slippageAt1k"`
	SlippageAt5k      float64 `json:"slippageAt5k"`
	DepthBuyAt10Bps   float64 `json:"depthBuyAt10Bps"`
	DepthSellAt10Bps  float64 `json:"depthSellAt10Bps"`

	// --- Расходы ---
	BuyFeesBps     float64 `json:"buyFeesBps"`
	SellFeesBps    float64 `json:"sellFeesBps"`
	TotalFeesBps   float64 `json:"totalFeesBps"`
	GasEstimateUsd float64 `json:"gasEstimateUsd"`

	// --- Фандинг ---
	BuyFundingRate  float64 `json:"buyFundingRate"`
	SellFundingRate float64 `json:"sellFundingRate"`
	// SellFunding - BuyFunding: положительная дельта означает,
	// что за удержание позиции нам доплачивают
	FundingDeltaBps float64 `json:"fundingDeltaBps"`

	// --- Аналитика ---
	Lifecycle OpportunityLifecycle `json:"lifecycle"`
	Risk      RiskMetrics          `json:"risk"`

	// Итоговая оценка привлекательности 0-100
	Score  float64           `json:"score"`
	Status OpportunityStatus `json:"status"`

	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	// Дубль Risk.DepthImbalance для быстрого доступа в таблице
	DepthImbalance float64 `json:"depthImbalance"`
}

// OpportunityID собирает уникальный идентификатор пары
func OpportunityID(symbol string, buy, sell Exchange) string {
	return symbol + "_" + string(buy) + "_" + string(sell)
}
