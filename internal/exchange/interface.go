// Package exchange содержит коннекторы к perp DEX биржам.
//
// Каждый коннектор нормализует свой формат данных в канонические события
// пакета models и раздаёт их подписчикам. Вся специфика бирж (тупли,
// строки вместо чисел, однобуквенные поля) остаётся внутри коннектора.
package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/models"
)

// Instrument - торговый инструмент биржи после нормализации символа
type Instrument struct {
	// Нормализованный символ (BTC, ETH, SOL...)
	Symbol string
	// Сырой символ биржи, используется в подписках
	RawSymbol string
	// Объём торгов за 24 часа в USD (0, если биржа не отдаёт)
	Volume24hUsd float64
}

// Connector - унифицированный интерфейс коннектора биржи
//
// Жизненный цикл:
//  1. FetchInstruments - получить список инструментов (REST)
//  2. Subscribe - выбрать инструменты для подписки
//  3. OnBBO/OnOrderBook/OnFunding/OnTrade/OnStatus - зарегистрировать callbacks
//  4. Connect - запустить потоки данных
//  5. Disconnect - остановить навсегда (без переподключений)
type Connector interface {
	// Name возвращает идентификатор биржи
	Name() models.Exchange

	// FetchInstruments загружает список инструментов с фильтром по объёму
	FetchInstruments(ctx context.Context) ([]Instrument, error)

	// Subscribe задаёт набор инструментов. Вызывается до Connect.
	Subscribe(instruments []Instrument)

	// Connect запускает потоки данных (WebSocket или REST опрос)
	Connect() error

	// Disconnect останавливает коннектор. Переподключения после
	// Disconnect не выполняются.
	Disconnect()

	// Callbacks. Возвращаемая функция отписывает.
	OnBBO(func(models.BBOUpdate)) func()
	OnOrderBook(func(models.OrderBookUpdate)) func()
	OnFunding(func(models.FundingUpdate)) func()
	OnTrade(func(models.TradeUpdate)) func()
	// OnStatus дополнительно немедленно вызывает callback с текущим статусом
	OnStatus(func(models.ConnectionStatus)) func()

	// Status возвращает текущий статус соединения
	Status() models.ConnectionStatus
}

// Options - общие настройки коннекторов
type Options struct {
	Logger *zap.Logger

	// Минимальный суточный объём инструмента, USD
	MinVolumeUsd float64

	// Интервал REST опроса ставок финансирования
	FundingPollInterval time.Duration

	// Интервал REST опроса цен (только ethereal)
	PricePollInterval time.Duration

	// Параметры переподключения WebSocket
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
}

// DefaultOptions - настройки по умолчанию
func DefaultOptions(logger *zap.Logger) Options {
	return Options{
		Logger:               logger,
		MinVolumeUsd:         500_000,
		FundingPollInterval:  10 * time.Second,
		PricePollInterval:    time.Second,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 10,
		ConnectTimeout:       10 * time.Second,
	}
}
