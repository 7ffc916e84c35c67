package exchange

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/models"
	"arbscan/pkg/ratelimit"
)

const etherealRESTURL = "https://api.ethereal.trade/v1"

// Ethereal - коннектор к Ethereal
//
// Публичного WebSocket у биржи нет: цены опрашиваются REST endpoint'ом
// /product/market-price раз в секунду. Глубины стакана тоже нет -
// из best bid/ask синтезируется одноуровневый стакан, чтобы остальной
// конвейер работал с ethereal как с любой другой биржей.
//
// "Соединение" здесь условное: connected = последний опрос удался.
type Ethereal struct {
	opts    Options
	log     *zap.Logger
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	restURL string

	// Инструменты, выбранные Subscribe; productId -> нормализованный символ
	symbolByProduct map[string]string
	productIDs      string // готовая строка productIds для query

	status atomic.Value // models.ConnectionStatus

	bboCbs     callbackList[models.BBOUpdate]
	bookCbs    callbackList[models.OrderBookUpdate]
	fundingCbs callbackList[models.FundingUpdate]
	tradeCbs   callbackList[models.TradeUpdate]
	statusCbs  callbackList[models.ConnectionStatus]

	cancel context.CancelFunc
}

type etherealProduct struct {
	ID            string    `json:"id"`
	BaseTokenName string    `json:"baseTokenName"`
	EngineType    int       `json:"engineType"`
	Volume24h     flexFloat `json:"volume24h"`
	FundingRate   *string   `json:"fundingRate"`
	MarkPrice     flexFloat `json:"markPrice"`
	IndexPrice    flexFloat `json:"indexPrice"`
	NextFundingAt int64     `json:"nextFundingAt"`
}

type etherealMarketPrice struct {
	ProductID    string    `json:"productId"`
	BestBidPrice flexFloat `json:"bestBidPrice"`
	BestAskPrice flexFloat `json:"bestAskPrice"`
}

// NewEthereal создаёт коннектор
func NewEthereal(opts Options) *Ethereal {
	e := &Ethereal{
		opts:            opts,
		log:             opts.Logger.Named("ethereal"),
		http:            GetGlobalHTTPClient(),
		limiter:         ratelimit.New(5, 10),
		restURL:         etherealRESTURL,
		symbolByProduct: make(map[string]string),
	}
	e.status.Store(models.StatusDisconnected)
	return e
}

func (e *Ethereal) Name() models.Exchange {
	return models.ExchangeEthereal
}

func (e *Ethereal) setStatus(status models.ConnectionStatus) {
	if e.status.Swap(status) != status {
		e.statusCbs.emit(status)
	}
}

// FetchInstruments загружает список продуктов.
// engineType == 0 - бессрочные контракты; остальное (спот) пропускаем.
func (e *Ethereal) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		Data []etherealProduct `json:"data"`
	}
	if err := e.http.GetJSON(ctx, e.restURL+"/product", &resp); err != nil {
		return nil, err
	}

	instruments := make([]Instrument, 0, len(resp.Data))
	for _, product := range resp.Data {
		if product.EngineType != 0 {
			continue
		}
		if product.Volume24h.Float64() < e.opts.MinVolumeUsd {
			continue
		}
		instruments = append(instruments, Instrument{
			Symbol: NormalizeSymbol(product.BaseTokenName),
			// RawSymbol = productId: им адресуется endpoint цен
			RawSymbol:    product.ID,
			Volume24hUsd: product.Volume24h.Float64(),
		})
	}

	e.log.Info("instruments fetched",
		zap.Int("selected", len(instruments)),
		zap.Int("total", len(resp.Data)))
	return instruments, nil
}

// Subscribe запоминает продукты для опроса
func (e *Ethereal) Subscribe(instruments []Instrument) {
	ids := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		e.symbolByProduct[inst.RawSymbol] = inst.Symbol
		ids = append(ids, inst.RawSymbol)
	}
	e.productIDs = strings.Join(ids, ",")
}

// Connect запускает циклы опроса цен и фандинга
func (e *Ethereal) Connect() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.log.Info("connecting (REST polling)", zap.Int("products", len(e.symbolByProduct)))
	e.setStatus(models.StatusConnecting)

	go e.pricePollLoop(ctx)
	go e.fundingPollLoop(ctx)
	return nil
}

// Disconnect останавливает опрос
func (e *Ethereal) Disconnect() {
	if e.cancel != nil {
		e.cancel()
	}
	e.setStatus(models.StatusDisconnected)
}

func (e *Ethereal) Status() models.ConnectionStatus {
	return e.status.Load().(models.ConnectionStatus)
}

func (e *Ethereal) OnBBO(cb func(models.BBOUpdate)) func() {
	return e.bboCbs.add(cb)
}

func (e *Ethereal) OnOrderBook(cb func(models.OrderBookUpdate)) func() {
	return e.bookCbs.add(cb)
}

func (e *Ethereal) OnFunding(cb func(models.FundingUpdate)) func() {
	return e.fundingCbs.add(cb)
}

func (e *Ethereal) OnTrade(cb func(models.TradeUpdate)) func() {
	return e.tradeCbs.add(cb)
}

func (e *Ethereal) OnStatus(cb func(models.ConnectionStatus)) func() {
	unsub := e.statusCbs.add(cb)
	cb(e.Status())
	return unsub
}

func (e *Ethereal) pricePollLoop(ctx context.Context) {
	e.pollPrices(ctx)

	interval := e.opts.PricePollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollPrices(ctx)
		}
	}
}

// pollPrices забирает best bid/ask по всем продуктам одним запросом
func (e *Ethereal) pollPrices(ctx context.Context) {
	if e.productIDs == "" {
		return
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return
	}

	var resp struct {
		Data []etherealMarketPrice `json:"data"`
	}
	url := e.restURL + "/product/market-price?productIds=" + e.productIDs
	if err := e.http.GetJSON(ctx, url, &resp); err != nil {
		e.log.Warn("price poll failed", zap.Error(err))
		if e.Status() == models.StatusConnected {
			e.setStatus(models.StatusError)
		}
		return
	}

	if e.Status() != models.StatusConnected {
		e.setStatus(models.StatusConnected)
	}

	now := time.Now()
	for _, price := range resp.Data {
		symbol, ok := e.symbolByProduct[price.ProductID]
		if !ok {
			continue
		}

		bid := price.BestBidPrice.Float64()
		ask := price.BestAskPrice.Float64()
		if bid <= 0 || ask <= 0 {
			continue
		}

		e.bboCbs.emit(models.BBOUpdate{
			Exchange:  models.ExchangeEthereal,
			Symbol:    symbol,
			Bid:       bid,
			BidSize:   0,
			Ask:       ask,
			AskSize:   0,
			Timestamp: now,
		})

		// Глубины нет - синтезируем одноуровневый стакан из BBO
		e.bookCbs.emit(models.OrderBookUpdate{
			Exchange:   models.ExchangeEthereal,
			Symbol:     symbol,
			Bids:       []models.OrderBookLevel{{Price: bid, Size: 0}},
			Asks:       []models.OrderBookLevel{{Price: ask, Size: 0}},
			Timestamp:  now,
			ReceivedAt: now,
		})
	}
}

func (e *Ethereal) fundingPollLoop(ctx context.Context) {
	e.pollFunding(ctx)

	ticker := time.NewTicker(e.opts.FundingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollFunding(ctx)
		}
	}
}

func (e *Ethereal) pollFunding(ctx context.Context) {
	if err := e.limiter.Wait(ctx); err != nil {
		return
	}

	var resp struct {
		Data []etherealProduct `json:"data"`
	}
	if err := e.http.GetJSON(ctx, e.restURL+"/product", &resp); err != nil {
		e.log.Debug("funding poll failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, product := range resp.Data {
		symbol, ok := e.symbolByProduct[product.ID]
		if !ok || product.FundingRate == nil {
			continue
		}

		var fundingRate flexFloat
		if err := fundingRate.UnmarshalJSON([]byte(*product.FundingRate)); err != nil {
			continue
		}

		e.fundingCbs.emit(models.FundingUpdate{
			Exchange:        models.ExchangeEthereal,
			Symbol:          symbol,
			FundingRate:     fundingRate.Float64(),
			NextFundingTime: time.UnixMilli(product.NextFundingAt),
			MarkPrice:       product.MarkPrice.Float64(),
			IndexPrice:      product.IndexPrice.Float64(),
			Timestamp:       now,
		})
	}
}
