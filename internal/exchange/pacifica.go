package exchange

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/models"
	"arbscan/pkg/ratelimit"
)

const (
	pacificaWSURL   = "wss://ws.pacifica.fi/ws"
	pacificaRESTURL = "https://api.pacifica.fi/api/v1"
)

// Pacifica - коннектор к Pacifica (Solana)
//
// WebSocket каналы bbo, orderbook и trades; в BBO однобуквенные поля
// (s/b/B/a/A/t) в стиле Binance. Фандинг опрашивается через REST /funding.
// Pacifica шлёт сообщения реже остальных, поэтому сторож тишины мягче: 60s.
type Pacifica struct {
	opts    Options
	log     *zap.Logger
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	session *WSSession

	symbolByRaw map[string]string

	bboCbs     callbackList[models.BBOUpdate]
	bookCbs    callbackList[models.OrderBookUpdate]
	fundingCbs callbackList[models.FundingUpdate]
	tradeCbs   callbackList[models.TradeUpdate]
	statusCbs  callbackList[models.ConnectionStatus]

	cancel context.CancelFunc
}

type pacificaFrame struct {
	Channel string      `json:"channel"`
	Data    jsoniterRaw `json:"data"`
}

type pacificaBBO struct {
	Symbol    string    `json:"s"`
	Bid       flexFloat `json:"b"`
	BidSize   flexFloat `json:"B"`
	Ask       flexFloat `json:"a"`
	AskSize   flexFloat `json:"A"`
	Timestamp int64     `json:"t"`
}

type pacificaOrderBook struct {
	Symbol    string         `json:"s"`
	Bids      [][2]flexFloat `json:"bids"`
	Asks      [][2]flexFloat `json:"asks"`
	Timestamp int64          `json:"t"`
}

type pacificaTrade struct {
	Symbol    string    `json:"s"`
	Price     flexFloat `json:"p"`
	Size      flexFloat `json:"q"`
	// Покупатель был maker'ом: агрессором выступил продавец
	BuyerIsMaker bool  `json:"m"`
	Timestamp    int64 `json:"t"`
}

type pacificaInstrument struct {
	Symbol    string    `json:"symbol"`
	Volume24h flexFloat `json:"volume_24h"`
}

type pacificaFundingInfo struct {
	Symbol        string    `json:"symbol"`
	FundingRate   flexFloat `json:"fundingRate"`
	MarkPrice     flexFloat `json:"markPrice"`
	IndexPrice    flexFloat `json:"indexPrice"`
	NextFundingAt int64     `json:"nextFundingAt"`
}

// NewPacifica создаёт коннектор
func NewPacifica(opts Options) *Pacifica {
	pc := &Pacifica{
		opts:        opts,
		log:         opts.Logger.Named("pacifica"),
		http:        GetGlobalHTTPClient(),
		limiter:     ratelimit.New(5, 10),
		symbolByRaw: make(map[string]string),
	}

	pc.session = NewWSSession("pacifica", pacificaWSURL, WSConfig{
		ReconnectDelay: opts.ReconnectDelay,
		MaxAttempts:    opts.MaxReconnectAttempts,
		ConnectTimeout: opts.ConnectTimeout,
		PingInterval:   30 * time.Second,
		StaleAfter:     60 * time.Second,
	}, opts.Logger)

	pc.session.SetOnMessage(pc.handleMessage)
	pc.session.SetOnStatus(func(st models.ConnectionStatus) { pc.statusCbs.emit(st) })
	pc.session.SetPingFrame(func() interface{} {
		return map[string]string{"method": "ping"}
	})

	return pc
}

func (pc *Pacifica) Name() models.Exchange {
	return models.ExchangePacifica
}

// FetchInstruments загружает список инструментов.
// Объём биржа отдаёт не всегда - фильтр применяется только когда он есть.
func (pc *Pacifica) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	if err := pc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		Data []pacificaInstrument `json:"data"`
	}
	if err := pc.http.GetJSON(ctx, pacificaRESTURL+"/info", &resp); err != nil {
		return nil, err
	}

	instruments := make([]Instrument, 0, len(resp.Data))
	for _, inst := range resp.Data {
		volume := inst.Volume24h.Float64()
		if volume > 0 && volume < pc.opts.MinVolumeUsd {
			continue
		}
		raw := strings.ToUpper(inst.Symbol)
		instruments = append(instruments, Instrument{
			Symbol:       NormalizeSymbol(raw),
			RawSymbol:    raw,
			Volume24hUsd: volume,
		})
	}

	pc.log.Info("instruments fetched",
		zap.Int("selected", len(instruments)),
		zap.Int("total", len(resp.Data)))
	return instruments, nil
}

// Subscribe регистрирует подписки bbo + orderbook + trades
func (pc *Pacifica) Subscribe(instruments []Instrument) {
	for _, inst := range instruments {
		pc.symbolByRaw[inst.RawSymbol] = inst.Symbol

		for _, source := range []string{"bbo", "orderbook", "trades"} {
			pc.session.AddSubscription(map[string]interface{}{
				"method": "subscribe",
				"params": map[string]string{"source": source, "symbol": inst.RawSymbol},
			})
		}
	}
}

func (pc *Pacifica) Connect() error {
	ctx, cancel := context.WithCancel(context.Background())
	pc.cancel = cancel
	go pc.fundingPollLoop(ctx)

	pc.log.Info("connecting", zap.Int("symbols", len(pc.symbolByRaw)))
	return pc.session.Connect()
}

func (pc *Pacifica) Disconnect() {
	if pc.cancel != nil {
		pc.cancel()
	}
	pc.session.Disconnect()
}

func (pc *Pacifica) Status() models.ConnectionStatus {
	return pc.session.Status()
}

func (pc *Pacifica) OnBBO(cb func(models.BBOUpdate)) func() {
	return pc.bboCbs.add(cb)
}

func (pc *Pacifica) OnOrderBook(cb func(models.OrderBookUpdate)) func() {
	return pc.bookCbs.add(cb)
}

func (pc *Pacifica) OnFunding(cb func(models.FundingUpdate)) func() {
	return pc.fundingCbs.add(cb)
}

func (pc *Pacifica) OnTrade(cb func(models.TradeUpdate)) func() {
	return pc.tradeCbs.add(cb)
}

func (pc *Pacifica) OnStatus(cb func(models.ConnectionStatus)) func() {
	unsub := pc.statusCbs.add(cb)
	cb(pc.session.Status())
	return unsub
}

func (pc *Pacifica) handleMessage(data []byte) {
	receivedAt := time.Now()

	var frame pacificaFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Channel == "" || len(frame.Data) == 0 {
		return
	}

	switch frame.Channel {
	case "bbo":
		pc.handleBBO(frame.Data, receivedAt)
	case "orderbook":
		pc.handleOrderBook(frame.Data, receivedAt)
	case "trades":
		pc.handleTrades(frame.Data, receivedAt)
	}
}

func (pc *Pacifica) handleBBO(data jsoniterRaw, receivedAt time.Time) {
	var bbo pacificaBBO
	if err := json.Unmarshal(data, &bbo); err != nil {
		return
	}
	symbol, ok := pc.symbolByRaw[strings.ToUpper(bbo.Symbol)]
	if !ok {
		return
	}

	// Кадр без t не должен штамповаться эпохой - такая ячейка
	// навсегда застряла бы в устаревших
	timestamp := time.UnixMilli(bbo.Timestamp)
	if bbo.Timestamp == 0 {
		timestamp = receivedAt
	}

	pc.bboCbs.emit(models.BBOUpdate{
		Exchange:  models.ExchangePacifica,
		Symbol:    symbol,
		Bid:       bbo.Bid.Float64(),
		BidSize:   bbo.BidSize.Float64(),
		Ask:       bbo.Ask.Float64(),
		AskSize:   bbo.AskSize.Float64(),
		Timestamp: timestamp,
	})
}

func (pc *Pacifica) handleOrderBook(data jsoniterRaw, receivedAt time.Time) {
	var book pacificaOrderBook
	if err := json.Unmarshal(data, &book); err != nil {
		return
	}
	symbol, ok := pc.symbolByRaw[strings.ToUpper(book.Symbol)]
	if !ok {
		return
	}

	timestamp := time.UnixMilli(book.Timestamp)
	if book.Timestamp == 0 {
		timestamp = receivedAt
	}

	pc.bookCbs.emit(models.OrderBookUpdate{
		Exchange:   models.ExchangePacifica,
		Symbol:     symbol,
		Bids:       tupleLevels(book.Bids),
		Asks:       tupleLevels(book.Asks),
		Timestamp:  timestamp,
		ReceivedAt: receivedAt,
	})
}

func (pc *Pacifica) handleTrades(data jsoniterRaw, receivedAt time.Time) {
	var trades []pacificaTrade
	if len(data) > 0 && data[0] == '{' {
		var single pacificaTrade
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		trades = append(trades, single)
	} else if err := json.Unmarshal(data, &trades); err != nil {
		return
	}

	for _, trade := range trades {
		symbol, ok := pc.symbolByRaw[strings.ToUpper(trade.Symbol)]
		if !ok {
			continue
		}

		side := "buy"
		if trade.BuyerIsMaker {
			side = "sell"
		}

		timestamp := time.UnixMilli(trade.Timestamp)
		if trade.Timestamp == 0 {
			timestamp = receivedAt
		}

		pc.tradeCbs.emit(models.TradeUpdate{
			Exchange:  models.ExchangePacifica,
			Symbol:    symbol,
			Price:     trade.Price.Float64(),
			Size:      trade.Size.Float64(),
			Side:      side,
			Timestamp: timestamp,
		})
	}
}

func (pc *Pacifica) fundingPollLoop(ctx context.Context) {
	pc.pollFunding(ctx)

	ticker := time.NewTicker(pc.opts.FundingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.pollFunding(ctx)
		}
	}
}

func (pc *Pacifica) pollFunding(ctx context.Context) {
	if err := pc.limiter.Wait(ctx); err != nil {
		return
	}

	var resp struct {
		Data []pacificaFundingInfo `json:"data"`
	}
	if err := pc.http.GetJSON(ctx, pacificaRESTURL+"/funding", &resp); err != nil {
		// Endpoint фандинга у pacifica нестабилен, не шумим на каждом опросе
		pc.log.Debug("funding poll failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, market := range resp.Data {
		symbol, ok := pc.symbolByRaw[strings.ToUpper(market.Symbol)]
		if !ok {
			continue
		}

		pc.fundingCbs.emit(models.FundingUpdate{
			Exchange:        models.ExchangePacifica,
			Symbol:          symbol,
			FundingRate:     market.FundingRate.Float64(),
			NextFundingTime: time.UnixMilli(market.NextFundingAt),
			MarkPrice:       market.MarkPrice.Float64(),
			IndexPrice:      market.IndexPrice.Float64(),
			Timestamp:       now,
		})
	}
}
