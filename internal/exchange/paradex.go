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

const (
	paradexWSURL   = "wss://ws.api.prod.paradex.trade/v1"
	paradexRESTURL = "https://api.prod.paradex.trade/v1"
)

// Paradex - коннектор к Paradex (StarkNet L2)
//
// WebSocket использует JSON-RPC 2.0: подписки на каналы bbo.<market>,
// order_book.<market> и trades.<market>, каждая с нарастающим id.
// Фандинг через WS недоступен - опрашивается REST /markets/summary.
type Paradex struct {
	opts    Options
	log     *zap.Logger
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	session *WSSession

	symbolByRaw map[string]string

	// id исходящих JSON-RPC кадров
	messageID int64

	bboCbs     callbackList[models.BBOUpdate]
	bookCbs    callbackList[models.OrderBookUpdate]
	fundingCbs callbackList[models.FundingUpdate]
	tradeCbs   callbackList[models.TradeUpdate]
	statusCbs  callbackList[models.ConnectionStatus]

	cancel context.CancelFunc
}

type paradexFrame struct {
	Params struct {
		Channel string      `json:"channel"`
		Data    jsoniterRaw `json:"data"`
	} `json:"params"`
}

type paradexBBO struct {
	Market        string    `json:"market"`
	Bid           flexFloat `json:"bid"`
	BidSize       flexFloat `json:"bid_size"`
	Ask           flexFloat `json:"ask"`
	AskSize       flexFloat `json:"ask_size"`
	LastUpdatedAt int64     `json:"last_updated_at"`
}

type paradexOrderBook struct {
	Market        string         `json:"market"`
	Bids          [][2]flexFloat `json:"bids"`
	Asks          [][2]flexFloat `json:"asks"`
	LastUpdatedAt int64          `json:"last_updated_at"`
}

type paradexTrade struct {
	Market    string    `json:"market"`
	Price     flexFloat `json:"price"`
	Size      flexFloat `json:"size"`
	Side      string    `json:"side"`
	CreatedAt int64     `json:"created_at"`
}

type paradexMarketSummary struct {
	Symbol        string    `json:"symbol"`
	Volume24h     flexFloat `json:"volume_24h"`
	FundingRate   *string   `json:"funding_rate"`
	MarkPrice     flexFloat `json:"mark_price"`
	IndexPrice    flexFloat `json:"underlying_price"`
	OraclePrice   flexFloat `json:"oracle_price"`
	NextFundingAt int64     `json:"next_funding_at"`
}

type paradexSummaryResponse struct {
	Results []paradexMarketSummary `json:"results"`
}

// NewParadex создаёт коннектор
func NewParadex(opts Options) *Paradex {
	p := &Paradex{
		opts:        opts,
		log:         opts.Logger.Named("paradex"),
		http:        GetGlobalHTTPClient(),
		limiter:     ratelimit.New(5, 10),
		symbolByRaw: make(map[string]string),
	}

	p.session = NewWSSession("paradex", paradexWSURL, WSConfig{
		ReconnectDelay: opts.ReconnectDelay,
		MaxAttempts:    opts.MaxReconnectAttempts,
		ConnectTimeout: opts.ConnectTimeout,
		PingInterval:   15 * time.Second,
		StaleAfter:     30 * time.Second,
	}, opts.Logger)

	p.session.SetOnMessage(p.handleMessage)
	p.session.SetOnStatus(func(st models.ConnectionStatus) { p.statusCbs.emit(st) })
	p.session.SetPingFrame(func() interface{} {
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      atomic.AddInt64(&p.messageID, 1),
			"method":  "heartbeat",
		}
	})

	return p
}

func (p *Paradex) Name() models.Exchange {
	return models.ExchangeParadex
}

// FetchInstruments загружает рынки. Берём только бессрочные -USD-PERP
// с суточным объёмом выше порога.
func (p *Paradex) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp paradexSummaryResponse
	if err := p.http.GetJSON(ctx, paradexRESTURL+"/markets/summary?market=ALL", &resp); err != nil {
		return nil, err
	}

	instruments := make([]Instrument, 0, len(resp.Results))
	for _, market := range resp.Results {
		if !strings.HasSuffix(market.Symbol, "-USD-PERP") {
			continue
		}
		if market.Volume24h.Float64() < p.opts.MinVolumeUsd {
			continue
		}
		instruments = append(instruments, Instrument{
			Symbol:       NormalizeSymbol(market.Symbol),
			RawSymbol:    market.Symbol,
			Volume24hUsd: market.Volume24h.Float64(),
		})
	}

	p.log.Info("instruments fetched",
		zap.Int("selected", len(instruments)),
		zap.Int("total", len(resp.Results)))
	return instruments, nil
}

// Subscribe регистрирует JSON-RPC подписки bbo + order_book + trades
func (p *Paradex) Subscribe(instruments []Instrument) {
	for _, inst := range instruments {
		p.symbolByRaw[inst.RawSymbol] = inst.Symbol

		for _, channel := range []string{"bbo.", "order_book.", "trades."} {
			p.session.AddSubscription(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      atomic.AddInt64(&p.messageID, 1),
				"method":  "subscribe",
				"params":  map[string]string{"channel": channel + inst.RawSymbol},
			})
		}
	}
}

func (p *Paradex) Connect() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.fundingPollLoop(ctx)

	p.log.Info("connecting", zap.Int("symbols", len(p.symbolByRaw)))
	return p.session.Connect()
}

func (p *Paradex) Disconnect() {
	if p.cancel != nil {
		p.cancel()
	}
	p.session.Disconnect()
}

func (p *Paradex) Status() models.ConnectionStatus {
	return p.session.Status()
}

func (p *Paradex) OnBBO(cb func(models.BBOUpdate)) func() {
	return p.bboCbs.add(cb)
}

func (p *Paradex) OnOrderBook(cb func(models.OrderBookUpdate)) func() {
	return p.bookCbs.add(cb)
}

func (p *Paradex) OnFunding(cb func(models.FundingUpdate)) func() {
	return p.fundingCbs.add(cb)
}

func (p *Paradex) OnTrade(cb func(models.TradeUpdate)) func() {
	return p.tradeCbs.add(cb)
}

func (p *Paradex) OnStatus(cb func(models.ConnectionStatus)) func() {
	unsub := p.statusCbs.add(cb)
	cb(p.session.Status())
	return unsub
}

func (p *Paradex) handleMessage(data []byte) {
	receivedAt := time.Now()

	var frame paradexFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	channel := frame.Params.Channel
	if channel == "" || len(frame.Params.Data) == 0 {
		// Ответы на subscribe/heartbeat, не события
		return
	}

	switch {
	case strings.HasPrefix(channel, "bbo."):
		p.handleBBO(frame.Params.Data, receivedAt)
	case strings.HasPrefix(channel, "order_book."):
		p.handleOrderBook(frame.Params.Data, receivedAt)
	case strings.HasPrefix(channel, "trades."):
		p.handleTrades(frame.Params.Data, receivedAt)
	}
}

func (p *Paradex) handleBBO(data jsoniterRaw, receivedAt time.Time) {
	var bbo paradexBBO
	if err := json.Unmarshal(data, &bbo); err != nil {
		return
	}
	symbol, ok := p.symbolByRaw[bbo.Market]
	if !ok {
		return
	}

	// Кадр без last_updated_at не должен штамповаться эпохой -
	// такая ячейка навсегда застряла бы в устаревших
	timestamp := time.UnixMilli(bbo.LastUpdatedAt)
	if bbo.LastUpdatedAt == 0 {
		timestamp = receivedAt
	}

	p.bboCbs.emit(models.BBOUpdate{
		Exchange:  models.ExchangeParadex,
		Symbol:    symbol,
		Bid:       bbo.Bid.Float64(),
		BidSize:   bbo.BidSize.Float64(),
		Ask:       bbo.Ask.Float64(),
		AskSize:   bbo.AskSize.Float64(),
		Timestamp: timestamp,
	})
}

func (p *Paradex) handleOrderBook(data jsoniterRaw, receivedAt time.Time) {
	var book paradexOrderBook
	if err := json.Unmarshal(data, &book); err != nil {
		return
	}
	symbol, ok := p.symbolByRaw[book.Market]
	if !ok {
		return
	}

	timestamp := time.UnixMilli(book.LastUpdatedAt)
	if book.LastUpdatedAt == 0 {
		timestamp = receivedAt
	}

	p.bookCbs.emit(models.OrderBookUpdate{
		Exchange:   models.ExchangeParadex,
		Symbol:     symbol,
		Bids:       tupleLevels(book.Bids),
		Asks:       tupleLevels(book.Asks),
		Timestamp:  timestamp,
		ReceivedAt: receivedAt,
	})
}

func (p *Paradex) handleTrades(data jsoniterRaw, receivedAt time.Time) {
	// Канал может прислать одну сделку или пачку
	var trades []paradexTrade
	if len(data) > 0 && data[0] == '{' {
		var single paradexTrade
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		trades = append(trades, single)
	} else if err := json.Unmarshal(data, &trades); err != nil {
		return
	}

	for _, trade := range trades {
		symbol, ok := p.symbolByRaw[trade.Market]
		if !ok {
			continue
		}

		timestamp := time.UnixMilli(trade.CreatedAt)
		if trade.CreatedAt == 0 {
			timestamp = receivedAt
		}

		p.tradeCbs.emit(models.TradeUpdate{
			Exchange:  models.ExchangeParadex,
			Symbol:    symbol,
			Price:     trade.Price.Float64(),
			Size:      trade.Size.Float64(),
			Side:      strings.ToLower(trade.Side),
			Timestamp: timestamp,
		})
	}
}

// tupleLevels конвертирует уровни-тупли [цена, размер] в канонический вид
func tupleLevels(raw [][2]flexFloat) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, t := range raw {
		price := t[0].Float64()
		if price <= 0 {
			continue
		}
		levels = append(levels, models.OrderBookLevel{Price: price, Size: t[1].Float64()})
	}
	return levels
}

func (p *Paradex) fundingPollLoop(ctx context.Context) {
	p.pollFunding(ctx)

	ticker := time.NewTicker(p.opts.FundingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollFunding(ctx)
		}
	}
}

func (p *Paradex) pollFunding(ctx context.Context) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	var resp paradexSummaryResponse
	if err := p.http.GetJSON(ctx, paradexRESTURL+"/markets/summary?market=ALL", &resp); err != nil {
		p.log.Warn("funding poll failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, market := range resp.Results {
		symbol, ok := p.symbolByRaw[market.Symbol]
		if !ok || market.FundingRate == nil {
			continue
		}

		var fundingRate flexFloat
		if err := fundingRate.UnmarshalJSON([]byte(*market.FundingRate)); err != nil {
			continue
		}

		indexPrice := market.IndexPrice.Float64()
		if indexPrice == 0 {
			indexPrice = market.OraclePrice.Float64()
		}

		p.fundingCbs.emit(models.FundingUpdate{
			Exchange:        models.ExchangeParadex,
			Symbol:          symbol,
			FundingRate:     fundingRate.Float64(),
			NextFundingTime: time.UnixMilli(market.NextFundingAt),
			MarkPrice:       market.MarkPrice.Float64(),
			IndexPrice:      indexPrice,
			Timestamp:       now,
		})
	}
}
