package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"arbscan/internal/models"
	"arbscan/pkg/ratelimit"
)

const (
	hyperliquidWSURL   = "wss://api.hyperliquid.xyz/ws"
	hyperliquidRESTURL = "https://api.hyperliquid.xyz"
)

// Hyperliquid - коннектор к Hyperliquid
//
// Live данные: WebSocket каналы l2Book и trades. Отдельного BBO канала нет,
// BBO извлекается из вершины каждого l2Book снапшота. Фандинг и объёмы:
// REST POST /info {"type":"metaAndAssetCtxs"}.
//
// Hyperliquid шлёт полный стакан на каждый тик - это самый горячий парсинг
// во всём сервисе, поэтому здесь fastjson вместо обычного декодера.
type Hyperliquid struct {
	opts    Options
	log     *zap.Logger
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	session *WSSession
	restURL string

	// Сырой coin -> нормализованный символ
	symbolByRaw map[string]string
	rawSymbols  []string

	bboCbs     callbackList[models.BBOUpdate]
	bookCbs    callbackList[models.OrderBookUpdate]
	fundingCbs callbackList[models.FundingUpdate]
	tradeCbs   callbackList[models.TradeUpdate]
	statusCbs  callbackList[models.ConnectionStatus]

	parsers fastjson.ParserPool

	cancel context.CancelFunc
}

// Ответ metaAndAssetCtxs: [meta, assetCtxs] - гетерогенный массив
type hlMeta struct {
	Universe []struct {
		Name       string `json:"name"`
		IsDelisted bool   `json:"isDelisted"`
	} `json:"universe"`
}

type hlAssetCtx struct {
	DayNtlVlm    string `json:"dayNtlVlm"`
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
	OraclePx     string `json:"oraclePx"`
}

// NewHyperliquid создаёт коннектор
func NewHyperliquid(opts Options) *Hyperliquid {
	h := &Hyperliquid{
		opts:        opts,
		log:         opts.Logger.Named("hyperliquid"),
		http:        GetGlobalHTTPClient(),
		limiter:     ratelimit.New(5, 10),
		restURL:     hyperliquidRESTURL,
		symbolByRaw: make(map[string]string),
	}

	h.session = NewWSSession("hyperliquid", hyperliquidWSURL, WSConfig{
		ReconnectDelay: opts.ReconnectDelay,
		MaxAttempts:    opts.MaxReconnectAttempts,
		ConnectTimeout: opts.ConnectTimeout,
		PingInterval:   15 * time.Second,
		StaleAfter:     30 * time.Second,
	}, opts.Logger)

	h.session.SetOnMessage(h.handleMessage)
	h.session.SetOnStatus(func(st models.ConnectionStatus) { h.statusCbs.emit(st) })
	h.session.SetPingFrame(func() interface{} {
		return map[string]string{"method": "ping"}
	})

	return h
}

// Name возвращает идентификатор биржи
func (h *Hyperliquid) Name() models.Exchange {
	return models.ExchangeHyperliquid
}

// FetchInstruments загружает вселенную инструментов.
// Делистнутые и неликвидные (суточный объём ниже порога) отбрасываются.
func (h *Hyperliquid) FetchInstruments(ctx context.Context) ([]Instrument, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw [2]jsoniterRaw
	body := map[string]string{"type": "metaAndAssetCtxs"}
	if err := h.http.PostJSON(ctx, h.restURL+"/info", body, &raw); err != nil {
		return nil, err
	}

	var meta hlMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, err
	}
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, err
	}

	instruments := make([]Instrument, 0, len(meta.Universe))
	for i, coin := range meta.Universe {
		if coin.IsDelisted || i >= len(ctxs) {
			continue
		}
		volume, _ := strconv.ParseFloat(ctxs[i].DayNtlVlm, 64)
		if volume < h.opts.MinVolumeUsd {
			continue
		}
		instruments = append(instruments, Instrument{
			Symbol:       NormalizeSymbol(coin.Name),
			RawSymbol:    coin.Name,
			Volume24hUsd: volume,
		})
	}

	h.log.Info("instruments fetched",
		zap.Int("selected", len(instruments)),
		zap.Int("total", len(meta.Universe)))
	return instruments, nil
}

// Subscribe регистрирует подписки l2Book + trades по каждому инструменту
func (h *Hyperliquid) Subscribe(instruments []Instrument) {
	h.rawSymbols = h.rawSymbols[:0]
	for _, inst := range instruments {
		h.symbolByRaw[inst.RawSymbol] = inst.Symbol
		h.rawSymbols = append(h.rawSymbols, inst.RawSymbol)

		h.session.AddSubscription(map[string]interface{}{
			"method":       "subscribe",
			"subscription": map[string]string{"type": "l2Book", "coin": inst.RawSymbol},
		})
		h.session.AddSubscription(map[string]interface{}{
			"method":       "subscribe",
			"subscription": map[string]string{"type": "trades", "coin": inst.RawSymbol},
		})
	}
}

// Connect открывает WebSocket и запускает опрос фандинга
func (h *Hyperliquid) Connect() error {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.fundingPollLoop(ctx)

	h.log.Info("connecting", zap.Int("symbols", len(h.rawSymbols)))
	return h.session.Connect()
}

// Disconnect останавливает коннектор навсегда
func (h *Hyperliquid) Disconnect() {
	if h.cancel != nil {
		h.cancel()
	}
	h.session.Disconnect()
}

func (h *Hyperliquid) Status() models.ConnectionStatus {
	return h.session.Status()
}

func (h *Hyperliquid) OnBBO(cb func(models.BBOUpdate)) func() {
	return h.bboCbs.add(cb)
}

func (h *Hyperliquid) OnOrderBook(cb func(models.OrderBookUpdate)) func() {
	return h.bookCbs.add(cb)
}

func (h *Hyperliquid) OnFunding(cb func(models.FundingUpdate)) func() {
	return h.fundingCbs.add(cb)
}

func (h *Hyperliquid) OnTrade(cb func(models.TradeUpdate)) func() {
	return h.tradeCbs.add(cb)
}

func (h *Hyperliquid) OnStatus(cb func(models.ConnectionStatus)) func() {
	unsub := h.statusCbs.add(cb)
	cb(h.session.Status())
	return unsub
}

// handleMessage разбирает входящий кадр WebSocket
func (h *Hyperliquid) handleMessage(data []byte) {
	receivedAt := time.Now()

	p := h.parsers.Get()
	defer h.parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return
	}

	switch string(v.GetStringBytes("channel")) {
	case "l2Book":
		h.handleL2Book(v.Get("data"), receivedAt)
	case "trades":
		h.handleTrades(v.Get("data"), receivedAt)
	}
}

func (h *Hyperliquid) handleL2Book(data *fastjson.Value, receivedAt time.Time) {
	if data == nil {
		return
	}

	coin := string(data.GetStringBytes("coin"))
	symbol, ok := h.symbolByRaw[coin]
	if !ok {
		return
	}

	levels := data.GetArray("levels")
	if len(levels) < 2 {
		return
	}

	bids := parseHLLevels(levels[0].GetArray())
	asks := parseHLLevels(levels[1].GetArray())
	if len(bids) == 0 || len(asks) == 0 {
		return
	}

	timestamp := time.UnixMilli(data.GetInt64("time"))

	h.bboCbs.emit(models.BBOUpdate{
		Exchange:  models.ExchangeHyperliquid,
		Symbol:    symbol,
		Bid:       bids[0].Price,
		BidSize:   bids[0].Size,
		Ask:       asks[0].Price,
		AskSize:   asks[0].Size,
		Timestamp: timestamp,
	})

	h.bookCbs.emit(models.OrderBookUpdate{
		Exchange:   models.ExchangeHyperliquid,
		Symbol:     symbol,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  timestamp,
		ReceivedAt: receivedAt,
	})
}

func (h *Hyperliquid) handleTrades(data *fastjson.Value, receivedAt time.Time) {
	if data == nil {
		return
	}

	for _, trade := range data.GetArray() {
		coin := string(trade.GetStringBytes("coin"))
		symbol, ok := h.symbolByRaw[coin]
		if !ok {
			continue
		}

		side := "sell"
		if string(trade.GetStringBytes("side")) == "B" {
			side = "buy"
		}

		timestamp := time.UnixMilli(trade.GetInt64("time"))
		if timestamp.IsZero() || trade.GetInt64("time") == 0 {
			timestamp = receivedAt
		}

		h.tradeCbs.emit(models.TradeUpdate{
			Exchange:  models.ExchangeHyperliquid,
			Symbol:    symbol,
			Price:     atofBytes(trade.GetStringBytes("px")),
			Size:      atofBytes(trade.GetStringBytes("sz")),
			Side:      side,
			Timestamp: timestamp,
		})
	}
}

// parseHLLevels конвертирует уровни {px, sz} в канонический вид
func parseHLLevels(raw []*fastjson.Value) []models.OrderBookLevel {
	levels := make([]models.OrderBookLevel, 0, len(raw))
	for _, lvl := range raw {
		price := atofBytes(lvl.GetStringBytes("px"))
		size := atofBytes(lvl.GetStringBytes("sz"))
		if price <= 0 {
			continue
		}
		levels = append(levels, models.OrderBookLevel{Price: price, Size: size})
	}
	return levels
}

func atofBytes(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0
	}
	return v
}

// fundingPollLoop опрашивает ставки финансирования
func (h *Hyperliquid) fundingPollLoop(ctx context.Context) {
	h.pollFunding(ctx)

	ticker := time.NewTicker(h.opts.FundingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollFunding(ctx)
		}
	}
}

func (h *Hyperliquid) pollFunding(ctx context.Context) {
	if err := h.limiter.Wait(ctx); err != nil {
		return
	}

	var raw [2]jsoniterRaw
	body := map[string]string{"type": "metaAndAssetCtxs"}
	if err := h.http.PostJSON(ctx, h.restURL+"/info", body, &raw); err != nil {
		h.log.Warn("funding poll failed", zap.Error(err))
		return
	}

	var meta hlMeta
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		h.log.Warn("funding poll: bad meta", zap.Error(err))
		return
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		h.log.Warn("funding poll: bad asset ctxs", zap.Error(err))
		return
	}

	now := time.Now()
	for i, coin := range meta.Universe {
		symbol, ok := h.symbolByRaw[coin.Name]
		if !ok || i >= len(ctxs) {
			continue
		}

		fundingRate, _ := strconv.ParseFloat(ctxs[i].Funding, 64)
		markPrice, _ := strconv.ParseFloat(ctxs[i].MarkPx, 64)
		indexPrice, _ := strconv.ParseFloat(ctxs[i].OraclePx, 64)

		h.fundingCbs.emit(models.FundingUpdate{
			Exchange:    models.ExchangeHyperliquid,
			Symbol:      symbol,
			FundingRate: fundingRate,
			// Фандинг Hyperliquid непрерывный, фиксированного времени нет
			NextFundingTime: time.Time{},
			MarkPrice:       markPrice,
			IndexPrice:      indexPrice,
			Timestamp:       now,
		})
	}
}
