package exchange

import (
	"testing"

	"go.uber.org/zap"

	"arbscan/internal/models"
)

func newTestHyperliquid() *Hyperliquid {
	h := NewHyperliquid(DefaultOptions(zap.NewNop()))
	h.Subscribe([]Instrument{{Symbol: "BTC", RawSymbol: "BTC"}})
	return h
}

func TestHyperliquidL2Book(t *testing.T) {
	h := newTestHyperliquid()

	var gotBBO *models.BBOUpdate
	var gotBook *models.OrderBookUpdate
	h.OnBBO(func(u models.BBOUpdate) { gotBBO = &u })
	h.OnOrderBook(func(u models.OrderBookUpdate) { gotBook = &u })

	frame := `{
		"channel": "l2Book",
		"data": {
			"coin": "BTC",
			"time": 1700000000000,
			"levels": [
				[{"px":"99950.0","sz":"1.5","n":3},{"px":"99900.0","sz":"2.0","n":1}],
				[{"px":"100050.0","sz":"0.8","n":2},{"px":"100100.0","sz":"3.1","n":4}]
			]
		}
	}`
	h.handleMessage([]byte(frame))

	if gotBBO == nil {
		t.Fatal("BBO событие не пришло")
	}
	if gotBBO.Symbol != "BTC" || gotBBO.Exchange != models.ExchangeHyperliquid {
		t.Errorf("неверная идентификация: %+v", gotBBO)
	}
	if gotBBO.Bid != 99950.0 || gotBBO.Ask != 100050.0 {
		t.Errorf("bid/ask = %v/%v", gotBBO.Bid, gotBBO.Ask)
	}
	if gotBBO.BidSize != 1.5 || gotBBO.AskSize != 0.8 {
		t.Errorf("размеры = %v/%v", gotBBO.BidSize, gotBBO.AskSize)
	}
	if gotBBO.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %v", gotBBO.Timestamp.UnixMilli())
	}

	if gotBook == nil {
		t.Fatal("событие стакана не пришло")
	}
	if len(gotBook.Bids) != 2 || len(gotBook.Asks) != 2 {
		t.Fatalf("уровни: %d бидов, %d асков", len(gotBook.Bids), len(gotBook.Asks))
	}
	if gotBook.Bids[1].Price != 99900.0 || gotBook.Bids[1].Size != 2.0 {
		t.Errorf("второй бид: %+v", gotBook.Bids[1])
	}
	if gotBook.ReceivedAt.IsZero() {
		t.Error("receivedAt не проставлен")
	}
}

func TestHyperliquidTrades(t *testing.T) {
	h := newTestHyperliquid()

	var trades []models.TradeUpdate
	h.OnTrade(func(u models.TradeUpdate) { trades = append(trades, u) })

	frame := `{
		"channel": "trades",
		"data": [
			{"coin":"BTC","side":"B","px":"100000.5","sz":"0.25","time":1700000000123},
			{"coin":"BTC","side":"A","px":"100001.0","sz":"0.10","time":1700000000456},
			{"coin":"UNKNOWN","side":"B","px":"1.0","sz":"1.0","time":1700000000789}
		]
	}`
	h.handleMessage([]byte(frame))

	if len(trades) != 2 {
		t.Fatalf("получено %d сделок, ожидали 2 (неизвестный символ отбрасывается)", len(trades))
	}
	if trades[0].Side != "buy" || trades[1].Side != "sell" {
		t.Errorf("стороны: %s, %s", trades[0].Side, trades[1].Side)
	}
	if trades[0].Price != 100000.5 || trades[0].Size != 0.25 {
		t.Errorf("первая сделка: %+v", trades[0])
	}
}

func TestHyperliquidIgnoresUnknownAndMalformed(t *testing.T) {
	h := newTestHyperliquid()

	fired := false
	h.OnBBO(func(models.BBOUpdate) { fired = true })
	h.OnOrderBook(func(models.OrderBookUpdate) { fired = true })
	h.OnTrade(func(models.TradeUpdate) { fired = true })

	for _, frame := range []string{
		`{"channel":"subscriptionResponse"}`,
		`{"channel":"pong"}`,
		`{"channel":"l2Book","data":{"coin":"UNKNOWN","time":1,"levels":[[],[]]}}`,
		`{"channel":"l2Book","data":{"coin":"BTC","time":1,"levels":[[],[]]}}`,
		`not json at all`,
		`{}`,
	} {
		h.handleMessage([]byte(frame))
	}

	if fired {
		t.Error("callback сработал на служебном или битом кадре")
	}
}
