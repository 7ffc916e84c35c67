package exchange

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/models"
)

func newTestParadex() *Paradex {
	p := NewParadex(DefaultOptions(zap.NewNop()))
	p.Subscribe([]Instrument{{Symbol: "ETH", RawSymbol: "ETH-USD-PERP"}})
	return p
}

func TestParadexBBO(t *testing.T) {
	p := newTestParadex()

	var got *models.BBOUpdate
	p.OnBBO(func(u models.BBOUpdate) { got = &u })

	frame := `{
		"jsonrpc": "2.0",
		"method": "subscription",
		"params": {
			"channel": "bbo.ETH-USD-PERP",
			"data": {
				"market": "ETH-USD-PERP",
				"bid": "3500.25",
				"bid_size": "10.5",
				"ask": "3500.75",
				"ask_size": "8.2",
				"last_updated_at": 1700000000000
			}
		}
	}`
	p.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("BBO событие не пришло")
	}
	if got.Symbol != "ETH" {
		t.Errorf("символ не нормализован: %q", got.Symbol)
	}
	if got.Bid != 3500.25 || got.Ask != 3500.75 {
		t.Errorf("bid/ask = %v/%v", got.Bid, got.Ask)
	}
	if got.BidSize != 10.5 || got.AskSize != 8.2 {
		t.Errorf("размеры = %v/%v", got.BidSize, got.AskSize)
	}
}

func TestParadexOrderBook(t *testing.T) {
	p := newTestParadex()

	var got *models.OrderBookUpdate
	p.OnOrderBook(func(u models.OrderBookUpdate) { got = &u })

	frame := `{
		"params": {
			"channel": "order_book.ETH-USD-PERP",
			"data": {
				"market": "ETH-USD-PERP",
				"bids": [["3500.25","10.5"],["3500.00","20.0"]],
				"asks": [["3500.75","8.2"]],
				"last_updated_at": 1700000000000
			}
		}
	}`
	p.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("событие стакана не пришло")
	}
	if len(got.Bids) != 2 || len(got.Asks) != 1 {
		t.Fatalf("уровни: %d/%d", len(got.Bids), len(got.Asks))
	}
	if got.Bids[0].Price != 3500.25 || got.Bids[0].Size != 10.5 {
		t.Errorf("первый бид: %+v", got.Bids[0])
	}
	if got.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %v", got.Timestamp.UnixMilli())
	}
}

func TestParadexTrades(t *testing.T) {
	p := newTestParadex()

	var trades []models.TradeUpdate
	p.OnTrade(func(u models.TradeUpdate) { trades = append(trades, u) })

	// Одиночная сделка объектом
	p.handleMessage([]byte(`{
		"params": {
			"channel": "trades.ETH-USD-PERP",
			"data": {"market":"ETH-USD-PERP","price":"3500.5","size":"1.2","side":"BUY","created_at":1700000000000}
		}
	}`))

	// Пачка массивом
	p.handleMessage([]byte(`{
		"params": {
			"channel": "trades.ETH-USD-PERP",
			"data": [
				{"market":"ETH-USD-PERP","price":"3501.0","size":"0.5","side":"SELL","created_at":1700000000001}
			]
		}
	}`))

	if len(trades) != 2 {
		t.Fatalf("получено %d сделок, ожидали 2", len(trades))
	}
	if trades[0].Side != "buy" || trades[1].Side != "sell" {
		t.Errorf("стороны: %s, %s", trades[0].Side, trades[1].Side)
	}
	if trades[0].Price != 3500.5 {
		t.Errorf("цена = %v", trades[0].Price)
	}
}

func TestParadexIgnoresRPCResponses(t *testing.T) {
	p := newTestParadex()

	fired := false
	p.OnBBO(func(models.BBOUpdate) { fired = true })

	// Ответ на subscribe: params нет
	p.handleMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{"channel":"bbo.ETH-USD-PERP"}}`))
	// BBO чужого рынка
	p.handleMessage([]byte(`{"params":{"channel":"bbo.XRP-USD-PERP","data":{"market":"XRP-USD-PERP","bid":"1","ask":"2","last_updated_at":1}}}`))

	if fired {
		t.Error("callback сработал на служебном кадре")
	}
}

func TestParadexBBOWithoutTimestampDefaultsToNow(t *testing.T) {
	p := newTestParadex()

	var got *models.BBOUpdate
	p.OnBBO(func(u models.BBOUpdate) { got = &u })

	frame := `{
		"params": {
			"channel": "bbo.ETH-USD-PERP",
			"data": {
				"market": "ETH-USD-PERP",
				"bid": "3500.25",
				"bid_size": "10.5",
				"ask": "3500.75",
				"ask_size": "8.2"
			}
		}
	}`
	p.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("BBO событие не пришло")
	}
	// Без last_updated_at штамп должен быть временем приёма, а не эпохой
	if age := time.Since(got.Timestamp); age < 0 || age > time.Minute {
		t.Errorf("Timestamp = %v, ожидали время приёма", got.Timestamp)
	}
}
