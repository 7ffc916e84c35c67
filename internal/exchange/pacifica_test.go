package exchange

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/models"
)

func newTestPacifica() *Pacifica {
	pc := NewPacifica(DefaultOptions(zap.NewNop()))
	pc.Subscribe([]Instrument{{Symbol: "SOL", RawSymbol: "SOL"}})
	return pc
}

func TestPacificaBBO(t *testing.T) {
	pc := newTestPacifica()

	var got *models.BBOUpdate
	pc.OnBBO(func(u models.BBOUpdate) { got = &u })

	frame := `{
		"channel": "bbo",
		"data": {"s":"SOL","b":"150.25","B":"100","a":"150.35","A":"80","t":1700000000000}
	}`
	pc.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("BBO событие не пришло")
	}
	if got.Exchange != models.ExchangePacifica || got.Symbol != "SOL" {
		t.Errorf("идентификация: %+v", got)
	}
	if got.Bid != 150.25 || got.Ask != 150.35 {
		t.Errorf("bid/ask = %v/%v", got.Bid, got.Ask)
	}
	if got.BidSize != 100 || got.AskSize != 80 {
		t.Errorf("размеры = %v/%v", got.BidSize, got.AskSize)
	}
}

func TestPacificaOrderBook(t *testing.T) {
	pc := newTestPacifica()

	var got *models.OrderBookUpdate
	pc.OnOrderBook(func(u models.OrderBookUpdate) { got = &u })

	frame := `{
		"channel": "orderbook",
		"data": {
			"s": "SOL",
			"bids": [["150.25","100"],["150.20","250"]],
			"asks": [["150.35","80"]],
			"t": 1700000000000
		}
	}`
	pc.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("событие стакана не пришло")
	}
	if len(got.Bids) != 2 || len(got.Asks) != 1 {
		t.Fatalf("уровни: %d/%d", len(got.Bids), len(got.Asks))
	}
	if got.Bids[1].Price != 150.20 || got.Bids[1].Size != 250 {
		t.Errorf("второй бид: %+v", got.Bids[1])
	}
}

func TestPacificaTrades(t *testing.T) {
	pc := newTestPacifica()

	var trades []models.TradeUpdate
	pc.OnTrade(func(u models.TradeUpdate) { trades = append(trades, u) })

	frame := `{
		"channel": "trades",
		"data": [
			{"s":"SOL","p":"150.30","q":"5","m":false,"t":1700000000001},
			{"s":"SOL","p":"150.28","q":"3","m":true,"t":1700000000002}
		]
	}`
	pc.handleMessage([]byte(frame))

	if len(trades) != 2 {
		t.Fatalf("получено %d сделок, ожидали 2", len(trades))
	}
	// m=true: покупатель был maker, агрессор продавал
	if trades[0].Side != "buy" || trades[1].Side != "sell" {
		t.Errorf("стороны: %s, %s", trades[0].Side, trades[1].Side)
	}
}

func TestPacificaCaseInsensitiveSymbols(t *testing.T) {
	pc := newTestPacifica()

	var got *models.BBOUpdate
	pc.OnBBO(func(u models.BBOUpdate) { got = &u })

	// Биржа может прислать символ в нижнем регистре
	pc.handleMessage([]byte(`{"channel":"bbo","data":{"s":"sol","b":"1","B":"1","a":"2","A":"1","t":1}}`))

	if got == nil {
		t.Fatal("символ в нижнем регистре не сопоставился")
	}
	if got.Symbol != "SOL" {
		t.Errorf("символ = %q", got.Symbol)
	}
}

func TestPacificaBBOWithoutTimestampDefaultsToNow(t *testing.T) {
	pc := newTestPacifica()

	var got *models.BBOUpdate
	pc.OnBBO(func(u models.BBOUpdate) { got = &u })

	frame := `{
		"channel": "bbo",
		"data": {"s":"SOL","b":"150.25","B":"100","a":"150.35","A":"80"}
	}`
	pc.handleMessage([]byte(frame))

	if got == nil {
		t.Fatal("BBO событие не пришло")
	}
	// Без t штамп должен быть временем приёма, а не эпохой
	if age := time.Since(got.Timestamp); age < 0 || age > time.Minute {
		t.Errorf("Timestamp = %v, ожидали время приёма", got.Timestamp)
	}
}
