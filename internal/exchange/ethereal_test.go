package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"arbscan/internal/models"
)

func etherealTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"id":"prod-1","baseTokenName":"BTC","engineType":0,"volume24h":"2500000","fundingRate":"0.0001","markPrice":"100000","indexPrice":"99990","nextFundingAt":1700003600000},
			{"id":"prod-2","baseTokenName":"DUST","engineType":0,"volume24h":"1000"},
			{"id":"prod-3","baseTokenName":"SPOT","engineType":1,"volume24h":"9000000"}
		]}`))
	})
	mux.HandleFunc("/product/market-price", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("productIds") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"productId":"prod-1","bestBidPrice":"99995.5","bestAskPrice":"100005.5"}
		]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEtherealFetchInstruments(t *testing.T) {
	srv := etherealTestServer(t)

	e := NewEthereal(DefaultOptions(zap.NewNop()))
	e.restURL = srv.URL

	instruments, err := e.FetchInstruments(context.Background())
	if err != nil {
		t.Fatalf("FetchInstruments: %v", err)
	}

	// Низкий объём и не-perp двигатель отфильтрованы
	if len(instruments) != 1 {
		t.Fatalf("получено %d инструментов, ожидали 1", len(instruments))
	}
	if instruments[0].Symbol != "BTC" || instruments[0].RawSymbol != "prod-1" {
		t.Errorf("инструмент: %+v", instruments[0])
	}
	if instruments[0].Volume24hUsd != 2_500_000 {
		t.Errorf("объём = %v", instruments[0].Volume24hUsd)
	}
}

func TestEtherealPollPrices(t *testing.T) {
	srv := etherealTestServer(t)

	e := NewEthereal(DefaultOptions(zap.NewNop()))
	e.restURL = srv.URL
	e.Subscribe([]Instrument{{Symbol: "BTC", RawSymbol: "prod-1"}})

	var gotBBO *models.BBOUpdate
	var gotBook *models.OrderBookUpdate
	e.OnBBO(func(u models.BBOUpdate) { gotBBO = &u })
	e.OnOrderBook(func(u models.OrderBookUpdate) { gotBook = &u })

	e.pollPrices(context.Background())

	if gotBBO == nil {
		t.Fatal("BBO событие не пришло")
	}
	if gotBBO.Bid != 99995.5 || gotBBO.Ask != 100005.5 {
		t.Errorf("bid/ask = %v/%v", gotBBO.Bid, gotBBO.Ask)
	}

	if gotBook == nil {
		t.Fatal("синтетический стакан не пришёл")
	}
	if len(gotBook.Bids) != 1 || len(gotBook.Asks) != 1 {
		t.Fatalf("уровни: %d/%d, ожидали одноуровневый стакан", len(gotBook.Bids), len(gotBook.Asks))
	}
	if gotBook.Bids[0].Price != 99995.5 {
		t.Errorf("бид стакана: %+v", gotBook.Bids[0])
	}

	if e.Status() != models.StatusConnected {
		t.Errorf("статус после удачного опроса = %v", e.Status())
	}
}

func TestEtherealPollErrorSetsErrorStatus(t *testing.T) {
	srv := etherealTestServer(t)

	e := NewEthereal(DefaultOptions(zap.NewNop()))
	e.restURL = srv.URL
	e.Subscribe([]Instrument{{Symbol: "BTC", RawSymbol: "prod-1"}})

	e.pollPrices(context.Background())
	if e.Status() != models.StatusConnected {
		t.Fatalf("статус = %v", e.Status())
	}

	// Сервер падает - следующий опрос должен перевести статус в error
	srv.Close()
	e.pollPrices(context.Background())

	if e.Status() != models.StatusError {
		t.Errorf("статус после ошибки = %v, ожидали error", e.Status())
	}
}

func TestEtherealFunding(t *testing.T) {
	srv := etherealTestServer(t)

	e := NewEthereal(DefaultOptions(zap.NewNop()))
	e.restURL = srv.URL
	e.Subscribe([]Instrument{{Symbol: "BTC", RawSymbol: "prod-1"}})

	var got *models.FundingUpdate
	e.OnFunding(func(u models.FundingUpdate) { got = &u })

	e.pollFunding(context.Background())

	if got == nil {
		t.Fatal("фандинг не пришёл")
	}
	if got.FundingRate != 0.0001 {
		t.Errorf("ставка = %v", got.FundingRate)
	}
	if got.MarkPrice != 100000 || got.IndexPrice != 99990 {
		t.Errorf("цены: mark=%v index=%v", got.MarkPrice, got.IndexPrice)
	}
}

func TestEtherealStatusCallbackImmediate(t *testing.T) {
	e := NewEthereal(DefaultOptions(zap.NewNop()))

	var got []models.ConnectionStatus
	e.OnStatus(func(st models.ConnectionStatus) { got = append(got, st) })

	if len(got) != 1 || got[0] != models.StatusDisconnected {
		t.Errorf("OnStatus должен немедленно отдать текущий статус, получили %v", got)
	}
}
