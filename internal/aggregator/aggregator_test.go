package aggregator

import (
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/fees"
	"arbscan/internal/models"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a := New(DefaultConfig(), fees.NewRegistry(), zap.NewNop())
	t.Cleanup(a.Stop)
	return a
}

func bbo(exchange models.Exchange, symbol string, bid, ask float64) models.BBOUpdate {
	return models.BBOUpdate{
		Exchange:  exchange,
		Symbol:    symbol,
		Bid:       bid,
		BidSize:   100,
		Ask:       ask,
		AskSize:   100,
		Timestamp: time.Now(),
	}
}

func TestOpportunityEmittedOnCrossedPair(t *testing.T) {
	a := newTestAggregator(t)

	var mu sync.Mutex
	var emitted []*models.ArbitrageOpportunity
	a.OnOpportunity(func(opp *models.ArbitrageOpportunity) {
		mu.Lock()
		emitted = append(emitted, opp)
		mu.Unlock()
	})

	// Одна биржа - возможности нет
	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	mu.Lock()
	if len(emitted) != 0 {
		t.Fatalf("возможность с одной биржей: %d", len(emitted))
	}
	mu.Unlock()

	// Вторая биржа с бидом выше аска первой: покупка hyperliquid, продажа paradex
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("получено %d возможностей, ожидали 1", len(emitted))
	}
	opp := emitted[0]
	if opp.BuyExchange != models.ExchangeHyperliquid || opp.SellExchange != models.ExchangeParadex {
		t.Errorf("направление: buy=%s sell=%s", opp.BuyExchange, opp.SellExchange)
	}
	if opp.ID != "BTC_hyperliquid_paradex" {
		t.Errorf("id = %q", opp.ID)
	}
	if opp.BuyPrice != 100000 || opp.SellPrice != 100150 {
		t.Errorf("цены: %v/%v", opp.BuyPrice, opp.SellPrice)
	}
}

func TestOrderBookWithoutBBOIsDropped(t *testing.T) {
	a := newTestAggregator(t)

	a.IngestOrderBook(models.OrderBookUpdate{
		Exchange:   models.ExchangeHyperliquid,
		Symbol:     "ETH",
		Bids:       []models.OrderBookLevel{{Price: 3500, Size: 10}},
		Asks:       []models.OrderBookLevel{{Price: 3501, Size: 10}},
		Timestamp:  time.Now(),
		ReceivedAt: time.Now(),
	})

	// Ячейка не создана - стакан до BBO игнорируется
	shard := a.shardFor("ETH")
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.cells["ETH"]; ok {
		t.Error("стакан без BBO создал ячейку")
	}
}

func TestSyntheticBookReplacedByRealBook(t *testing.T) {
	a := newTestAggregator(t)

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))

	shard := a.shardFor("BTC")
	shard.mu.Lock()
	cell := shard.cells["BTC"][models.ExchangeHyperliquid]
	if len(cell.Bids) != 1 || cell.Bids[0].Price != 99990 {
		t.Fatalf("синтетический стакан: %+v", cell.Bids)
	}
	shard.mu.Unlock()

	a.IngestOrderBook(models.OrderBookUpdate{
		Exchange: models.ExchangeHyperliquid,
		Symbol:   "BTC",
		Bids: []models.OrderBookLevel{
			{Price: 99990, Size: 5},
			{Price: 99980, Size: 10},
		},
		Asks: []models.OrderBookLevel{
			{Price: 100000, Size: 5},
			{Price: 100010, Size: 10},
		},
		Timestamp:  time.Now(),
		ReceivedAt: time.Now(),
	})

	// Свежий BBO не должен затирать настоящий стакан
	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99991, 100001))

	shard.mu.Lock()
	defer shard.mu.Unlock()
	cell = shard.cells["BTC"][models.ExchangeHyperliquid]
	if len(cell.Bids) != 2 {
		t.Errorf("BBO затёр настоящий стакан: %d уровней", len(cell.Bids))
	}
	if cell.Bid != 99991 {
		t.Errorf("BBO не обновился: %v", cell.Bid)
	}
}

func TestRemoveEmittedWhenPairUncrosses(t *testing.T) {
	a := newTestAggregator(t)

	var mu sync.Mutex
	var removed []string
	a.OnRemove(func(id string) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
	})

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	// Спред схлопнулся: бид paradex упал ниже аска hyperliquid
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 99900, 100100))

	mu.Lock()
	defer mu.Unlock()
	if len(removed) != 1 {
		t.Fatalf("получено %d отмен, ожидали 1", len(removed))
	}
	if removed[0] != "BTC_hyperliquid_paradex" {
		t.Errorf("отменён id = %q", removed[0])
	}
}

func TestLifecycleContinuity(t *testing.T) {
	a := newTestAggregator(t)

	var mu sync.Mutex
	var emitted []*models.ArbitrageOpportunity
	a.OnOpportunity(func(opp *models.ArbitrageOpportunity) {
		mu.Lock()
		emitted = append(emitted, opp)
		mu.Unlock()
	})

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100160, 100210))

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("получено %d возможностей, ожидали 2", len(emitted))
	}
	if emitted[0].Lifecycle.OccurrenceCount != 1 {
		t.Errorf("первый occurrence = %d", emitted[0].Lifecycle.OccurrenceCount)
	}
	if emitted[1].Lifecycle.OccurrenceCount != 2 {
		t.Errorf("второй occurrence = %d, история не продолжилась", emitted[1].Lifecycle.OccurrenceCount)
	}
	if !emitted[1].Lifecycle.FirstSeenAt.Equal(emitted[0].Lifecycle.FirstSeenAt) {
		t.Error("FirstSeenAt изменился между пересчётами")
	}
}

func TestStaleLegMakesOpportunityTheoretical(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = time.Nanosecond
	cfg.Calculator.StaleAfter = time.Nanosecond

	a := New(cfg, fees.NewRegistry(), zap.NewNop())
	defer a.Stop()

	var mu sync.Mutex
	var emitted []*models.ArbitrageOpportunity
	a.OnOpportunity(func(opp *models.ArbitrageOpportunity) {
		mu.Lock()
		emitted = append(emitted, opp)
		mu.Unlock()
	})

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	time.Sleep(time.Millisecond)
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) == 0 {
		t.Fatal("возможность не эмитирована")
	}
	opp := emitted[len(emitted)-1]
	if opp.Status != models.StatusTheoretical {
		t.Errorf("статус = %v, устаревшая нога должна давать theoretical", opp.Status)
	}
	if !opp.Risk.StaleDataRisk {
		t.Error("StaleDataRisk не взведён")
	}
}

func TestAllOpportunitiesSortedAndReadOnly(t *testing.T) {
	a := newTestAggregator(t)

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))
	a.IngestBBO(bbo(models.ExchangeHyperliquid, "ETH", 3500.0, 3500.5))
	a.IngestBBO(bbo(models.ExchangeParadex, "ETH", 3501.0, 3501.5))

	first := a.AllOpportunities()
	if len(first) == 0 {
		t.Fatal("снапшот пуст")
	}
	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Fatalf("снапшот не отсортирован по score: %v после %v", first[i].Score, first[i-1].Score)
		}
	}

	// Повторный снапшот не должен накручивать occurrenceCount
	second := a.AllOpportunities()
	for i := range second {
		if second[i].Lifecycle.OccurrenceCount != first[i].Lifecycle.OccurrenceCount {
			t.Error("снапшот продвинул lifecycle")
			break
		}
	}
}

func TestStatusCallbackImmediateForAllExchanges(t *testing.T) {
	a := newTestAggregator(t)

	got := make(map[models.Exchange]models.ConnectionStatus)
	a.OnStatus(func(ex models.Exchange, st models.ConnectionStatus) {
		got[ex] = st
	})

	if len(got) != len(models.AllExchanges()) {
		t.Fatalf("статусов при подписке: %d, ожидали %d", len(got), len(models.AllExchanges()))
	}
	for ex, st := range got {
		if st != models.StatusDisconnected {
			t.Errorf("%s: начальный статус %v", ex, st)
		}
	}

	a.IngestStatus(models.ExchangeHyperliquid, models.StatusConnected)
	if got[models.ExchangeHyperliquid] != models.StatusConnected {
		t.Error("смена статуса не дошла до подписчика")
	}
}

func TestLifecycleEviction(t *testing.T) {
	a := newTestAggregator(t)

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	// Активная запись не выселяется даже из "будущего"
	a.evictStaleLifecycles(time.Now().Add(time.Hour))

	shard := a.shardFor("BTC")
	shard.mu.Lock()
	if len(shard.lifecycles) == 0 {
		t.Fatal("активный lifecycle выселен")
	}
	shard.mu.Unlock()

	// Схлопываем спред: запись становится неактивной
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 99900, 100100))

	a.evictStaleLifecycles(time.Now().Add(time.Hour))

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if len(shard.lifecycles) != 0 {
		t.Error("неактивный просроченный lifecycle не выселен")
	}
}

func TestStats(t *testing.T) {
	a := newTestAggregator(t)

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	stats := a.Stats()
	if stats.TotalSymbols != 1 {
		t.Errorf("TotalSymbols = %d", stats.TotalSymbols)
	}
	if stats.TotalOpportunities != 1 {
		t.Errorf("TotalOpportunities = %d", stats.TotalOpportunities)
	}
	if stats.UptimeMs < 0 {
		t.Errorf("UptimeMs = %d", stats.UptimeMs)
	}
}

func TestInvalidBBORejected(t *testing.T) {
	a := newTestAggregator(t)

	var mu sync.Mutex
	emitted := 0
	a.OnOpportunity(func(*models.ArbitrageOpportunity) {
		mu.Lock()
		emitted++
		mu.Unlock()
	})

	// Котировка с нулевой стороной не создаёт ячейку
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100.50, 0))

	shard := a.shardFor("BTC")
	shard.mu.Lock()
	if _, ok := shard.cells["BTC"]; ok {
		t.Fatal("битая котировка создала ячейку")
	}
	shard.mu.Unlock()

	// Хорошая ячейка переживает NaN/Inf/нулевые обновления
	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	for _, bad := range []models.BBOUpdate{
		bbo(models.ExchangeParadex, "BTC", math.NaN(), 100200),
		bbo(models.ExchangeParadex, "BTC", 100150, math.Inf(1)),
		bbo(models.ExchangeParadex, "BTC", -1, 100200),
		bbo(models.ExchangeParadex, "BTC", 100150, 0),
	} {
		a.IngestBBO(bad)
	}

	shard.mu.Lock()
	cell := shard.cells["BTC"][models.ExchangeParadex]
	if cell.Bid != 100150 || cell.Ask != 100200 {
		t.Errorf("битые котировки перезаписали ячейку: %v/%v", cell.Bid, cell.Ask)
	}
	if math.IsNaN(cell.MidPrice) {
		t.Error("mid стал NaN")
	}
	shard.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if emitted != 1 {
		t.Errorf("эмиссий: %d, битые котировки не должны порождать пересчёт", emitted)
	}
}

func TestLaggingVenueTimestampFlagsStale(t *testing.T) {
	a := newTestAggregator(t)

	// Фид отстал: TCP жив, сообщения приходят, но время биржи старое
	lagging := bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000)
	lagging.Timestamp = time.Now().Add(-time.Hour)
	a.IngestBBO(lagging)
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	shard := a.shardFor("BTC")
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if !shard.cells["BTC"][models.ExchangeHyperliquid].IsStale {
		t.Error("отставший по времени биржи фид не помечен устаревшим")
	}
	if shard.cells["BTC"][models.ExchangeParadex].IsStale {
		t.Error("свежая ячейка помечена устаревшей")
	}
}

func TestFundingUpdateDoesNotRecompute(t *testing.T) {
	a := newTestAggregator(t)

	var mu sync.Mutex
	var emitted []*models.ArbitrageOpportunity
	a.OnOpportunity(func(opp *models.ArbitrageOpportunity) {
		mu.Lock()
		emitted = append(emitted, opp)
		mu.Unlock()
	})

	a.IngestBBO(bbo(models.ExchangeHyperliquid, "BTC", 99990, 100000))
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100150, 100200))

	a.IngestFunding(models.FundingUpdate{
		Exchange:    models.ExchangeHyperliquid,
		Symbol:      "BTC",
		FundingRate: 0.0001,
		MarkPrice:   100000,
	})

	// Фандинг не продвигает lifecycle: REST опрос не означает
	// нового появления возможности
	mu.Lock()
	if len(emitted) != 1 {
		mu.Unlock()
		t.Fatalf("эмиссий после фандинга: %d, ожидали 1", len(emitted))
	}
	mu.Unlock()

	// Но ставка попадает в следующий ценовой пересчёт
	a.IngestBBO(bbo(models.ExchangeParadex, "BTC", 100160, 100210))

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 2 {
		t.Fatalf("эмиссий: %d", len(emitted))
	}
	if emitted[1].BuyFundingRate != 0.0001 {
		t.Errorf("BuyFundingRate = %v, ставка не дошла до расчёта", emitted[1].BuyFundingRate)
	}
	if emitted[1].Lifecycle.OccurrenceCount != 2 {
		t.Errorf("occurrence = %d", emitted[1].Lifecycle.OccurrenceCount)
	}
}
