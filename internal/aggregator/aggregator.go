// Package aggregator сводит потоки всех бирж в единое состояние рынка
// и пересчитывает арбитражные возможности на каждом обновлении.
package aggregator

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"arbscan/internal/calculator"
	"arbscan/internal/fees"
	"arbscan/internal/models"
	"arbscan/pkg/utils"
)

// Config - настройки агрегатора
type Config struct {
	// Возраст данных, после которого ячейка помечается устаревшей
	StaleAfter time.Duration
	// Сколько хранить lifecycle исчезнувшей возможности
	LifecycleTTL time.Duration
	// Количество шардов блокировок (степень двойки не обязательна)
	NumShards int
	// Пороги расчётов
	Calculator calculator.Config
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		StaleAfter:   10 * time.Second,
		LifecycleTTL: 10 * time.Minute,
		NumShards:    32,
		Calculator:   calculator.DefaultConfig(),
	}
}

// stateShard - шард состояния рынка
//
// Все символы одного шарда защищены одним мьютексом. События разных
// символов почти всегда попадают в разные шарды и не конкурируют.
type stateShard struct {
	mu sync.Mutex

	// symbol -> биржа -> состояние рынка
	cells map[string]map[models.Exchange]*models.ExchangeMarketData

	// opportunity id -> история жизни (переживает исчезновение спреда)
	lifecycles map[string]*models.OpportunityLifecycle

	// Возможности, о которых подписчикам сообщалось и отмены ещё не было
	active map[string]struct{}
}

// Aggregator - центральный узел конвейера
//
// Коннекторы зовут Ingest* из своих горутин; подписчики (WebSocket хаб,
// REST API) получают готовые возможности через callbacks и снапшоты.
// Callbacks вызываются ПОСЛЕ освобождения шарда - подписчик не может
// заблокировать конвейер.
type Aggregator struct {
	cfg  Config
	log  *zap.Logger
	fees *fees.Registry

	shards []*stateShard

	// Статусы соединений бирж
	statusMu sync.RWMutex
	statuses map[models.Exchange]models.ConnectionStatus

	// Callbacks
	cbMu      sync.RWMutex
	nextCbID  int
	oppCbs    map[int]func(*models.ArbitrageOpportunity)
	removeCbs map[int]func(string)
	statusCbs map[int]func(models.Exchange, models.ConnectionStatus)

	// Счётчик событий для updates/sec
	eventCount int64 // atomic

	statsMu        sync.Mutex
	lastStatsAt    time.Time
	lastEventCount int64

	startedAt time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// New создаёт агрегатор и запускает уборщика lifecycle записей
func New(cfg Config, registry *fees.Registry, logger *zap.Logger) *Aggregator {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}

	shards := make([]*stateShard, cfg.NumShards)
	for i := range shards {
		shards[i] = &stateShard{
			cells:      make(map[string]map[models.Exchange]*models.ExchangeMarketData),
			lifecycles: make(map[string]*models.OpportunityLifecycle),
			active:     make(map[string]struct{}),
		}
	}

	statuses := make(map[models.Exchange]models.ConnectionStatus)
	for _, ex := range models.AllExchanges() {
		statuses[ex] = models.StatusDisconnected
	}

	a := &Aggregator{
		cfg:         cfg,
		log:         logger.Named("aggregator"),
		fees:        registry,
		shards:      shards,
		statuses:    statuses,
		oppCbs:      make(map[int]func(*models.ArbitrageOpportunity)),
		removeCbs:   make(map[int]func(string)),
		statusCbs:   make(map[int]func(models.Exchange, models.ConnectionStatus)),
		startedAt:   time.Now(),
		lastStatsAt: time.Now(),
		stopChan:    make(chan struct{}),
	}

	go a.janitorLoop()
	return a
}

// Stop останавливает фоновые горутины агрегатора
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

func (a *Aggregator) shardFor(symbol string) *stateShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return a.shards[h.Sum32()%uint32(len(a.shards))]
}

// ============================================================
// Приём событий
// ============================================================

// IngestBBO обрабатывает обновление best bid/offer.
//
// Котировка с NaN/Inf или неположительной стороной отбрасывается целиком:
// одна битая сторона делает mid и все производные расчёты мусором,
// а хорошую ячейку перезаписывать таким нельзя.
//
// Ячейка (символ, биржа) создаётся первым BBO событием. Пока полный
// стакан не пришёл, из BBO синтезируется одноуровневый стакан - расчёты
// работают сразу, пусть и с грубой глубиной.
func (a *Aggregator) IngestBBO(u models.BBOUpdate) {
	if !utils.IsFinitePositive(u.Bid) || !utils.IsFinitePositive(u.Ask) {
		eventsTotal.WithLabelValues(string(u.Exchange), "bbo_rejected").Inc()
		return
	}

	atomic.AddInt64(&a.eventCount, 1)
	eventsTotal.WithLabelValues(string(u.Exchange), "bbo").Inc()

	now := time.Now()
	shard := a.shardFor(u.Symbol)

	shard.mu.Lock()

	venues, ok := shard.cells[u.Symbol]
	if !ok {
		venues = make(map[models.Exchange]*models.ExchangeMarketData)
		shard.cells[u.Symbol] = venues
	}

	cell, ok := venues[u.Exchange]
	if !ok {
		cell = &models.ExchangeMarketData{
			Exchange: u.Exchange,
			Symbol:   u.Symbol,
		}
		venues[u.Exchange] = cell
	}

	cell.Bid = u.Bid
	cell.BidSize = u.BidSize
	cell.Ask = u.Ask
	cell.AskSize = u.AskSize
	cell.MidPrice = (u.Bid + u.Ask) / 2
	cell.Timestamp = u.Timestamp
	cell.ReceivedAt = now
	cell.LatencyMs = latencyMs(u.Timestamp, now)
	cell.IsStale = false

	// Настоящий стакан глубже одного уровня; одноуровневый можно
	// безопасно пересобрать из более свежего BBO
	if len(cell.Bids) <= 1 && len(cell.Asks) <= 1 {
		cell.Bids = []models.OrderBookLevel{{Price: u.Bid, Size: u.BidSize}}
		cell.Asks = []models.OrderBookLevel{{Price: u.Ask, Size: u.AskSize}}
		cell.BidDepthAtBps = calculator.DepthAtBps(cell.Bids, cell.MidPrice)
		cell.AskDepthAtBps = calculator.DepthAtBps(cell.Asks, cell.MidPrice)
	}

	emits, removes := a.recomputeLocked(shard, u.Symbol, now)
	shard.mu.Unlock()

	a.publish(emits, removes)
}

// IngestOrderBook обрабатывает полный стакан.
//
// Стакан без предшествующего BBO отбрасывается: ячейку создаёт только
// BBO, иначе расчёты работали бы с полупустым состоянием.
func (a *Aggregator) IngestOrderBook(u models.OrderBookUpdate) {
	atomic.AddInt64(&a.eventCount, 1)
	eventsTotal.WithLabelValues(string(u.Exchange), "orderbook").Inc()

	now := time.Now()
	shard := a.shardFor(u.Symbol)

	shard.mu.Lock()

	cell := a.cellLocked(shard, u.Symbol, u.Exchange)
	if cell == nil {
		shard.mu.Unlock()
		return
	}

	cell.Bids = u.Bids
	cell.Asks = u.Asks
	cell.Timestamp = u.Timestamp
	cell.ReceivedAt = u.ReceivedAt
	if cell.ReceivedAt.IsZero() {
		cell.ReceivedAt = now
	}
	cell.LatencyMs = latencyMs(u.Timestamp, cell.ReceivedAt)
	cell.IsStale = false

	mid := cell.MidPrice
	if mid <= 0 && len(u.Bids) > 0 && len(u.Asks) > 0 {
		mid = (u.Bids[0].Price + u.Asks[0].Price) / 2
	}
	cell.BidDepthAtBps = calculator.DepthAtBps(u.Bids, mid)
	cell.AskDepthAtBps = calculator.DepthAtBps(u.Asks, mid)

	emits, removes := a.recomputeLocked(shard, u.Symbol, now)
	shard.mu.Unlock()

	a.publish(emits, removes)
}

// IngestFunding обновляет ставку финансирования ячейки.
//
// Штамп времени рыночных данных не трогаем и пересчёт не запускаем:
// фандинг ничего не говорит ни о свежести цен, ни о появлении спреда.
// Новая ставка попадёт в возможность на ближайшем ценовом событии,
// а медленный REST опрос не накручивает occurrenceCount пар.
func (a *Aggregator) IngestFunding(u models.FundingUpdate) {
	atomic.AddInt64(&a.eventCount, 1)
	eventsTotal.WithLabelValues(string(u.Exchange), "funding").Inc()

	shard := a.shardFor(u.Symbol)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	cell := a.cellLocked(shard, u.Symbol, u.Exchange)
	if cell == nil {
		return
	}

	cell.FundingRate = u.FundingRate
	cell.MarkPrice = u.MarkPrice
	cell.IndexPrice = u.IndexPrice
}

// IngestTrade учитывает сделку в статистике потока.
// Сами сделки в расчёте спредов не участвуют.
func (a *Aggregator) IngestTrade(u models.TradeUpdate) {
	atomic.AddInt64(&a.eventCount, 1)
	eventsTotal.WithLabelValues(string(u.Exchange), "trade").Inc()
}

// IngestStatus фиксирует смену статуса соединения биржи
func (a *Aggregator) IngestStatus(exchange models.Exchange, status models.ConnectionStatus) {
	a.statusMu.Lock()
	prev := a.statuses[exchange]
	a.statuses[exchange] = status
	connected := 0
	for _, st := range a.statuses {
		if st == models.StatusConnected {
			connected++
		}
	}
	a.statusMu.Unlock()

	connectedExchanges.Set(float64(connected))

	if prev != status {
		a.log.Info("exchange status changed",
			zap.String("exchange", string(exchange)),
			zap.String("status", string(status)))
	}

	a.cbMu.RLock()
	cbs := make([]func(models.Exchange, models.ConnectionStatus), 0, len(a.statusCbs))
	for _, cb := range a.statusCbs {
		cbs = append(cbs, cb)
	}
	a.cbMu.RUnlock()

	for _, cb := range cbs {
		cb(exchange, status)
	}
}

// cellLocked возвращает ячейку или nil. Вызывается под локом шарда.
func (a *Aggregator) cellLocked(shard *stateShard, symbol string, exchange models.Exchange) *models.ExchangeMarketData {
	venues, ok := shard.cells[symbol]
	if !ok {
		return nil
	}
	return venues[exchange]
}

// ============================================================
// Пересчёт возможностей
// ============================================================

// recomputeLocked пересчитывает все упорядоченные пары бирж по символу.
// Вызывается под локом шарда; возвращает события для публикации после
// освобождения лока.
func (a *Aggregator) recomputeLocked(shard *stateShard, symbol string, now time.Time) ([]*models.ArbitrageOpportunity, []string) {
	started := time.Now()
	defer func() {
		recomputeDuration.Observe(time.Since(started).Seconds())
	}()

	venues := shard.cells[symbol]
	if len(venues) < 2 {
		return nil, nil
	}

	// Сначала актуализируем флаги устаревания. Возраст меряем по времени
	// события на бирже: отставший фид с живым TCP тоже устаревание.
	for _, cell := range venues {
		ts := cell.Timestamp
		if ts.IsZero() {
			ts = cell.ReceivedAt
		}
		cell.IsStale = now.Sub(ts) > a.cfg.StaleAfter
	}

	var emits []*models.ArbitrageOpportunity
	var removes []string

	for buyEx, buy := range venues {
		for sellEx, sell := range venues {
			if buyEx == sellEx {
				continue
			}

			id := models.OpportunityID(symbol, buyEx, sellEx)

			// Пара живёт, пока продать можно дороже, чем купить
			if sell.Bid > buy.Ask && buy.Ask > 0 {
				opp := calculator.Build(symbol, buy, sell, shard.lifecycles[id], a.fees, a.cfg.Calculator, now)
				if opp == nil {
					continue
				}
				lc := opp.Lifecycle
				shard.lifecycles[id] = &lc

				if _, wasActive := shard.active[id]; !wasActive {
					shard.active[id] = struct{}{}
					activeOpportunities.Inc()
				}
				emits = append(emits, opp)
			} else if _, wasActive := shard.active[id]; wasActive {
				delete(shard.active, id)
				activeOpportunities.Dec()
				removes = append(removes, id)
			}
		}
	}

	return emits, removes
}

// publish рассылает события подписчикам. Вызывается БЕЗ лока шарда.
func (a *Aggregator) publish(emits []*models.ArbitrageOpportunity, removes []string) {
	if len(emits) == 0 && len(removes) == 0 {
		return
	}

	a.cbMu.RLock()
	oppCbs := make([]func(*models.ArbitrageOpportunity), 0, len(a.oppCbs))
	for _, cb := range a.oppCbs {
		oppCbs = append(oppCbs, cb)
	}
	removeCbs := make([]func(string), 0, len(a.removeCbs))
	for _, cb := range a.removeCbs {
		removeCbs = append(removeCbs, cb)
	}
	a.cbMu.RUnlock()

	for _, opp := range emits {
		for _, cb := range oppCbs {
			cb(opp)
		}
	}
	for _, id := range removes {
		for _, cb := range removeCbs {
			cb(id)
		}
	}
}

// ============================================================
// Подписки
// ============================================================

// OnOpportunity регистрирует подписчика на возможности
func (a *Aggregator) OnOpportunity(cb func(*models.ArbitrageOpportunity)) func() {
	a.cbMu.Lock()
	id := a.nextCbID
	a.nextCbID++
	a.oppCbs[id] = cb
	a.cbMu.Unlock()

	return func() {
		a.cbMu.Lock()
		delete(a.oppCbs, id)
		a.cbMu.Unlock()
	}
}

// OnRemove регистрирует подписчика на отмены возможностей
func (a *Aggregator) OnRemove(cb func(string)) func() {
	a.cbMu.Lock()
	id := a.nextCbID
	a.nextCbID++
	a.removeCbs[id] = cb
	a.cbMu.Unlock()

	return func() {
		a.cbMu.Lock()
		delete(a.removeCbs, id)
		a.cbMu.Unlock()
	}
}

// OnStatus регистрирует подписчика на статусы и немедленно сообщает
// текущий статус каждой биржи
func (a *Aggregator) OnStatus(cb func(models.Exchange, models.ConnectionStatus)) func() {
	a.cbMu.Lock()
	id := a.nextCbID
	a.nextCbID++
	a.statusCbs[id] = cb
	a.cbMu.Unlock()

	a.statusMu.RLock()
	current := make(map[models.Exchange]models.ConnectionStatus, len(a.statuses))
	for ex, st := range a.statuses {
		current[ex] = st
	}
	a.statusMu.RUnlock()

	for _, ex := range models.AllExchanges() {
		cb(ex, current[ex])
	}

	return func() {
		a.cbMu.Lock()
		delete(a.statusCbs, id)
		a.cbMu.Unlock()
	}
}

// ============================================================
// Снапшоты
// ============================================================

// AllOpportunities возвращает снапшот текущих возможностей,
// отсортированный по убыванию score.
//
// Снапшот не продвигает lifecycle: пересчёт для чтения не считается
// новым появлением возможности.
func (a *Aggregator) AllOpportunities() []*models.ArbitrageOpportunity {
	now := time.Now()
	var out []*models.ArbitrageOpportunity

	for _, shard := range a.shards {
		shard.mu.Lock()
		for symbol, venues := range shard.cells {
			if len(venues) < 2 {
				continue
			}
			for buyEx, buy := range venues {
				for sellEx, sell := range venues {
					if buyEx == sellEx || !(sell.Bid > buy.Ask && buy.Ask > 0) {
						continue
					}
					id := models.OpportunityID(symbol, buyEx, sellEx)
					opp := calculator.Build(symbol, buy, sell, shard.lifecycles[id], a.fees, a.cfg.Calculator, now)
					if opp != nil {
						out = append(out, opp)
					}
				}
			}
		}
		shard.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ConnectionStatuses возвращает статусы всех бирж
func (a *Aggregator) ConnectionStatuses() map[models.Exchange]models.ConnectionStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()

	out := make(map[models.Exchange]models.ConnectionStatus, len(a.statuses))
	for ex, st := range a.statuses {
		out[ex] = st
	}
	return out
}

// Stats собирает агрегированную статистику сервера
func (a *Aggregator) Stats() models.ServerStats {
	opportunities := a.AllOpportunities()

	executable := 0
	totalScore := 0.0
	for _, opp := range opportunities {
		if opp.Status == models.StatusExecutable {
			executable++
		}
		totalScore += opp.Score
	}

	avgScore := 0.0
	if len(opportunities) > 0 {
		avgScore = totalScore / float64(len(opportunities))
	}

	symbols := make(map[string]struct{})
	for _, shard := range a.shards {
		shard.mu.Lock()
		for symbol := range shard.cells {
			symbols[symbol] = struct{}{}
		}
		shard.mu.Unlock()
	}

	// Скорость потока: события с момента прошлого запроса статистики
	now := time.Now()
	count := atomic.LoadInt64(&a.eventCount)

	a.statsMu.Lock()
	elapsed := now.Sub(a.lastStatsAt).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(count-a.lastEventCount) / elapsed
	}
	a.lastStatsAt = now
	a.lastEventCount = count
	a.statsMu.Unlock()

	return models.ServerStats{
		TotalSymbols:       len(symbols),
		TotalOpportunities: len(opportunities),
		ExecutableCount:    executable,
		AvgScore:           avgScore,
		UpdatesPerSecond:   rate,
		UptimeMs:           time.Since(a.startedAt).Milliseconds(),
	}
}

// ============================================================
// Обслуживание
// ============================================================

// janitorLoop выселяет lifecycle записи, чьи возможности давно исчезли.
// Активные записи не трогаем независимо от возраста.
func (a *Aggregator) janitorLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.evictStaleLifecycles(time.Now())
		}
	}
}

func (a *Aggregator) evictStaleLifecycles(now time.Time) {
	evicted := 0
	for _, shard := range a.shards {
		shard.mu.Lock()
		for id, lc := range shard.lifecycles {
			if _, isActive := shard.active[id]; isActive {
				continue
			}
			if now.Sub(lc.LastSeenAt) > a.cfg.LifecycleTTL {
				delete(shard.lifecycles, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}

	if evicted > 0 {
		a.log.Debug("lifecycle records evicted", zap.Int("count", evicted))
	}
}

func latencyMs(timestamp, receivedAt time.Time) int64 {
	if timestamp.IsZero() || timestamp.UnixMilli() <= 0 {
		return 0
	}
	latency := receivedAt.Sub(timestamp).Milliseconds()
	if latency < 0 {
		return 0
	}
	return latency
}
