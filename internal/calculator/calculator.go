// Package calculator содержит чистые функции расчёта арбитражных метрик.
//
// Никакого разделяемого состояния: все функции принимают снапшоты данных
// и возвращают новые значения. Это позволяет вызывать их из любого числа
// горутин агрегатора без блокировок.
package calculator

import (
	"time"

	"arbscan/internal/fees"
	"arbscan/internal/models"
	"arbscan/pkg/utils"
)

// Пороги классификации статуса
const (
	// Минимальный чистый спред для статуса executable, bps
	executableNetSpreadBps = 5
	// Минимальный чистый спред для статуса marginal, bps
	marginalNetSpreadBps = 0
	// Минимальный исполнимый объём для executable, USD
	minExecutableSizeUsd = 500
)

// Веса компонентов итоговой оценки
const (
	weightNetSpread = 0.35
	weightSize      = 0.20
	weightLifetime  = 0.15
	weightDepth     = 0.15
	weightRisk      = 0.15
)

// Config - настраиваемые пороги расчётов
type Config struct {
	// Возраст данных, после которого нога считается устаревшей
	StaleAfter time.Duration
	// Лимит проскальзывания при поиске максимального объёма, bps
	MaxSlippageBps float64
	// Верхняя граница поиска максимального объёма, USD
	MaxSizeUsd float64
	// Шаг округления максимального объёма вниз, USD
	SizeStepUsd float64
	// Размер позиции для пересчёта газа в bps, USD
	GasPositionUsd float64
	// Порог флага асимметрии задержек, мс
	LatencyAsymmetryMs int64
	// Порог флага дисбаланса глубины (min/max)
	MinDepthImbalance float64
	// Порог флага волатильности, bps
	VolatilityLimitBps float64
}

// DefaultConfig возвращает пороги по умолчанию
func DefaultConfig() Config {
	return Config{
		StaleAfter:         10 * time.Second,
		MaxSlippageBps:     10,
		MaxSizeUsd:         50_000,
		SizeStepUsd:        100,
		GasPositionUsd:     1000,
		LatencyAsymmetryMs: 200,
		MinDepthImbalance:  0.3,
		VolatilityLimitBps: 5,
	}
}

// DepthAtBps агрегирует ликвидность стакана по полосам 5/10/25 bps от mid.
//
// Бакеты кумулятивные: уровень в пределах 5 bps засчитывается
// также в полосы 10 и 25 bps.
func DepthAtBps(levels []models.OrderBookLevel, midPrice float64) models.DepthAtBps {
	var depth models.DepthAtBps
	if midPrice <= 0 {
		return depth
	}

	for _, level := range levels {
		diff := level.Price - midPrice
		if diff < 0 {
			diff = -diff
		}
		diffBps := diff / midPrice * 10000
		notional := level.Price * level.Size

		if diffBps <= 5 {
			depth.Bps5 += notional
		}
		if diffBps <= 10 {
			depth.Bps10 += notional
		}
		if diffBps <= 25 {
			depth.Bps25 += notional
		}
	}
	return depth
}

// Slippage моделирует исполнение рыночного ордера объёмом notionalUsd.
//
// Идём по уровням от лучшей цены, наполняя ордер; возвращаем отклонение
// средневзвешенной цены исполнения от top-of-book в bps.
// Пустой стакан или неположительный объём дают 0.
func Slippage(levels []models.OrderBookLevel, notionalUsd float64) float64 {
	if len(levels) == 0 || notionalUsd <= 0 {
		return 0
	}

	referencePrice := levels[0].Price
	if referencePrice <= 0 {
		return 0
	}

	remaining := notionalUsd
	var totalCost, totalQty float64

	for _, level := range levels {
		if level.Price <= 0 {
			continue
		}
		levelValue := level.Price * level.Size
		fillUsd := remaining
		if levelValue < fillUsd {
			fillUsd = levelValue
		}
		fillQty := fillUsd / level.Price

		totalCost += fillQty * level.Price
		totalQty += fillQty
		remaining -= fillUsd

		if remaining <= 0 {
			break
		}
	}

	if totalQty == 0 {
		return 0
	}

	avgPrice := totalCost / totalQty
	slippage := (avgPrice - referencePrice) / referencePrice * 10000
	if slippage < 0 {
		slippage = -slippage
	}
	return slippage
}

// MaxExecutableSize ищет максимальный объём (USD), при котором проскальзывание
// обеих ног не превышает лимит.
//
// Бинарный поиск по диапазону (0, MaxSizeUsd], 12 итераций; результат
// округляется вниз до SizeStepUsd. Проскальзывание монотонно по объёму,
// поэтому поиск корректен.
func MaxExecutableSize(buyAsks, sellBids []models.OrderBookLevel, cfg Config) float64 {
	feasible := func(sizeUsd float64) bool {
		return Slippage(buyAsks, sizeUsd) <= cfg.MaxSlippageBps &&
			Slippage(sellBids, sizeUsd) <= cfg.MaxSlippageBps
	}

	if feasible(cfg.MaxSizeUsd) {
		return cfg.MaxSizeUsd
	}

	lo, hi := 0.0, cfg.MaxSizeUsd
	for i := 0; i < 12; i++ {
		mid := (lo + hi) / 2
		if feasible(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}

	return utils.FloorToStep(lo, cfg.SizeStepUsd)
}

// RiskProfile оценивает риски пары ног.
//
// Флаги:
//   - stale_data: хотя бы одна нога старше порога
//   - latency_asymmetry: задержки ног различаются сильнее порога
//   - depth_imbalance: min/max глубины на 10 bps ниже порога
//   - high_volatility: стандартное отклонение истории спреда выше порога
func RiskProfile(buy, sell *models.ExchangeMarketData, spreadHistory []float64, cfg Config, now time.Time) models.RiskMetrics {
	flags := make([]string, 0, 4)

	maxLatency := buy.LatencyMs
	if sell.LatencyMs > maxLatency {
		maxLatency = sell.LatencyMs
	}
	asymmetry := buy.LatencyMs - sell.LatencyMs
	if asymmetry < 0 {
		asymmetry = -asymmetry
	}
	if asymmetry > cfg.LatencyAsymmetryMs {
		flags = append(flags, models.RiskFlagLatencyAsymmetry)
	}

	buyStale := buy.IsStale || now.Sub(buy.Timestamp) > cfg.StaleAfter
	sellStale := sell.IsStale || now.Sub(sell.Timestamp) > cfg.StaleAfter
	if buyStale || sellStale {
		flags = append(flags, models.RiskFlagStaleData)
	}

	imbalance := DepthImbalance(buy.AskDepthAtBps.Bps10, sell.BidDepthAtBps.Bps10)
	if imbalance < cfg.MinDepthImbalance {
		flags = append(flags, models.RiskFlagDepthImbalance)
	}

	volatility := utils.StdDev(spreadHistory)
	if volatility > cfg.VolatilityLimitBps {
		flags = append(flags, models.RiskFlagHighVolatility)
	}

	return models.RiskMetrics{
		Volatility1m:       volatility,
		LatencyRiskMs:      maxLatency,
		LatencyAsymmetryMs: asymmetry,
		StaleDataRisk:      buyStale || sellStale,
		DepthImbalance:     imbalance,
		RiskFlags:          flags,
	}
}

// DepthImbalance возвращает отношение min/max глубины двух ног.
//
// 1.0 - идеальный баланс; около нуля - одну из ног закрыть будет нечем.
// Если глубины нет вообще, возвращает 0.
func DepthImbalance(depthA, depthB float64) float64 {
	if depthA <= 0 || depthB <= 0 {
		return 0
	}
	if depthA < depthB {
		return depthA / depthB
	}
	return depthB / depthA
}

// Score вычисляет итоговую оценку привлекательности 0-100.
//
// Взвешенная сумма компонентов спреда, объёма, времени жизни и глубины,
// минус штрафы за дисбаланс глубины и флаги рисков.
func Score(netSpreadBps, maxSizeUsd float64, lifetimeMs int64, minDepth10Bps, depthImbalance float64, riskFlagCount int) float64 {
	spreadScore := utils.Clamp(netSpreadBps*5, 0, 100)
	sizeScore := utils.Clamp(maxSizeUsd/10_000*100, 0, 100)
	lifetimeScore := utils.Clamp(float64(lifetimeMs)/60_000*100, 0, 100)
	depthScore := utils.Clamp(minDepth10Bps/50_000*100, 0, 100)

	score := spreadScore*weightNetSpread +
		sizeScore*weightSize +
		lifetimeScore*weightLifetime +
		depthScore*weightDepth

	// Штраф за перекос ликвидности: до 30 баллов при дисбалансе ниже 0.5
	if depthImbalance < 0.5 {
		score -= (0.5 - depthImbalance) / 0.5 * 30
	}

	score -= float64(riskFlagCount) * 10 * weightRisk

	return utils.Clamp(score, 0, 100)
}

// StatusFor классифицирует возможность.
//
// Устаревшие данные всегда дают theoretical, независимо от спреда.
func StatusFor(netSpreadBps, maxSizeUsd float64, stale bool) models.OpportunityStatus {
	if stale {
		return models.StatusTheoretical
	}
	if netSpreadBps >= executableNetSpreadBps && maxSizeUsd >= minExecutableSizeUsd {
		return models.StatusExecutable
	}
	if netSpreadBps >= marginalNetSpreadBps {
		return models.StatusMarginal
	}
	return models.StatusTheoretical
}

// advanceLifecycle продвигает историю жизни пары.
//
// existing == nil означает первое появление. История спреда ограничена
// окном models.SpreadHistoryLimit; слайс всегда копируется, чтобы
// возможности-снапшоты не делили память с записью в агрегаторе.
func advanceLifecycle(existing *models.OpportunityLifecycle, netSpreadBps float64, now time.Time) models.OpportunityLifecycle {
	if existing == nil {
		return models.OpportunityLifecycle{
			FirstSeenAt:     now,
			LastSeenAt:      now,
			LifetimeMs:      0,
			PeakSpreadBps:   netSpreadBps,
			AvgSpreadBps:    netSpreadBps,
			OccurrenceCount: 1,
			SpreadHistory:   []float64{netSpreadBps},
		}
	}

	history := existing.SpreadHistory
	if len(history) >= models.SpreadHistoryLimit {
		history = history[len(history)-models.SpreadHistoryLimit+1:]
	}
	newHistory := make([]float64, 0, len(history)+1)
	newHistory = append(newHistory, history...)
	newHistory = append(newHistory, netSpreadBps)

	peak := existing.PeakSpreadBps
	if netSpreadBps > peak {
		peak = netSpreadBps
	}

	count := existing.OccurrenceCount + 1

	return models.OpportunityLifecycle{
		FirstSeenAt:     existing.FirstSeenAt,
		LastSeenAt:      now,
		LifetimeMs:      now.Sub(existing.FirstSeenAt).Milliseconds(),
		PeakSpreadBps:   peak,
		AvgSpreadBps:    (existing.AvgSpreadBps*float64(existing.OccurrenceCount) + netSpreadBps) / float64(count),
		OccurrenceCount: count,
		SpreadHistory:   newHistory,
	}
}

// Build собирает полную арбитражную возможность из снапшотов двух ног.
//
// Покупаем по Ask ноги buy, продаём по Bid ноги sell. Возвращает nil,
// если цена любой из ног неположительна.
func Build(symbol string, buy, sell *models.ExchangeMarketData, existing *models.OpportunityLifecycle, registry *fees.Registry, cfg Config, now time.Time) *models.ArbitrageOpportunity {
	buyPrice := buy.Ask
	sellPrice := sell.Bid

	if buyPrice <= 0 || sellPrice <= 0 {
		return nil
	}

	spreadAbsolute := sellPrice - buyPrice
	rawSpreadBps := utils.SpreadBps(sellPrice, buyPrice)

	// Комиссии: худший случай - обе ноги taker, плюс газ,
	// пересчитанный в bps для позиции GasPositionUsd
	totalFeesBps, totalGasUsd := registry.RoundTripFees(buy.Exchange, sell.Exchange)
	gasCostBps := totalGasUsd / cfg.GasPositionUsd * 10000
	netSpreadBps := rawSpreadBps - totalFeesBps - gasCostBps

	maxSize := MaxExecutableSize(buy.Asks, sell.Bids, cfg)
	slippageAt1k := Slippage(buy.Asks, 1000) + Slippage(sell.Bids, 1000)
	slippageAt5k := Slippage(buy.Asks, 5000) + Slippage(sell.Bids, 5000)

	lifecycle := advanceLifecycle(existing, netSpreadBps, now)
	risk := RiskProfile(buy, sell, lifecycle.SpreadHistory, cfg, now)

	depthBuy := buy.AskDepthAtBps.Bps10
	depthSell := sell.BidDepthAtBps.Bps10
	minDepth := depthBuy
	if depthSell < minDepth {
		minDepth = depthSell
	}

	score := Score(netSpreadBps, maxSize, lifecycle.LifetimeMs, minDepth, risk.DepthImbalance, len(risk.RiskFlags))
	status := StatusFor(netSpreadBps, maxSize, risk.StaleDataRisk)

	return &models.ArbitrageOpportunity{
		ID:       models.OpportunityID(symbol, buy.Exchange, sell.Exchange),
		Symbol:   symbol,
		Strategy: "perp-perp",

		BuyExchange:  buy.Exchange,
		SellExchange: sell.Exchange,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		BuyData:      *buy,
		SellData:     *sell,

		RawSpreadBps:   rawSpreadBps,
		NetSpreadBps:   netSpreadBps,
		SpreadAbsolute: spreadAbsolute,

		MaxExecutableSize: maxSize,
		SlippageAt1k:      slippageAt1k,
		SlippageAt5k:      slippageAt5k,
		DepthBuyAt10Bps:   depthBuy,
		DepthSellAt10Bps:  depthSell,

		BuyFeesBps:     registry.Get(buy.Exchange).TakerFeeBps,
		SellFeesBps:    registry.Get(sell.Exchange).TakerFeeBps,
		TotalFeesBps:   totalFeesBps,
		GasEstimateUsd: totalGasUsd,

		BuyFundingRate:  buy.FundingRate,
		SellFundingRate: sell.FundingRate,
		FundingDeltaBps: (sell.FundingRate - buy.FundingRate) * 10000,

		Lifecycle: lifecycle,
		Risk:      risk,

		Score:  score,
		Status: status,

		LastUpdatedAt:  now,
		DepthImbalance: risk.DepthImbalance,
	}
}
