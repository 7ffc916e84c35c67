// Package fees содержит статическую таблицу комиссий и стоимости газа бирж.
package fees

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"arbscan/internal/models"
)

// Fees - структура комиссий одной биржи
//
// Критически важна для расчёта чистого спреда.
type Fees struct {
	// Комиссия рыночного ордера (Taker) в bps (1 bps = 0.01%)
	TakerFeeBps float64 `yaml:"taker_fee_bps" json:"takerFeeBps"`
	// Комиссия лимитного ордера (Maker) в bps
	MakerFeeBps float64 `yaml:"maker_fee_bps" json:"makerFeeBps"`
	// Оценка стоимости газа на транзакцию в USD (для L1/L2 сетей)
	GasEstimateUsd float64 `yaml:"gas_estimate_usd" json:"gasEstimateUsd"`
}

// Registry - реестр комиссий по биржам
//
// Источники значений по умолчанию:
// - Paradex: https://docs.paradex.trade/getting-started/fees
// - Hyperliquid: https://hyperliquid.gitbook.io/hyperliquid-docs/trading/fees
// - Pacifica: https://docs.pacifica.finance/fees
// - Ethereal: https://docs.ethereal.trade/fees
type Registry struct {
	fees map[models.Exchange]Fees
}

// NewRegistry создаёт реестр со значениями по умолчанию
func NewRegistry() *Registry {
	return &Registry{
		fees: map[models.Exchange]Fees{
			models.ExchangeParadex: {
				TakerFeeBps:    3.5,
				MakerFeeBps:    2.0,
				GasEstimateUsd: 0.05, // StarkNet gas
			},
			models.ExchangeHyperliquid: {
				TakerFeeBps:    3.5,
				MakerFeeBps:    1.0,
				GasEstimateUsd: 0, // газ включён в протокол
			},
			models.ExchangePacifica: {
				TakerFeeBps:    4.0,
				MakerFeeBps:    2.0,
				GasEstimateUsd: 0.02, // Solana gas
			},
			models.ExchangeEthereal: {
				TakerFeeBps:    3.0,
				MakerFeeBps:    1.5,
				GasEstimateUsd: 0.01,
			},
		},
	}
}

// LoadFile перекрывает значения по умолчанию из YAML файла.
//
// Формат файла:
//
//	paradex:
//	  taker_fee_bps: 3.0
//	  maker_fee_bps: 1.5
//	  gas_estimate_usd: 0.04
//
// Перечислять все биржи не обязательно - отсутствующие сохраняют дефолты.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fees file: %w", err)
	}

	var override map[models.Exchange]Fees
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse fees file: %w", err)
	}

	for exchange, f := range override {
		r.fees[exchange] = f
	}
	return nil
}

// Get возвращает комиссии биржи.
// Для неизвестной биржи возвращается нулевая структура.
func (r *Registry) Get(exchange models.Exchange) Fees {
	return r.fees[exchange]
}

// RoundTripFees суммирует стоимость круга покупка+продажа.
//
// Худший случай для арбитража: обе ноги исполняются как taker.
func (r *Registry) RoundTripFees(buy, sell models.Exchange) (totalBps, totalGasUsd float64) {
	buyFees := r.Get(buy)
	sellFees := r.Get(sell)
	return buyFees.TakerFeeBps + sellFees.TakerFeeBps,
		buyFees.GasEstimateUsd + sellFees.GasEstimateUsd
}
