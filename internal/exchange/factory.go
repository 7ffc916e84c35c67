package exchange

import (
	"fmt"

	"arbscan/internal/models"
)

// New создаёт коннектор по имени биржи
func New(name models.Exchange, opts Options) (Connector, error) {
	switch name {
	case models.ExchangeHyperliquid:
		return NewHyperliquid(opts), nil
	case models.ExchangeParadex:
		return NewParadex(opts), nil
	case models.ExchangePacifica:
		return NewPacifica(opts), nil
	case models.ExchangeEthereal:
		return NewEthereal(opts), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}

// NewAll создаёт коннекторы всех поддерживаемых бирж
func NewAll(opts Options) []Connector {
	connectors := make([]Connector, 0, len(models.AllExchanges()))
	for _, name := range models.AllExchanges() {
		c, err := New(name, opts)
		if err != nil {
			continue
		}
		connectors = append(connectors, c)
	}
	return connectors
}
