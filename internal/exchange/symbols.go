package exchange

import "strings"

// Суффиксы биржевых символов в порядке убывания длины.
// Порядок важен: BTC-USD-PERP должен давать BTC, а не BTC-USD.
var symbolSuffixes = []string{
	"-USD-PERP",
	"-PERP",
	"/USD",
	"-USD",
	"USDC",
	"USD",
}

// NormalizeSymbol приводит биржевой символ к каноническому виду.
//
// Биржи именуют один и тот же инструмент по-разному:
// BTC-USD-PERP (paradex), BTC (hyperliquid, pacifica, ethereal).
// Сопоставление между биржами работает только по нормализованным именам.
//
// Функция идемпотентна: повторная нормализация ничего не меняет.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, suffix := range symbolSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s
}
