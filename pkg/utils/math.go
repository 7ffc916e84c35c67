package utils

import (
	"math"
)

// math.go - математические утилиты для расчёта арбитражных метрик
//
// Все функции являются чистыми (pure functions) без побочных эффектов.

// SpreadBps расчитывает спред между двумя ценами в базисных пунктах.
//
// Формула:
//
//	Спред (bps) = ((P_продажи - P_покупки) / P_покупки) × 10000
//
// Параметры:
//   - sellPrice: цена, по которой продаём (Bid на бирже продажи)
//   - buyPrice: цена, по которой покупаем (Ask на бирже покупки)
//
// Возвращает:
//   - Спред в bps (1 bps = 0.01%). Может быть отрицательным.
//   - Если buyPrice <= 0, возвращает 0
//
// Примеры:
//   - SpreadBps(100.20, 100.05) ≈ 14.99
//   - SpreadBps(25050, 25000) = 20.0
func SpreadBps(sellPrice, buyPrice float64) float64 {
	if buyPrice <= 0 {
		return 0
	}
	return (sellPrice - buyPrice) / buyPrice * 10000
}

// Clamp ограничивает значение диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// StdDev вычисляет стандартное отклонение по всей выборке (population).
//
// Используется для оценки волатильности истории спреда.
// Менее двух точек - волатильность считается нулевой.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}

// FloorToStep округляет значение ВНИЗ до ближайшего кратного step.
//
// Используется для округления максимального исполнимого объёма
// до целых сотен долларов.
//
// Примеры:
//   - FloorToStep(1249, 100) = 1200
//   - FloorToStep(99, 100) = 0
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}

// IsFinitePositive проверяет, что значение - конечное положительное число.
//
// Отсекает NaN, Inf и неположительные цены из входящих событий.
func IsFinitePositive(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value > 0
}
