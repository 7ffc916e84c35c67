package exchange

import (
	"strconv"
	"strings"
)

// flexFloat - число, которое биржа может прислать как число или как строку.
//
// Paradex и pacifica присылают цены строками ("30000.5"), ethereal тоже,
// а отдельные поля приходят числами. Один тип закрывает оба случая.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func (f flexFloat) Float64() float64 {
	return float64(f)
}
