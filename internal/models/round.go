package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round1 rounds to one decimal place, half away from zero. NaN and ±Inf pass through.
func Round1(v float64) float64 {
	return round(v, 1)
}

// RoundInt rounds to the nearest integer. NaN and ±Inf pass through.
func RoundInt(v float64) float64 {
	return round(v, 0)
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
