package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func GenerateGameID() string {
	return fmt.Sprintf("game_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

func GenerateRoundID() string {
	return fmt.Sprintf("round_%s_%d",
		time.Now().Format("20060102"),
		uuid.New().ID())
}

// Payout computes floor(bet × multiplier) in whole currency units. Decimal
// arithmetic keeps 49.999999 from flooring to 49 once a clean 50 was owed.
func Payout(betAmount, multiplier float64) float64 {
	win := decimal.NewFromFloat(betAmount).Mul(decimal.NewFromFloat(multiplier))
	return win.Floor().InexactFloat64()
}

// Round2 rounds to two decimal places for display multipliers.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
