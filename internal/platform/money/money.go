// Package money converts between decimal amounts at the edges (JSON, stored documents) and the
// int64 minor units used internally. Amounts carry two decimal places.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const scale = 2

var (
	// ErrNegative is returned for amounts below zero.
	ErrNegative = errors.New("money: amount must not be negative")
	// ErrOutOfRange is returned when an amount does not fit in int64 minor units.
	ErrOutOfRange = errors.New("money: amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Parse reads a decimal string such as "1250.5" into minor units, rounding half away from zero.
func Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("money: amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return 0, ErrNegative
	}
	return toMinor(d.Shift(scale).Round(0))
}

// FromNumber parses a JSON number into minor units.
func FromNumber(n json.Number) (int64, error) {
	return Parse(n.String())
}

// FromFloat converts a stored floating amount into minor units.
func FromFloat(v float64) int64 {
	return decimal.NewFromFloat(v).Shift(scale).Round(0).IntPart()
}

// ToFloat renders minor units as a float for stores that keep plain numbers.
func ToFloat(minor int64) float64 {
	f, _ := decimal.New(minor, -scale).Float64()
	return f
}

// String renders minor units with exactly two decimals.
func String(minor int64) string {
	return decimal.New(minor, -scale).StringFixed(scale)
}

// Number renders minor units as a JSON number with exactly two decimals.
func Number(minor int64) json.Number {
	return json.Number(String(minor))
}

// Mul returns unit×qty in minor units.
func Mul(unitMinor int64, qty int) (int64, error) {
	return toMinor(decimal.NewFromInt(unitMinor).Mul(decimal.NewFromInt(int64(qty))))
}

// Add returns a+b in minor units.
func Add(a, b int64) (int64, error) {
	return toMinor(decimal.NewFromInt(a).Add(decimal.NewFromInt(b)))
}

func toMinor(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxMinor) || d.LessThan(minMinor) {
		return 0, ErrOutOfRange
	}
	return d.IntPart(), nil
}
