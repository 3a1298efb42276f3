// Package money holds the ledger's monetary representation: whole cents in an int64.
package money

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPrecision is returned when a value has more than two fractional digits.
	ErrPrecision = errors.New("amount has more than two decimal places")
	// ErrOutOfRange is returned when a value's magnitude exceeds Max.
	ErrOutOfRange = errors.New("amount out of range")
)

// Amount is a monetary value in cents.
type Amount int64

// Max is the largest magnitude any amount, product or balance may reach: ten trillion
// units. It leaves headroom below int64 so sums of two in-range amounts cannot wrap.
const Max Amount = 1_000_000_000_000_000

var maxCents = decimal.NewFromInt(int64(Max))

// FromDecimal converts a decimal value to cents. Sub-cent precision is rejected rather than rounded.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Round(2).Equal(d) {
		return 0, ErrPrecision
	}
	return fromCents(d.Shift(2))
}

func fromCents(c decimal.Decimal) (Amount, error) {
	if c.Abs().GreaterThan(maxCents) {
		return 0, ErrOutOfRange
	}
	return Amount(c.IntPart()), nil
}

// Parse reads a decimal string such as "12.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Dollars builds an Amount from whole units.
func Dollars(n int64) Amount {
	return Amount(n * 100)
}

// Decimal returns the amount in units (dollars) as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// MulRate multiplies by a rate and rounds half away from zero to the nearest cent.
func (a Amount) MulRate(rate decimal.Decimal) (Amount, error) {
	return fromCents(a.Decimal().Mul(rate).Round(2).Shift(2))
}

// Times multiplies by a count, failing instead of wrapping.
func (a Amount) Times(n int64) (Amount, error) {
	return fromCents(decimal.NewFromInt(int64(a)).Mul(decimal.NewFromInt(n)))
}

// Add sums two amounts, failing when the result leaves the Max range.
func (a Amount) Add(b Amount) (Amount, error) {
	if a > Max || a < -Max || b > Max || b < -Max {
		return 0, ErrOutOfRange
	}
	sum := a + b
	if sum > Max || sum < -Max {
		return 0, ErrOutOfRange
	}
	return sum, nil
}

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// MarshalJSON renders the amount as a JSON number with two fractional digits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*a = 0
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
