package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Money is an immutable amount of a single currency, held in integer minor
// units (cents). It is never negative.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney builds a Money value. The amount must be a non-negative integer
// number of minor units.
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, fmt.Errorf("%w: currency is required", ErrCurrencyMismatch)
	}
	if !amount.IsInteger() {
		return Money{}, fmt.Errorf("money: amount %s is not a whole number of minor units", amount)
	}
	if amount.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: amount, currency: currency}, nil
}

// MoneyFromInt64 is a convenience constructor for amounts already in minor units.
func MoneyFromInt64(amount int64, currency Currency) (Money, error) {
	return NewMoney(decimal.NewFromInt(amount), currency)
}

// MustMoney panics on invalid input. Test and wiring helper.
func MustMoney(amount int64, currency Currency) Money {
	m, err := MoneyFromInt64(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }

func (m Money) String() string {
	return m.amount.String() + " " + string(m.currency)
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other and fails if the result would be negative.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	out := m.amount.Sub(other.amount)
	if out.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	return Money{amount: out, currency: m.currency}, nil
}

// Cmp compares amounts: -1 if m < other, 0 if equal, 1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// GreaterThanOrEqual reports m >= other, false on currency mismatch.
func (m Money) GreaterThanOrEqual(other Money) bool {
	c, err := m.Cmp(other)
	return err == nil && c >= 0
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}
