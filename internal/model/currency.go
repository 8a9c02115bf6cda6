package model

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// MaxAmountScale is the number of decimal places stored for monetary columns
const MaxAmountScale int32 = 8

// ValidateCurrency checks code is a known ISO 4217 currency
func ValidateCurrency(code string) error {
	if len(code) != 3 || strings.ToUpper(code) != code {
		return ErrInvalidCurrency
	}
	if money.GetCurrency(code) == nil {
		return ErrInvalidCurrency
	}
	return nil
}

// CurrencyFraction returns the number of minor-unit digits for code,
// defaulting to 2 for unknown currencies
func CurrencyFraction(code string) int32 {
	c := money.GetCurrency(code)
	if c == nil {
		return 2
	}
	return int32(c.Fraction)
}

// CheckScale rejects amounts with more than places decimal places.
// Trailing zeros do not count: 1.50 fits two places.
func CheckScale(amount decimal.Decimal, places int32) error {
	if !amount.Equal(amount.Truncate(places)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, places)
	}
	return nil
}

// CheckCurrencyScale rejects amounts finer than the minor unit of currency
func CheckCurrencyScale(amount decimal.Decimal, currency string) error {
	return CheckScale(amount, CurrencyFraction(currency))
}
