package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrInvalidCurrency   = errors.New("currency must be a 3-letter ISO code")
	ErrSubMinorAmount    = errors.New("amount is not exact in the currency's minor unit")
)

// Currencies the gateway charges without a fractional minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// Currencies whose minor unit is a thousandth.
var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true, "LYD": true, "OMR": true, "TND": true,
}

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func minorUnitExponent(currency string) int32 {
	cur := NormalizeCurrency(currency)
	switch {
	case zeroDecimalCurrencies[cur]:
		return 0
	case threeDecimalCurrencies[cur]:
		return 3
	}
	return 2
}

// ValidateAmount checks that amount is positive and representable exactly
// in the minor unit of currency.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	cur := NormalizeCurrency(currency)
	if len(cur) != 3 {
		return ErrInvalidCurrency
	}
	for _, r := range cur {
		if r < 'A' || r > 'Z' {
			return ErrInvalidCurrency
		}
	}
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !amount.Shift(minorUnitExponent(cur)).IsInteger() {
		return ErrSubMinorAmount
	}
	return nil
}

// ToMinorUnits converts amount into the integer unit the gateway expects.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if err := ValidateAmount(amount, currency); err != nil {
		return 0, err
	}
	minor := amount.Shift(minorUnitExponent(currency))
	if !minor.LessThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("amount %s is out of range", amount.String())
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent(currency))
}
