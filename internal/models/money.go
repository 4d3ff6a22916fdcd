package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorDigits lists currencies whose minor unit is not 1/100.
var minorDigits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

// FormatAmount renders minor units as a human amount, e.g. 10000 ILS -> "100.00 ILS".
func FormatAmount(amount int64, currency string) string {
	currency = strings.ToUpper(currency)
	exp, ok := minorDigits[currency]
	if !ok {
		exp = 2
	}
	return decimal.New(amount, -exp).StringFixed(exp) + " " + currency
}
