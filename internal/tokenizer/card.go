package tokenizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeNumber strips the spaces and dashes users type between digit groups.
func NormalizeNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// NormalizeExpiry accepts MMYY or MM/YY and returns MMYY.
func NormalizeExpiry(expiry string) string {
	return strings.ReplaceAll(strings.TrimSpace(expiry), "/", "")
}

// Validate runs the local format checks. now decides expiry; a card is good
// through the last day of its expiry month.
func Validate(card CardDetails, now time.Time) error {
	number := NormalizeNumber(card.Number)
	if len(number) < 13 || len(number) > 19 || !allDigits(number) {
		return fmt.Errorf("%w: card number must be 13 to 19 digits", ErrInvalidCardData)
	}
	if !luhnValid(number) {
		return fmt.Errorf("%w: card number failed checksum", ErrInvalidCardData)
	}

	expiry := NormalizeExpiry(card.Expiry)
	if len(expiry) != 4 || !allDigits(expiry) {
		return fmt.Errorf("%w: expiry must be MMYY", ErrInvalidCardData)
	}
	month, _ := strconv.Atoi(expiry[:2])
	year, _ := strconv.Atoi(expiry[2:])
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: expiry month out of range", ErrInvalidCardData)
	}
	firstOfNextMonth := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.UTC().Before(firstOfNextMonth) {
		return fmt.Errorf("%w: card expired", ErrInvalidCardData)
	}

	if l := len(card.CVV); l < 3 || l > 4 || !allDigits(card.CVV) {
		return fmt.Errorf("%w: cvv must be 3 or 4 digits", ErrInvalidCardData)
	}
	return nil
}

// Mask renders a number as "**** **** **** 1234".
func Mask(number string) string {
	number = NormalizeNumber(number)
	if len(number) < 4 {
		return "****"
	}
	return "**** **** **** " + number[len(number)-4:]
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
