package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MajorUnits formats minor units as a decimal string ("1234" -> "12.34")
// for providers whose APIs take major-unit amounts.
func MajorUnits(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ParseMajorUnits converts a provider decimal amount string back to minor
// units, rounding half-up.
func ParseMajorUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, ErrInvalidPayload
	}
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, ErrInvalidPayload
	}
	return int64(math.Floor(value*100 + 0.5)), nil
}

// FloatToCents converts a provider numeric major-unit amount to minor units.
func FloatToCents(amount float64) int64 {
	return int64(math.Floor(amount*100 + 0.5))
}
