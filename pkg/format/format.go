// Package format contains helpers to present race data to humans.
package format

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// NoTime is displayed for lap times that are not available
const NoTime = "--:--.---"

// LapTime formats seconds as mm:ss.mmm. Fractions of milliseconds are
// truncated, negative values are shown as zero.
func LapTime(seconds float64) string {
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return NoTime
	}
	ms := decimal.NewFromFloat(max(seconds, 0)).Shift(3).Truncate(0).IntPart()
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}

// Ordinal returns the english ordinal of n ("1st", "2nd", "11th").
// Values <= 0 are returned without suffix.
func Ordinal(n int) string {
	s := strconv.Itoa(n)
	if n <= 0 {
		return s
	}
	if r := n % 100; r >= 11 && r <= 13 {
		return s + "th"
	}
	switch n % 10 {
	case 1:
		return s + "st"
	case 2:
		return s + "nd"
	case 3:
		return s + "rd"
	default:
		return s + "th"
	}
}

// Progress formats a progress value in [0,1) as percentage
func Progress(p float64) string {
	return decimal.NewFromFloat(p).Shift(2).StringFixed(1) + "%"
}
