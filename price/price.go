// Package price normalizes locale-ambiguous price text into a canonical
// decimal value.
//
// Scraped price strings arrive in wildly different shapes: "$1,234.56",
// "1.234,56 EUR", "₺999", "1234,56". The decimal separator convention is
// detected from the relative position of the last comma and the last dot,
// which disambiguates European grouping from US grouping without knowing
// the site's locale. Parse is pure: identical input always yields
// identical output.
package price

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	symbolRe = regexp.MustCompile(`[$€£₺¥₹]`)
	codeRe   = regexp.MustCompile(`(?i)\b(USD|EUR|GBP|TL|TRY|JPY|INR)\b`)
	residRe  = regexp.MustCompile(`[^\d.-]`)
)

// Parse converts raw price text into a decimal value.
// It strips currency symbols and 3-letter codes, resolves the decimal
// separator convention, removes thousands separators, and parses the rest
// as a float. An empty or non-numeric remainder is an error.
func Parse(raw string) (float64, error) {
	cleaned := symbolRe.ReplaceAllString(raw, "")
	cleaned = codeRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return 0, fmt.Errorf("price: no value in %q", raw)
	}

	lastComma := strings.LastIndexByte(cleaned, ',')
	lastDot := strings.LastIndexByte(cleaned, '.')

	switch {
	case lastComma > lastDot:
		// Comma is the decimal separator (European style): dots are
		// thousands separators.
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot > lastComma:
		// Dot is the decimal separator (US style).
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	default:
		// Neither separator present.
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	cleaned = residRe.ReplaceAllString(cleaned, "")

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("price: cannot parse %q: %w", raw, err)
	}
	return v, nil
}

// Round2 rounds a value to two fractional digits. Applied once, at the
// persistence boundary.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
