package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountSuffix = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:,\d{1,2})?)\s*(?:€|euros?\b|eur\b)`)
	amountPrefix = regexp.MustCompile(`(?i)(?:€|eur)\s*(\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:,\d{1,2})?)`)
)

// ExtractAmounts returns every euro amount written in Spanish notation
// ("1.234,56 €", "300 euros", "EUR 1.000"), in order of appearance.
func ExtractAmounts(text string) []float64 {
	var out []float64
	for _, re := range []*regexp.Regexp{amountSuffix, amountPrefix} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := parseAmount(m[1]); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// LargestAmount returns the biggest amount in text, or 0 when there is none.
func LargestAmount(text string) float64 {
	var max float64
	for _, v := range ExtractAmounts(text) {
		if v > max {
			max = v
		}
	}
	return max
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, ".", "")
	raw = strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
