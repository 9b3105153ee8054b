package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numericDate = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	isoDate     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})`)
	compactDate = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	longDate    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+de\s+([a-záéíóú]+)\s+(?:de\s+|del\s+)?(\d{4})\b`)
)

var months = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var feedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate finds the first date in raw text. It accepts DD/MM/YYYY,
// DD-MM-YYYY, ISO YYYY-MM-DD, compact YYYYMMDD, RFC 1123/3339 timestamps and
// the long Spanish form "15 de marzo de 2024". Dates are returned at UTC
// midnight. When nothing parses the zero time and false are returned.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range feedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return day(ts.Year(), int(ts.Month()), ts.Day())
		}
	}

	if m := isoDate.FindStringSubmatch(raw); m != nil {
		if ts, ok := day(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return ts, true
		}
	}
	if m := numericDate.FindStringSubmatch(raw); m != nil {
		if ts, ok := day(atoi(m[3]), atoi(m[2]), atoi(m[1])); ok {
			return ts, true
		}
	}
	if m := compactDate.FindStringSubmatch(raw); m != nil {
		if ts, ok := day(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return ts, true
		}
	}
	if m := longDate.FindStringSubmatch(raw); m != nil {
		if month, ok := months[strings.ToLower(m[2])]; ok {
			if ts, ok := day(atoi(m[3]), int(month), atoi(m[1])); ok {
				return ts, true
			}
		}
	}

	return time.Time{}, false
}

// DateOr returns the parsed date or fallback. Adapters pass the current day
// as fallback so a record never lacks a publication date.
func DateOr(raw string, fallback time.Time) time.Time {
	if ts, ok := ParseDate(raw); ok {
		return ts
	}
	return fallback
}

// Today truncates now to UTC midnight.
func Today(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// day rejects impossible dates such as 31/02 instead of letting time.Date roll them over.
func day(year, month, d int) (time.Time, bool) {
	if month < 1 || month > 12 || d < 1 || d > 31 || year < 1800 {
		return time.Time{}, false
	}
	ts := time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
	if ts.Day() != d || int(ts.Month()) != month {
		return time.Time{}, false
	}
	return ts, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
