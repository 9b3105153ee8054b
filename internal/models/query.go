package models

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// QuerySpec describes one search against the legal sources.
type QuerySpec struct {
	Query string     `json:"query"`
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
	Kind  Kind       `json:"kind,omitempty"`
	Limit int        `json:"limit,omitempty"`
	Page  int        `json:"page,omitempty"`
}

// ErrInvalidRange is returned when From is after To.
var ErrInvalidRange = errors.New("query: from date is after to date")

// Normalize trims and case-folds the text, truncates dates to days and
// applies the default limit and page. Equivalent specs normalize to equal values.
func (q QuerySpec) Normalize(defaultLimit int) QuerySpec {
	out := QuerySpec{
		Query: strings.ToLower(strings.Join(strings.Fields(q.Query), " ")),
		Kind:  Kind(strings.ToUpper(strings.TrimSpace(string(q.Kind)))),
		Limit: q.Limit,
		Page:  q.Page,
		From:  truncateDay(q.From),
		To:    truncateDay(q.To),
	}
	if out.Limit <= 0 {
		out.Limit = defaultLimit
	}
	if out.Page <= 0 {
		out.Page = 1
	}
	return out
}

// Validate reports structurally invalid specs.
func (q QuerySpec) Validate() error {
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return ErrInvalidRange
	}
	return nil
}

// Key serializes a normalized spec; call Normalize first.
func (q QuerySpec) Key() string {
	v := url.Values{}
	v.Set("q", q.Query)
	v.Set("kind", string(q.Kind))
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("from", formatDay(q.From))
	v.Set("to", formatDay(q.To))
	return v.Encode()
}

// CacheKey scopes the spec key to one source.
func (q QuerySpec) CacheKey(src Source) string {
	return string(src) + "|" + q.Key()
}

func truncateDay(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

// ParseDay parses a YYYY-MM-DD query parameter; empty input yields nil.
func ParseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
