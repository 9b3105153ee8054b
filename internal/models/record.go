package models

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the upstream a record was fetched from.
type Source string

const (
	SourceGazette Source = "GAZETTE"
	SourceCaseLaw Source = "CASE_LAW"
)

// Sources lists every known source in query order.
var Sources = []Source{SourceGazette, SourceCaseLaw}

// Kind is the normalized document category.
type Kind string

const (
	KindLaw          Kind = "LAW"
	KindDecree       Kind = "DECREE"
	KindOrder        Kind = "ORDER"
	KindResolution   Kind = "RESOLUTION"
	KindAnnouncement Kind = "ANNOUNCEMENT"
	KindJudgment     Kind = "JUDGMENT"
	KindOther        Kind = "OTHER"
)

// MaxExcerptLength caps excerpt size in runes.
const MaxExcerptLength = 1000

var idPrefixes = map[Source]string{
	SourceGazette: "BOE",
	SourceCaseLaw: "CENDOJ",
}

// CanonicalRecord is the source-agnostic representation of one external document.
type CanonicalRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Kind        Kind      `json:"kind"`
	Source      Source    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	URL         string    `json:"url"`
	Excerpt     string    `json:"excerpt,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
}

// ParseSource accepts the canonical names case-insensitively.
func ParseSource(raw string) (Source, error) {
	switch Source(strings.ToUpper(strings.TrimSpace(raw))) {
	case SourceGazette:
		return SourceGazette, nil
	case SourceCaseLaw, "CASELAW":
		return SourceCaseLaw, nil
	}
	return "", fmt.Errorf("unknown source %q", raw)
}

// ParseSelector expands GAZETTE, CASE_LAW or ALL (empty means ALL).
func ParseSelector(raw string) ([]Source, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" || trimmed == "ALL" {
		return append([]Source(nil), Sources...), nil
	}
	src, err := ParseSource(trimmed)
	if err != nil {
		return nil, err
	}
	return []Source{src}, nil
}

// RecordID builds the namespaced id for a native upstream identifier.
// Identifiers that already carry the prefix are returned unchanged so that
// re-fetches always resolve to the same id.
func RecordID(src Source, native string) string {
	native = strings.TrimSpace(native)
	prefix := idPrefixes[src] + "-"
	if strings.HasPrefix(strings.ToUpper(native), prefix) {
		return prefix + native[len(prefix):]
	}
	return prefix + native
}

// SplitID returns the source and native identifier encoded in a record id.
func SplitID(id string) (Source, string, bool) {
	id = strings.TrimSpace(id)
	for _, src := range Sources {
		prefix := idPrefixes[src] + "-"
		if len(id) > len(prefix) && strings.EqualFold(id[:len(prefix)], prefix) {
			return src, id[len(prefix):], true
		}
	}
	return "", "", false
}
