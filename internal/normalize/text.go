// Package normalize holds the pure, source-agnostic helpers adapters use to
// turn raw upstream text into canonical record fields. None of them fail:
// malformed input degrades to an empty or zero result.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	tags       = regexp.MustCompile(`<[^>]*>`)
)

const ellipsis = "..."

// CleanText decodes HTML entities and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// StripTags removes markup from an HTML fragment and cleans the remaining text.
func StripTags(fragment string) string {
	return CleanText(tags.ReplaceAllString(fragment, " "))
}

// Truncate cleans text and bounds it to max runes, cutting at a word
// boundary when possible and marking the cut with an ellipsis.
func Truncate(text string, max int) string {
	clean := CleanText(text)
	if max <= 0 || utf8.RuneCountInString(clean) <= max {
		return clean
	}
	if max <= len(ellipsis) {
		return string([]rune(clean)[:max])
	}

	runes := []rune(clean)[:max-len(ellipsis)]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:.") + ellipsis
}

// StableID hashes the parts into a short deterministic identifier.
func StableID(parts ...string) string {
	s := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(s[:8])
}

// TitleFromText builds a title from the first sentence or first maxWords words.
func TitleFromText(text string, maxWords int) string {
	text = CleanText(text)
	if text == "" {
		return ""
	}

	firstSentence := text
	if end := strings.IndexAny(text, ".!?"); end > 0 {
		firstSentence = strings.TrimSpace(text[:end])
	}

	words := strings.Fields(firstSentence)
	if len(words) == 0 {
		return ""
	}

	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + ellipsis
	}

	return strings.Join(words, " ")
}
