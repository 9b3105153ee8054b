package sources

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// KeywordTable lists, per kind, the words that mark a free-text block as a
// decision of that kind during the heuristic scan.
type KeywordTable map[models.Kind][]string

// DefaultCaseLawKeywords is the Spanish table used when no file is configured.
var DefaultCaseLawKeywords = KeywordTable{
	models.KindJudgment:   {"sentencia"},
	models.KindOrder:      {"auto", "providencia"},
	models.KindResolution: {"resolución", "resolucion"},
}

// Match order matters when a block mentions several kinds.
var keywordKindOrder = []models.Kind{models.KindJudgment, models.KindOrder, models.KindResolution}

// LoadKeywordTable reads a YAML mapping of kind to keyword list, e.g.
//
//	JUDGMENT: [sentencia]
//	ORDER: [auto]
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}
	table := make(KeywordTable, len(raw))
	for k, words := range raw {
		kind := models.Kind(strings.ToUpper(strings.TrimSpace(k)))
		for _, w := range words {
			if w = strings.TrimSpace(w); w != "" {
				table[kind] = append(table[kind], w)
			}
		}
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("keyword table %s is empty", path)
	}
	return table, nil
}

type keywordMatcher struct {
	kinds    []models.Kind
	patterns map[models.Kind]*regexp.Regexp
}

func newKeywordMatcher(table KeywordTable) *keywordMatcher {
	m := &keywordMatcher{patterns: make(map[models.Kind]*regexp.Regexp, len(table))}
	var extra []models.Kind
	for kind := range table {
		if !containsKind(keywordKindOrder, kind) {
			extra = append(extra, kind)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	ordered := append(append([]models.Kind(nil), keywordKindOrder...), extra...)
	for _, kind := range ordered {
		words := table[kind]
		if len(words) == 0 {
			continue
		}
		quoted := make([]string, 0, len(words))
		for _, w := range words {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
		m.kinds = append(m.kinds, kind)
		m.patterns[kind] = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}])`)
	}
	return m
}

// match returns the first kind whose keywords appear in text.
func (m *keywordMatcher) match(text string) (models.Kind, bool) {
	for _, kind := range m.kinds {
		if m.patterns[kind].MatchString(text) {
			return kind, true
		}
	}
	return "", false
}

func containsKind(kinds []models.Kind, k models.Kind) bool {
	for _, existing := range kinds {
		if existing == k {
			return true
		}
	}
	return false
}
