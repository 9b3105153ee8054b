package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/juju/clock"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/normalize"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
)

const (
	caseLawSearchPath   = "/search/sentencias"
	caseLawDocumentPath = "/search/openDocument/"
	caseLawDateLayout   = "02/01/2006"

	// DefaultCaseLawLimit caps case-law results when the query sets no limit.
	DefaultCaseLawLimit = 10

	heuristicTitleWords = 12
	minHeuristicText    = 40
)

var cendojRef = regexp.MustCompile(`\b\d{20}\b`)

// selectorSet is one known layout of the results page.
type selectorSet struct {
	item    string
	title   string
	link    string
	date    string
	summary string
	court   string
	kind    string
}

var caseLawLayouts = []selectorSet{
	{
		item:    "div.searchresult",
		title:   "a.title",
		link:    "a.title",
		date:    ".date",
		summary: ".summary",
		court:   ".court",
		kind:    ".type",
	},
	{
		item:    "article.resultado",
		title:   "h3",
		link:    "h3 a",
		date:    "time",
		summary: "p.resumen",
		court:   ".organo",
		kind:    ".tipo",
	},
}

// Blocks the heuristic scan inspects; the innermost qualifying one is used.
const heuristicBlocks = "p, li, div, article, section, td"

// CaseLawConfig configures the case-law adapter.
type CaseLawConfig struct {
	BaseURL      string
	DefaultLimit int
	Keywords     KeywordTable
	Fetcher      *Fetcher
	Clock        clock.Clock
	Logger       *slog.Logger
}

// CaseLaw scrapes a judicial decisions search page. Parsing is layered:
// known result layouts first, then a keyword scan of free-text blocks when
// no layout matched, so markup drift yields noisier results, not failures.
type CaseLaw struct {
	base         *url.URL
	defaultLimit int
	keywords     *keywordMatcher
	fetcher      *Fetcher
	clock        clock.Clock
	log          *slog.Logger
}

// NewCaseLaw validates cfg and builds the adapter.
func NewCaseLaw(cfg CaseLawConfig) (*CaseLaw, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("caselaw: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("caselaw: nil fetcher")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultCaseLawLimit
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultCaseLawKeywords
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CaseLaw{
		base:         base,
		defaultLimit: cfg.DefaultLimit,
		keywords:     newKeywordMatcher(cfg.Keywords),
		fetcher:      cfg.Fetcher,
		clock:        cfg.Clock,
		log:          cfg.Logger,
	}, nil
}

// Source implements Adapter.
func (c *CaseLaw) Source() models.Source { return models.SourceCaseLaw }

// SearchURL builds the results page URL for spec. Kind is filtered locally
// after mapping.
func (c *CaseLaw) SearchURL(spec models.QuerySpec) string {
	v := url.Values{}
	v.Set("q", spec.Query)
	if spec.From != nil {
		v.Set("fechaDesde", spec.From.Format(caseLawDateLayout))
	}
	if spec.To != nil {
		v.Set("fechaHasta", spec.To.Format(caseLawDateLayout))
	}
	page := spec.Page
	if page <= 0 {
		page = 1
	}
	v.Set("pagina", strconv.Itoa(page))
	return c.endpoint(caseLawSearchPath, v)
}

// Search implements Adapter.
func (c *CaseLaw) Search(ctx context.Context, spec models.QuerySpec) ([]models.CanonicalRecord, int, error) {
	searchURL := c.SearchURL(spec)
	body, err := c.fetcher.Get(ctx, models.SourceCaseLaw, searchURL, "text/html")
	if err != nil {
		return nil, 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		c.log.Warn("case-law page did not parse, treating as empty", slog.String("query", spec.Query), slog.Any("err", err))
		return nil, 0, nil
	}

	today := normalize.Today(c.clock.Now())
	records := c.parseStructured(doc, today)
	if len(records) == 0 {
		records = c.parseHeuristic(doc, searchURL, today)
		if len(records) > 0 {
			c.log.Info("case-law layouts missed, used keyword scan",
				slog.String("query", spec.Query), slog.Int("records", len(records)))
		}
	}

	records = filterKind(records, spec.Kind)
	limit := spec.Limit
	if limit <= 0 {
		limit = c.defaultLimit
	}
	return truncate(records, limit), len(records), nil
}

func (c *CaseLaw) parseStructured(doc *goquery.Document, today time.Time) []models.CanonicalRecord {
	for _, layout := range caseLawLayouts {
		items := doc.Find(layout.item)
		if items.Length() == 0 {
			continue
		}
		var records []models.CanonicalRecord
		seen := make(map[string]struct{})
		items.Each(func(_ int, s *goquery.Selection) {
			rec, ok := c.fromSelection(s, layout, today)
			if !ok {
				return
			}
			if _, dup := seen[rec.ID]; dup {
				return
			}
			seen[rec.ID] = struct{}{}
			records = append(records, rec)
		})
		if len(records) > 0 {
			return records
		}
	}
	return nil
}

func (c *CaseLaw) fromSelection(s *goquery.Selection, layout selectorSet, today time.Time) (models.CanonicalRecord, bool) {
	title := normalize.CleanText(s.Find(layout.title).First().Text())
	summary := normalize.CleanText(s.Find(layout.summary).First().Text())
	if title == "" {
		title = normalize.TitleFromText(summary, heuristicTitleWords)
	}
	if title == "" {
		return models.CanonicalRecord{}, false
	}

	href, _ := s.Find(layout.link).First().Attr("href")
	link := c.resolve(href)

	native := strings.TrimSpace(s.AttrOr("data-reference", ""))
	if native == "" {
		native = referenceFrom(link, s.Text())
	}
	if native == "" {
		native = normalize.StableID(link, title)
	}

	kind := normalize.CaseLawKind(s.Find(layout.kind).First().Text())
	if kind == models.KindOther {
		kind = normalize.CaseLawKind(title)
	}

	court := normalize.CleanText(s.Find(layout.court).First().Text())
	if court == "" {
		court = normalize.LookupCourt(title + " " + summary)
	}

	published := normalize.DateOr(s.Find(layout.date).First().Text(), normalize.DateOr(title, today))
	if published.After(today) {
		published = today
	}
	if link == "" {
		link = c.documentURL(native)
	}

	excerpt := normalize.Truncate(summary, models.MaxExcerptLength)
	return models.CanonicalRecord{
		ID:          models.RecordID(models.SourceCaseLaw, native),
		Title:       title,
		Kind:        kind,
		Source:      models.SourceCaseLaw,
		PublishedAt: published,
		URL:         link,
		Excerpt:     excerpt,
		Issuer:      court,
		Amount:      normalize.LargestAmount(excerpt),
	}, true
}

func (c *CaseLaw) parseHeuristic(doc *goquery.Document, pageURL string, today time.Time) []models.CanonicalRecord {
	var records []models.CanonicalRecord
	seen := make(map[string]struct{})

	doc.Find(heuristicBlocks).Each(func(_ int, s *goquery.Selection) {
		text, kind, ok := c.candidate(s)
		if !ok {
			return
		}
		// A nested block that qualifies on its own yields the record instead.
		nested := s.Find(heuristicBlocks).FilterFunction(func(_ int, inner *goquery.Selection) bool {
			_, _, ok := c.candidate(inner)
			return ok
		})
		if nested.Length() > 0 {
			return
		}

		href, _ := s.Find("a[href]").First().Attr("href")
		link := c.resolve(href)

		native := referenceFrom(link, text)
		if native == "" {
			native = normalize.StableID(text)
		}
		id := models.RecordID(models.SourceCaseLaw, native)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		court := normalize.LookupCourt(text)
		title := normalize.TitleFromText(text, heuristicTitleWords)
		if court != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(court)) {
			title = court + ": " + title
		}
		if link == "" {
			link = pageURL
		}
		published := normalize.DateOr(text, today)
		if published.After(today) {
			published = today
		}

		excerpt := normalize.Truncate(text, models.MaxExcerptLength)
		records = append(records, models.CanonicalRecord{
			ID:          id,
			Title:       title,
			Kind:        kind,
			Source:      models.SourceCaseLaw,
			PublishedAt: published,
			URL:         link,
			Excerpt:     excerpt,
			Issuer:      court,
			Amount:      normalize.LargestAmount(excerpt),
		})
	})
	return records
}

// candidate reports whether a block's text is long enough and names a
// decision kind.
func (c *CaseLaw) candidate(s *goquery.Selection) (string, models.Kind, bool) {
	text := normalize.CleanText(s.Text())
	if len([]rune(text)) < minHeuristicText {
		return "", "", false
	}
	kind, ok := c.keywords.match(text)
	return text, kind, ok
}

// GetByNativeID implements Adapter.
func (c *CaseLaw) GetByNativeID(ctx context.Context, nativeID string) (models.CanonicalRecord, error) {
	nativeID = strings.TrimSpace(nativeID)
	docURL := c.documentURL(nativeID)
	body, err := c.fetcher.Get(ctx, models.SourceCaseLaw, docURL, "text/html")
	if err != nil {
		return models.CanonicalRecord{}, err
	}

	notFound := sourceerr.New(models.SourceCaseLaw, sourceerr.NotFound, fmt.Errorf("document %s not found", nativeID))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.CanonicalRecord{}, notFound
	}

	title := normalize.CleanText(doc.Find("h1").First().Text())
	if title == "" {
		title = normalize.CleanText(doc.Find("title").First().Text())
	}
	content := doc.Find("#contenido, .documento").First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	text := normalize.CleanText(content.Text())
	if title == "" {
		title = normalize.TitleFromText(text, heuristicTitleWords)
	}
	if title == "" {
		return models.CanonicalRecord{}, notFound
	}

	today := normalize.Today(c.clock.Now())
	published := normalize.DateOr(doc.Find(".date, time").First().Text(), normalize.DateOr(title+" "+text, today))
	if published.After(today) {
		published = today
	}
	kind := normalize.CaseLawKind(title)
	if kind == models.KindOther {
		if k, ok := c.keywords.match(title); ok {
			kind = k
		}
	}

	excerpt := normalize.Truncate(text, models.MaxExcerptLength)
	return models.CanonicalRecord{
		ID:          models.RecordID(models.SourceCaseLaw, nativeID),
		Title:       title,
		Kind:        kind,
		Source:      models.SourceCaseLaw,
		PublishedAt: published,
		URL:         docURL,
		Excerpt:     excerpt,
		Issuer:      normalize.LookupCourt(title + " " + text),
		Amount:      normalize.LargestAmount(excerpt),
	}, nil
}

func referenceFrom(link, text string) string {
	if link != "" {
		if u, err := url.Parse(link); err == nil {
			if ref := u.Query().Get("reference"); ref != "" {
				return ref
			}
		}
	}
	if ref := cendojRef.FindString(link); ref != "" {
		return ref
	}
	return cendojRef.FindString(text)
}

func (c *CaseLaw) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return c.base.ResolveReference(ref).String()
}

func (c *CaseLaw) documentURL(nativeID string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + caseLawDocumentPath + nativeID
	return u.String()
}

func (c *CaseLaw) endpoint(path string, v url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = v.Encode()
	return u.String()
}
