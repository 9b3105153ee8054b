package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/normalize"
	"github.com/DeafMist/legal-radar/backend/internal/sourceerr"
)

const (
	gazetteSearchPath   = "/buscar/rss.php"
	gazetteDocumentPath = "/diario_boe/xml.php"
	gazetteTextPath     = "/diario_boe/txt.php"
	gazetteDateLayout   = "20060102"

	// DefaultGazettePageSize is how many items a gazette feed page requests.
	DefaultGazettePageSize = 50
)

var gazetteID = regexp.MustCompile(`BOE-[A-Z]-\d{4}-\d+`)

// GazetteConfig configures the official-gazette adapter.
type GazetteConfig struct {
	BaseURL  string
	PageSize int
	Fetcher  *Fetcher
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Gazette searches an RSS feed of official publications (laws, decrees,
// orders, resolutions) and reads single documents from their XML rendition.
type Gazette struct {
	base     *url.URL
	pageSize int
	fetcher  *Fetcher
	clock    clock.Clock
	log      *slog.Logger
}

// NewGazette validates cfg and builds the adapter.
func NewGazette(cfg GazetteConfig) (*Gazette, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gazette: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("gazette: nil fetcher")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultGazettePageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gazette{base: base, pageSize: cfg.PageSize, fetcher: cfg.Fetcher, clock: cfg.Clock, log: cfg.Logger}, nil
}

// Source implements Adapter.
func (g *Gazette) Source() models.Source { return models.SourceGazette }

// SearchURL builds the feed URL for spec. Kind is not sent upstream; the
// feed's categories are mapped and filtered locally.
func (g *Gazette) SearchURL(spec models.QuerySpec) string {
	v := url.Values{}
	v.Set("q", spec.Query)
	if spec.From != nil {
		v.Set("desde", spec.From.Format(gazetteDateLayout))
	}
	if spec.To != nil {
		v.Set("hasta", spec.To.Format(gazetteDateLayout))
	}
	page := spec.Page
	if page <= 0 {
		page = 1
	}
	v.Set("pagina", strconv.Itoa(page))
	v.Set("tamano", strconv.Itoa(g.pageSize))
	return g.endpoint(gazetteSearchPath, v)
}

// Search implements Adapter.
func (g *Gazette) Search(ctx context.Context, spec models.QuerySpec) ([]models.CanonicalRecord, int, error) {
	body, err := g.fetcher.Get(ctx, models.SourceGazette, g.SearchURL(spec), "application/rss+xml, application/xml")
	if err != nil {
		return nil, 0, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		g.log.Warn("gazette feed did not parse, treating as empty", slog.String("query", spec.Query), slog.Any("err", err))
		return nil, 0, nil
	}

	today := normalize.Today(g.clock.Now())
	records := make([]models.CanonicalRecord, 0, len(feed.Items))
	seen := make(map[string]struct{}, len(feed.Items))
	for _, item := range feed.Items {
		rec, ok := g.fromItem(item, today)
		if !ok {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}

	records = filterKind(records, spec.Kind)
	total := feedTotal(feed, len(records))
	return truncate(records, spec.Limit), total, nil
}

func (g *Gazette) fromItem(item *gofeed.Item, today time.Time) (models.CanonicalRecord, bool) {
	if item == nil {
		return models.CanonicalRecord{}, false
	}
	description := normalize.StripTags(item.Description)
	title := normalize.CleanText(item.Title)
	if title == "" {
		title = normalize.TitleFromText(description, 12)
	}
	if title == "" {
		return models.CanonicalRecord{}, false
	}

	native := gazetteID.FindString(item.GUID)
	if native == "" {
		native = gazetteID.FindString(item.Link)
	}
	if native == "" {
		native = normalize.StableID(item.Link, title)
	}
	id := models.RecordID(models.SourceGazette, native)

	kind := models.KindOther
	for _, c := range item.Categories {
		if k := normalize.GazetteKind(c); k != models.KindOther {
			kind = k
			break
		}
	}
	if kind == models.KindOther {
		kind = normalize.GazetteKind(title)
	}

	// The raw pubDate keeps its offset; PublishedParsed is UTC and would
	// move midnight-local dates back a day.
	published := normalize.DateOr(item.Published, normalize.DateOr(title, today))
	if published.After(today) {
		published = today
	}

	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = g.documentURL(id)
	}

	excerpt := normalize.Truncate(description, models.MaxExcerptLength)
	return models.CanonicalRecord{
		ID:          id,
		Title:       title,
		Kind:        kind,
		Source:      models.SourceGazette,
		PublishedAt: published,
		URL:         link,
		Excerpt:     excerpt,
		Issuer:      normalize.LookupOrganization(title + ". " + description),
		Amount:      normalize.LargestAmount(excerpt),
	}, true
}

func feedTotal(feed *gofeed.Feed, fallback int) int {
	if ext, ok := feed.Extensions["opensearch"]; ok {
		if vals := ext["totalResults"]; len(vals) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(vals[0].Value)); err == nil && n >= 0 {
				return n
			}
		}
	}
	return fallback
}

type gazetteDocument struct {
	XMLName   xml.Name `xml:"documento"`
	Metadatos struct {
		Identificador    string `xml:"identificador"`
		Titulo           string `xml:"titulo"`
		Departamento     string `xml:"departamento"`
		Rango            string `xml:"rango"`
		FechaPublicacion string `xml:"fecha_publicacion"`
		URLEli           string `xml:"url_eli"`
	} `xml:"metadatos"`
	Texto struct {
		Inner string `xml:",innerxml"`
	} `xml:"texto"`
}

// GetByNativeID implements Adapter.
func (g *Gazette) GetByNativeID(ctx context.Context, nativeID string) (models.CanonicalRecord, error) {
	id := models.RecordID(models.SourceGazette, nativeID)
	body, err := g.fetcher.Get(ctx, models.SourceGazette, g.endpoint(gazetteDocumentPath, url.Values{"id": {id}}), "application/xml")
	if err != nil {
		return models.CanonicalRecord{}, err
	}

	var doc gazetteDocument
	if err := xml.Unmarshal(body, &doc); err != nil || strings.TrimSpace(doc.Metadatos.Identificador) == "" {
		return models.CanonicalRecord{}, sourceerr.New(models.SourceGazette, sourceerr.NotFound, fmt.Errorf("document %s not found", id))
	}

	meta := doc.Metadatos
	today := normalize.Today(g.clock.Now())
	title := normalize.CleanText(meta.Titulo)
	text := normalize.StripTags(doc.Texto.Inner)
	if title == "" {
		title = normalize.TitleFromText(text, 12)
	}

	kind := normalize.GazetteKind(meta.Rango)
	if kind == models.KindOther {
		kind = normalize.GazetteKind(title)
	}
	issuer := normalize.CleanText(meta.Departamento)
	if issuer == "" {
		issuer = normalize.LookupOrganization(title)
	}
	link := strings.TrimSpace(meta.URLEli)
	if link == "" {
		link = g.documentURL(id)
	}
	published := normalize.DateOr(meta.FechaPublicacion, today)
	if published.After(today) {
		published = today
	}

	excerpt := normalize.Truncate(text, models.MaxExcerptLength)
	return models.CanonicalRecord{
		ID:          models.RecordID(models.SourceGazette, meta.Identificador),
		Title:       title,
		Kind:        kind,
		Source:      models.SourceGazette,
		PublishedAt: published,
		URL:         link,
		Excerpt:     excerpt,
		Issuer:      issuer,
		Amount:      normalize.LargestAmount(excerpt),
	}, nil
}

func (g *Gazette) documentURL(id string) string {
	return g.endpoint(gazetteTextPath, url.Values{"id": {id}})
}

func (g *Gazette) endpoint(path string, v url.Values) string {
	u := *g.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = v.Encode()
	return u.String()
}
