package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// Most specific names first: "Tribunal Superior de Justicia" must win over "Tribunal".
var courts = []string{
	"Tribunal Constitucional",
	"Tribunal Supremo",
	"Audiencia Nacional",
	"Tribunal Superior de Justicia",
	"Audiencia Provincial",
	"Tribunal de Cuentas",
	"Juzgado Central",
	"Juzgado de lo Social",
	"Juzgado de lo Contencioso-Administrativo",
	"Juzgado de lo Mercantil",
	"Juzgado de lo Penal",
	"Juzgado de Primera Instancia",
}

var organizations = []string{
	"Jefatura del Estado",
	"Cortes Generales",
	"Presidencia del Gobierno",
	"Consejo General del Poder Judicial",
	"Tribunal Constitucional",
	"Banco de España",
	"Comisión Nacional de los Mercados y la Competencia",
	"Agencia Estatal de Administración Tributaria",
}

var ministry = regexp.MustCompile(`Ministerio (?:de|del|para) (?:la |el )?\p{Lu}\p{L}*(?: (?:y|e) \p{Lu}\p{L}*| \p{Lu}\p{L}*)*`)

// LookupCourt returns the first court of the fixed vocabulary named in text.
func LookupCourt(text string) string {
	return lookup(courts, text)
}

// LookupOrganization returns the issuing body named in text: a fixed
// vocabulary entry or a "Ministerio de ..." name.
func LookupOrganization(text string) string {
	if org := lookup(organizations, text); org != "" {
		return org
	}
	if m := ministry.FindString(CleanText(text)); m != "" {
		return m
	}
	return ""
}

func lookup(vocabulary []string, text string) string {
	lower := strings.ToLower(text)
	for _, name := range vocabulary {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

type kindPrefix struct {
	prefix string
	kind   models.Kind
}

var gazetteKinds = []kindPrefix{
	{"real decreto", models.KindDecree},
	{"decreto", models.KindDecree},
	{"ley", models.KindLaw},
	{"instrumento de ratificación", models.KindLaw},
	{"orden", models.KindOrder},
	{"resolución", models.KindResolution},
	{"resolucion", models.KindResolution},
	{"acuerdo", models.KindResolution},
	{"circular", models.KindResolution},
	{"anuncio", models.KindAnnouncement},
	{"edicto", models.KindAnnouncement},
}

var caseLawKinds = []kindPrefix{
	{"sentencia", models.KindJudgment},
	{"auto", models.KindOrder},
	{"providencia", models.KindOrder},
	{"resolución", models.KindResolution},
	{"resolucion", models.KindResolution},
	{"decreto", models.KindResolution},
}

// GazetteKind maps a gazette rank ("Real Decreto", "Ley Orgánica") or a
// title starting with one into the gazette kind set.
func GazetteKind(raw string) models.Kind {
	return matchKind(gazetteKinds, raw)
}

// CaseLawKind maps a decision type ("Sentencia", "Auto") into the case-law kind set.
func CaseLawKind(raw string) models.Kind {
	return matchKind(caseLawKinds, raw)
}

func matchKind(table []kindPrefix, raw string) models.Kind {
	lower := strings.ToLower(CleanText(raw))
	for _, kp := range table {
		if !strings.HasPrefix(lower, kp.prefix) {
			continue
		}
		rest := []rune(lower[len(kp.prefix):])
		if len(rest) == 0 || !unicode.IsLetter(rest[0]) {
			return kp.kind
		}
	}
	return models.KindOther
}
