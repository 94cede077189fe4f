package services

import (
	"regexp"
	"unicode/utf8"

	"vision-adapter-worker/domain"
)

const (
	logoBrandFloor = 0.90
	ocrBrandScore  = 0.80
)

// BrandCatalog is the read-only set of known brand names.
type BrandCatalog interface {
	IsKnownBrand(name string) bool
	All() []string
}

type brandPattern struct {
	name string
	re   *regexp.Regexp
}

// BrandResolver picks a brand from logo evidence, falling back to a
// whole-word catalog match in the OCR text. Safe for concurrent use.
type BrandResolver struct {
	brands   []string
	patterns []brandPattern
}

func NewBrandResolver(catalog BrandCatalog) *BrandResolver {
	if catalog == nil {
		panic("services: NewBrandResolver called with nil catalog")
	}
	r := &BrandResolver{brands: catalog.All()}
	for _, name := range r.brands {
		if isBlank(name) {
			continue
		}
		r.patterns = append(r.patterns, brandPattern{
			name: name,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
		})
	}
	return r
}

// ResolveBrand returns the brand and its score in [0,1], or "" and 0.
func (r *BrandResolver) ResolveBrand(logo string, logoScore float64, webEntities []domain.WebEntityHit, bestGuess, ocrText string) (string, float64) {
	if !isBlank(logo) {
		score := logoScore
		if score < logoBrandFloor {
			score = logoBrandFloor
		}
		return logo, clamp01(score)
	}

	if isBlank(ocrText) {
		return "", 0
	}

	stop := r.typeStoplist(webEntities, bestGuess)

	var match string
	for _, p := range r.patterns {
		if _, blocked := stop[domain.FoldKey(p.name)]; blocked {
			continue
		}
		if utf8.RuneCountInString(p.name) > utf8.RuneCountInString(match) && p.re.MatchString(ocrText) {
			match = p.name
		}
	}

	if match == "" {
		return "", 0
	}
	return match, clamp01(ocrBrandScore)
}

// typeStoplist collects the labels that read as machine types rather than
// brands. Labels that contain a catalog brand are brand-bearing and left out.
func (r *BrandResolver) typeStoplist(webEntities []domain.WebEntityHit, bestGuess string) map[string]struct{} {
	stop := make(map[string]struct{})
	add := func(s string) {
		if isBlank(s) || containsAnyBrand(s, r.brands) {
			return
		}
		stop[domain.FoldKey(s)] = struct{}{}
	}
	for _, e := range webEntities {
		add(e.Description)
	}
	add(bestGuess)
	return stop
}
