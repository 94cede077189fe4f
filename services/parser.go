package services

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"vision-adapter-worker/domain"
)

// ExtractResponse unwraps a batch envelope ({"responses": [doc, ...]}) to its
// first per-image response. Anything else is returned unchanged.
func ExtractResponse(doc gjson.Result) gjson.Result {
	responses := probeArray(doc, "responses")
	if len(responses) > 0 {
		return responses[0]
	}
	return doc
}

// GetWebEntities reads webDetection. bestGuess is the first non-blank
// best-guess label in provider order; entities are deduplicated, ranked by
// score and cut to maxResults; topScore is the best entity score or 0.
func GetWebEntities(resp gjson.Result, maxResults int) (entities []domain.WebEntityHit, topScore float64, bestGuess string) {
	wd, ok := probeObject(resp, "webDetection")
	if !ok {
		return nil, 0, ""
	}

	for _, label := range probeArray(wd, "bestGuessLabels") {
		if l, ok := probeString(label, "label"); ok && !isBlank(l) {
			bestGuess = l
			break
		}
	}

	ranked := rankHits(collectHits(probeArray(wd, "webEntities"), "description"), maxResults)
	for _, h := range ranked {
		entities = append(entities, domain.WebEntityHit{Description: h.name, Score: h.score})
	}
	if len(ranked) > 0 {
		topScore = ranked[0].score
	}
	return entities, topScore, bestGuess
}

// GetLogoHits reads logoAnnotations. topLogo and topLogoScore come from the
// single best raw hit; candidates are the deduplicated top maxResults.
func GetLogoHits(resp gjson.Result, maxResults int) (candidates []domain.LogoHit, topLogo string, topLogoScore float64) {
	hits := collectHits(probeArray(resp, "logoAnnotations"), "description")
	if len(hits) == 0 {
		return nil, "", 0
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h.score > best.score {
			best = h
		}
	}

	for _, h := range rankHits(hits, maxResults) {
		candidates = append(candidates, domain.LogoHit{Description: h.name, Score: h.score})
	}
	return candidates, best.name, best.score
}

// GetLocalizedObjects reads localizedObjectAnnotations with the same
// dedup and ranking rules as web entities.
func GetLocalizedObjects(resp gjson.Result, maxResults int) []domain.ObjectHit {
	var objects []domain.ObjectHit
	for _, h := range rankHits(collectHits(probeArray(resp, "localizedObjectAnnotations"), "name"), maxResults) {
		objects = append(objects, domain.ObjectHit{Name: h.name, Score: h.score})
	}
	return objects
}

// GetOCRText prefers the sparse text detection (textAnnotations[0]) and falls
// back to the dense document text. The text is returned untruncated.
func GetOCRText(resp gjson.Result) string {
	if ta := probeArray(resp, "textAnnotations"); len(ta) > 0 {
		if desc, ok := probeString(ta[0], "description"); ok && !isBlank(desc) {
			return desc
		}
	}
	if fta, ok := probeObject(resp, "fullTextAnnotation"); ok {
		if text, ok := probeString(fta, "text"); ok && !isBlank(text) {
			return text
		}
	}
	return ""
}

type scoredHit struct {
	name  string
	score float64
}

func collectHits(items []gjson.Result, nameKey string) []scoredHit {
	var hits []scoredHit
	for _, item := range items {
		name, ok := probeString(item, nameKey)
		if !ok || isBlank(name) {
			continue
		}
		hits = append(hits, scoredHit{name: strings.TrimSpace(name), score: probeScore(item, "score")})
	}
	return hits
}

// rankHits collapses case-insensitive duplicates to their max score (first
// spelling kept), sorts by score descending with ties in input order, and
// keeps the first maxResults. maxResults <= 0 keeps everything.
func rankHits(hits []scoredHit, maxResults int) []scoredHit {
	index := make(map[string]int, len(hits))
	merged := make([]scoredHit, 0, len(hits))
	for _, h := range hits {
		key := domain.FoldKey(h.name)
		if i, ok := index[key]; ok {
			if h.score > merged[i].score {
				merged[i].score = h.score
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, h)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].score > merged[j].score
	})

	if maxResults > 0 && len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	return merged
}
