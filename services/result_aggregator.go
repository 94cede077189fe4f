package services

import (
	"regexp"
	"strings"

	"vision-adapter-worker/domain"
)

const (
	DefaultConfidenceThreshold = 0.5

	entityTypeMinScore = 0.6
	objectTypeMinScore = 0.5
)

// Model code shapes seen on machine decals: "930G" and "EC220E" / "D61-12".
var (
	modelDigitsFirst  = regexp.MustCompile(`(?i)\b\d{2,4}[A-Z]{1,2}\b`)
	modelLettersFirst = regexp.MustCompile(`(?i)\b[A-Z]{1,3}[ \t-]?\d{2,4}(?:-\d{1,2})?[A-Z]{0,2}\b`)
)

// ResultAggregator reduces the shaped results of one request into a single
// machine identity.
type ResultAggregator struct {
	threshold float64
}

// NewResultAggregator uses threshold to decide MachineAggregate.IsConfident.
func NewResultAggregator(threshold float64) *ResultAggregator {
	return &ResultAggregator{threshold: threshold}
}

func (a *ResultAggregator) Threshold() float64 {
	return a.threshold
}

// Aggregate must see every shaped result of the request, in request order:
// brand and model are first-match-in-order, not highest score.
func (a *ResultAggregator) Aggregate(results []domain.ShapedResult) domain.MachineAggregate {
	if len(results) == 0 {
		return domain.MachineAggregate{}
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Summary.Confidence > best.Summary.Confidence {
			best = r
		}
	}

	var brand string
	for _, r := range results {
		if !isBlank(r.Summary.Brand) {
			brand = r.Summary.Brand
			break
		}
	}

	var ocr string
	for _, r := range results {
		if !isBlank(r.Evidence.OCRSample) {
			ocr = r.Evidence.OCRSample
			break
		}
	}

	machineType, typeConfidence, typeSource := PickTypeWithEvidence(results)
	if canonical, ok := domain.CanonicalSpelling(machineType); ok {
		machineType = canonical
	} else {
		machineType, typeConfidence, typeSource = "", nil, ""
	}

	confidence := best.Summary.Confidence
	return domain.MachineAggregate{
		Brand:          brand,
		MachineType:    machineType,
		Model:          ExtractModel(ocr),
		Confidence:     confidence,
		IsConfident:    confidence >= a.threshold,
		TypeConfidence: typeConfidence,
		TypeSource:     typeSource,
	}
}

// ExtractModel finds a model code in OCR text. The digits-first shape is
// tried before the letters-first one.
func ExtractModel(ocr string) string {
	if isBlank(ocr) {
		return ""
	}
	if m := modelDigitsFirst.FindString(ocr); m != "" {
		return strings.ToUpper(m)
	}
	if m := modelLettersFirst.FindString(ocr); m != "" {
		return strings.ToUpper(m)
	}
	return ""
}

// PickTypeWithEvidence resolves a canonical machine type across all images,
// in strict priority: confident web entities, then confident localized
// objects, then the first best-guess label.
func PickTypeWithEvidence(results []domain.ShapedResult) (machineType string, typeConfidence *float64, typeSource string) {
	var (
		found     bool
		bestType  string
		bestScore float64
	)
	for _, r := range results {
		for _, e := range r.Evidence.WebEntities {
			if e.Score < entityTypeMinScore {
				continue
			}
			t, ok := domain.MatchCanonicalMachineType(e.Description)
			if !ok {
				continue
			}
			if !found || e.Score > bestScore {
				found, bestType, bestScore = true, t, e.Score
			}
		}
	}
	if found {
		return bestType, &bestScore, domain.TypeSourceWebEntity
	}

	for _, r := range results {
		for _, o := range r.Evidence.Objects {
			if o.Score < objectTypeMinScore {
				continue
			}
			t, ok := domain.MatchCanonicalMachineType(o.Name)
			if !ok {
				continue
			}
			if !found || o.Score > bestScore {
				found, bestType, bestScore = true, t, o.Score
			}
		}
	}
	if found {
		return bestType, &bestScore, domain.TypeSourceObjectLocalization
	}

	for _, r := range results {
		if isBlank(r.Evidence.WebBestGuess) {
			continue
		}
		if t, ok := domain.MatchCanonicalMachineType(r.Evidence.WebBestGuess); ok {
			return t, nil, domain.TypeSourceWebBestGuess
		}
		break
	}

	return "", nil, ""
}
