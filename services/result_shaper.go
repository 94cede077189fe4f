package services

import (
	"encoding/json"

	"vision-adapter-worker/domain"
)

const summaryConfidentAt = 0.5

// ResultShaper turns one raw annotation document into a compact per-image
// record. It only reads its inputs, so images may be shaped in parallel.
type ResultShaper struct {
	maxResults int
	brands     *BrandResolver
	types      *TypeResolver
}

func NewResultShaper(catalog BrandCatalog, maxResults int) *ResultShaper {
	return &ResultShaper{
		maxResults: maxResults,
		brands:     NewBrandResolver(catalog),
		types:      NewTypeResolver(catalog),
	}
}

func (s *ResultShaper) Shape(raw json.RawMessage, ref domain.ImageRef) domain.ShapedResult {
	resp := ExtractResponse(ParseDocument(raw))

	webEntities, topWebScore, bestGuess := GetWebEntities(resp, s.maxResults)
	logoCandidates, logo, logoScore := GetLogoHits(resp, s.maxResults)
	ocr := GetOCRText(resp)
	objects := GetLocalizedObjects(resp, s.maxResults)

	brand, brandScore := s.brands.ResolveBrand(logo, logoScore, webEntities, bestGuess, ocr)
	machineType := s.types.ResolveType(bestGuess, webEntities)

	confidence := max(logoScore, topWebScore, brandScore)

	return domain.ShapedResult{
		ImageRef: ref,
		Summary: domain.MachineSummary{
			Type:        machineType,
			Brand:       brand,
			Confidence:  confidence,
			IsConfident: confidence >= summaryConfidentAt,
		},
		Evidence: domain.Evidence{
			WebBestGuess:   bestGuess,
			Logo:           logo,
			LogoScore:      logoScore,
			OCRSample:      ocr,
			WebEntities:    webEntities,
			LogoCandidates: logoCandidates,
			Objects:        objects,
		},
	}
}
