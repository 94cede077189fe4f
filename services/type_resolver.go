package services

import (
	"strings"

	"vision-adapter-worker/domain"
)

// TypeResolver guesses a free-text machine type from web evidence. Its output
// is not restricted to the canonical vocabulary; the aggregator does that.
type TypeResolver struct {
	brands []string
}

func NewTypeResolver(catalog BrandCatalog) *TypeResolver {
	if catalog == nil {
		panic("services: NewTypeResolver called with nil catalog")
	}
	return &TypeResolver{brands: catalog.All()}
}

// ResolveType returns the best guess unless it names a brand, else the first
// web entity (in the given order) that does not, else "".
func (r *TypeResolver) ResolveType(bestGuess string, webEntities []domain.WebEntityHit) string {
	if !isBlank(bestGuess) && !containsAnyBrand(bestGuess, r.brands) {
		return strings.TrimSpace(bestGuess)
	}
	for _, e := range webEntities {
		if isBlank(e.Description) || containsAnyBrand(e.Description, r.brands) {
			continue
		}
		return strings.TrimSpace(e.Description)
	}
	return ""
}
