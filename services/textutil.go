package services

import (
	"strings"

	"vision-adapter-worker/domain"
)

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func containsFold(s, substr string) bool {
	sub := domain.FoldKey(substr)
	if sub == "" {
		return false
	}
	return strings.Contains(domain.FoldKey(s), sub)
}

// containsAnyBrand reports whether s carries any catalog brand as a substring.
// Blank catalog entries never match.
func containsAnyBrand(s string, brands []string) bool {
	for _, b := range brands {
		if containsFold(s, b) {
			return true
		}
	}
	return false
}
