package services

import (
	"strings"

	"vision-adapter-worker/domain"
)

// SelectFeatures filters the configured feature names through the allow-list.
// Matching ignores case and the allow-list spelling is kept; duplicates are
// dropped. An empty configuration selects the defaults.
func SelectFeatures(configured []string) []string {
	if len(configured) == 0 {
		return domain.DefaultFeatures()
	}

	allowed := domain.AllowedFeatures()
	seen := make(map[string]bool, len(allowed))
	var selected []string
	for _, f := range configured {
		f = strings.TrimSpace(f)
		for _, a := range allowed {
			if !strings.EqualFold(f, a) || seen[a] {
				continue
			}
			seen[a] = true
			selected = append(selected, a)
		}
	}
	return selected
}
