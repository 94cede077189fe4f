package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldKey is the case-insensitive identity of a label or brand name: trimmed,
// NFKC-normalized and case-folded. A Caser is not safe for concurrent use, so
// one is built per call.
func FoldKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(s))
}
