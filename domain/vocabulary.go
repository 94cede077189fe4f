package domain

import "strings"

// canonicalMachineTypes is the closed set of machine types an aggregate may
// carry. Order matters: specific terms come before the generic ones they
// contain, so "Backhoe Loader" wins over "Loader".
var canonicalMachineTypes = []string{
	"Wheel Loader",
	"Excavator",
	"Bulldozer",
	"Motor Grader",
	"Dump Truck",
	"Backhoe Loader",
	"Loader",
}

// CanonicalMachineTypes returns the vocabulary in enumeration order.
func CanonicalMachineTypes() []string {
	return append([]string(nil), canonicalMachineTypes...)
}

// IsCanonicalMachineType reports whether s is a vocabulary member, ignoring case.
func IsCanonicalMachineType(s string) bool {
	_, ok := CanonicalSpelling(s)
	return ok
}

// CanonicalSpelling maps s onto the vocabulary's own spelling.
func CanonicalSpelling(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, t := range canonicalMachineTypes {
		if strings.EqualFold(t, s) {
			return t, true
		}
	}
	return "", false
}

// MatchCanonicalMachineType returns the first vocabulary term contained in
// text, case-insensitively.
func MatchCanonicalMachineType(text string) (string, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, t := range canonicalMachineTypes {
		if strings.Contains(lower, strings.ToLower(t)) {
			return t, true
		}
	}
	return "", false
}
