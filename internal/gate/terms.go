package gate

import (
	"regexp"
	"strings"
)

// Phrases that signal the request depends on information only the caller
// possesses. No option list can cover those, so the gate asks one
// open-ended question instead.
var privateInfoPhrases = []string{
	"my company", "our company",
	"my team", "our team",
	"my project", "our project",
	"my organization", "our organization",
	"my startup", "our startup",
	"my codebase", "our codebase",
	"my data", "our data",
	"our internal", "my internal",
	"we are building", "we're building",
	"we are developing", "we're developing",
}

// ReferencesPrivateInfo reports whether text refers to caller-private
// context.
func ReferencesPrivateInfo(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range privateInfoPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	// Acronyms and code-like tokens: CRISPR, GPT-4, mRNA-1273, IL-6.
	acronymPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,}(?:-[A-Za-z0-9]+)*\b`)
	// Mixed alphanumeric identifiers: ABT-199, SGLT2.
	identifierPattern = regexp.MustCompile(`\b[A-Za-z]+\d+[A-Za-z0-9-]*\b`)
)

// Generic words the patterns above would otherwise pick up.
var termStopwords = map[string]bool{
	"I": true, "A": true, "OK": true, "THE": true, "AND": true,
	"FAQ": true, "PDF": true, "USA": true, "UK": true, "EU": true,
}

// DomainTerms extracts candidate domain-specific terms worth verifying
// with a background search. Order of first appearance, deduplicated, at
// most five.
func DomainTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(m string) {
		if len(terms) >= 5 || termStopwords[strings.ToUpper(m)] || seen[m] {
			return
		}
		seen[m] = true
		terms = append(terms, m)
	}
	for _, m := range acronymPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range identifierPattern.FindAllString(text, -1) {
		add(m)
	}
	return terms
}

func joinTerms(terms []string) string {
	return strings.Join(terms, " ")
}
