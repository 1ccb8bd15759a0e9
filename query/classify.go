package query

import (
	"regexp"
	"strings"

	"github.com/poiesic/medfuse/core"
)

var (
	complexPhrases    = regexp.MustCompile(`\b(?:compar\w*|differences?|versus|vs|multiple|combin\w*|interact\w*)\b`)
	definitionPhrases = regexp.MustCompile(`\b(?:what (?:is|are)|define[sd]?|definition|meaning of|explain\w*)\b`)
	contextualPhrases = regexp.MustCompile(`\b(?:how|why|best|recommend\w*|side effects?|treat\w*|should|when)\b`)

	questionWords = map[string]bool{
		"what": true, "how": true, "why": true, "when": true, "which": true, "who": true,
		"where": true, "is": true, "are": true, "can": true, "does": true, "do": true,
		"should": true, "could": true, "will": true,
	}

	clinicalTerms = []string{
		"dosage", "dosing", "contraindication", "pharmacokinetic", "pharmacodynamic",
		"differential", "etiology", "pathophysiology", "prognosis", "titrat",
		"half-life", "clearance", "mechanism of action", "icd-10",
	}
	milligrams = regexp.MustCompile(`\b\d*\s?mg\b`)
)

// Normalize lowercases text, removes question marks and collapses whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(strings.ToLower(text), "?", " ")
	return strings.Join(strings.Fields(text), " ")
}

// DetectQueryType classifies a normalized question. Complex phrasing wins
// over definition phrasing, which wins over contextual phrasing. Short term
// lookups without a question word are keyword queries.
func DetectQueryType(normalized string) core.QueryType {
	switch {
	case complexPhrases.MatchString(normalized):
		return core.QueryTypeComplex
	case definitionPhrases.MatchString(normalized):
		return core.QueryTypeDefinition
	case contextualPhrases.MatchString(normalized):
		return core.QueryTypeContextual
	}

	words := strings.Fields(normalized)
	if len(words) > 0 && len(words) <= 3 && !hasQuestionWord(words) {
		return core.QueryTypeKeyword
	}
	return core.QueryTypeContextual
}

// DetectMode returns doctor mode when the question uses clinical vocabulary.
func DetectMode(normalized string) core.UserMode {
	if containsAny(normalized, clinicalTerms) || milligrams.MatchString(normalized) {
		return core.ModeDoctor
	}
	return core.ModePatient
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasQuestionWord(words []string) bool {
	for _, w := range words {
		if questionWords[w] {
			return true
		}
	}
	return false
}
