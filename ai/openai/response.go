package openai

import (
	"encoding/json"
	"strings"
	"unicode"
)

// decodeJSONResponse strips code fences from a model reply, repairs keys
// missing their opening quote, and unmarshals the result into v.
func decodeJSONResponse(reply string, v any) error {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	return json.Unmarshal([]byte(repairKeys(text)), v)
}

// repairKeys restores the opening quote small models drop from object keys,
// turning `{text": "x"}` into `{"text": "x"}`. Well-formed input is returned
// unchanged.
func repairKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	runes := []rune(s)
	inString := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)

		switch {
		case r == '"' && !escaped(runes, i):
			inString = !inString
		case !inString && (r == '{' || r == ','):
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			k := j
			for k < len(runes) && (unicode.IsLetter(runes[k]) || runes[k] == '_') {
				k++
			}
			if k > j && k+1 < len(runes) && runes[k] == '"' && runes[k+1] == ':' {
				b.WriteString(string(runes[i+1 : j]))
				b.WriteRune('"')
				b.WriteString(string(runes[j : k+1]))
				i = k
			}
		}
	}
	return b.String()
}

// escaped reports whether the rune at i is preceded by an odd number of backslashes.
func escaped(runes []rune, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && runes[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// scrubQuestion trims a question for the extractor without touching hyphens
// or digits, which carry meaning in drug and test names.
func scrubQuestion(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune("!?;\"()[]{}", r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
