package query

import (
	"regexp"
	"sort"
	"strings"

	"github.com/poiesic/medfuse/core"
)

// RuleConfidence is the confidence of entities found by pattern matching.
const RuleConfidence = 0.7

type entityPattern struct {
	kind string
	re   *regexp.Regexp
}

// Patterns run against lowercased text. Longer matches win where spans overlap.
var entityPatterns = []entityPattern{
	{"drug", regexp.MustCompile(`\b[a-z]{2,}(?:mab|pril|olol|statin|cillin|mycin|azole|sartan|prazole|formin|dipine|tidine|vir)\b`)},
	{"drug", regexp.MustCompile(`\b(?:insulin|aspirin|ibuprofen|acetaminophen|paracetamol|warfarin|heparin|doxycycline|prednisone|levothyroxine|morphine)\b`)},
	{"disease", regexp.MustCompile(`\b(?:type\s*[12]\s+)?diabetes(?:\s+mellitus)?\b`)},
	{"disease", regexp.MustCompile(`\b(?:hypertension|hypotension|asthma|cancer|infection|pneumonia|influenza|flu|migraine|depression|anxiety|stroke|covid-19|copd|obesity|epilepsy|alzheimer'?s(?:\s+disease)?|parkinson'?s(?:\s+disease)?|heart\s+failure|kidney\s+disease)\b`)},
	{"disease", regexp.MustCompile(`\b[a-z]{3,}(?:itis|osis|emia|oma|pathy)\b`)},
	{"symptom", regexp.MustCompile(`\b(?:fever|headache|nausea|vomiting|fatigue|cough|dizziness|rash|chest\s+pain|shortness\s+of\s+breath|insomnia)\b`)},
}

// Words that look like conditions by suffix but are not.
var notEntities = map[string]bool{
	"diagnosis": true, "prognosis": true, "aroma": true, "hypnosis": true,
}

type span struct {
	start, end int
	entity     core.Entity
}

// ExtractEntities finds drugs, diseases and symptoms in text by pattern.
// Entities are lowercase, deduplicated and in order of appearance.
func ExtractEntities(text string) []core.Entity {
	lower := strings.ToLower(text)

	var spans []span
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(lower, -1) {
			match := strings.Join(strings.Fields(lower[loc[0]:loc[1]]), " ")
			if notEntities[match] {
				continue
			}
			spans = append(spans, span{
				start:  loc[0],
				end:    loc[1],
				entity: core.Entity{Text: match, Type: p.kind, Confidence: RuleConfidence},
			})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	out := []core.Entity{}
	seen := make(map[string]bool)
	end := 0
	for _, s := range spans {
		if s.start < end || seen[s.entity.Text] {
			continue
		}
		seen[s.entity.Text] = true
		end = s.end
		out = append(out, s.entity)
	}
	return out
}

// mergeEntities appends extra entities not already present by text.
func mergeEntities(base, extra []core.Entity) []core.Entity {
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		seen[strings.ToLower(e.Text)] = true
	}
	for _, e := range extra {
		key := strings.ToLower(strings.TrimSpace(e.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		e.Text = key
		base = append(base, e)
	}
	return base
}
