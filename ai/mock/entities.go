package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/medfuse/ai"
)

// MockEntityExtractor is a test double for ai.EntityExtractor.
type MockEntityExtractor struct {
	// ExtractEntitiesFunc is called by ExtractEntities if set.
	// If nil, Vocabulary is matched against the text.
	ExtractEntitiesFunc func(ctx context.Context, text string) ([]ai.ExtractedEntity, error)

	// Vocabulary maps lowercase entity text to its type for the default behavior.
	Vocabulary map[string]string

	mu        sync.Mutex
	callCount int
}

// NewMockEntityExtractor creates a mock extractor that recognizes a few
// common drugs and diseases.
func NewMockEntityExtractor() *MockEntityExtractor {
	return &MockEntityExtractor{
		Vocabulary: map[string]string{
			"aspirin":      "drug",
			"ibuprofen":    "drug",
			"metformin":    "drug",
			"warfarin":     "drug",
			"asthma":       "disease",
			"diabetes":     "disease",
			"hypertension": "disease",
		},
	}
}

// ExtractEntities returns every vocabulary term contained in text, in the
// order they appear, with confidence 0.9.
func (m *MockEntityExtractor) ExtractEntities(ctx context.Context, text string) ([]ai.ExtractedEntity, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.ExtractEntitiesFunc != nil {
		return m.ExtractEntitiesFunc(ctx, text)
	}

	entities := []ai.ExtractedEntity{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if kind, ok := m.Vocabulary[word]; ok {
			entities = append(entities, ai.ExtractedEntity{Text: word, Type: kind, Confidence: 0.9})
		}
	}
	return entities, nil
}

// CallCount returns the number of times ExtractEntities was called.
func (m *MockEntityExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and custom function.
func (m *MockEntityExtractor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.ExtractEntitiesFunc = nil
}
