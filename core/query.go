package core

import "fmt"

// QueryType classifies the intent of a question.
type QueryType string

const (
	QueryTypeUnknown    QueryType = ""
	QueryTypeDefinition QueryType = "definition"
	QueryTypeContextual QueryType = "contextual"
	QueryTypeComplex    QueryType = "complex"
	// QueryTypeKeyword is a bare term lookup with no question phrasing.
	QueryTypeKeyword QueryType = "keyword"
)

// UserMode selects the audience of the eventual answer.
type UserMode string

const (
	ModePatient UserMode = "patient"
	ModeDoctor  UserMode = "doctor"
)

// ParseUserMode converts a tag into a UserMode. An empty tag is patient mode.
func ParseUserMode(tag string) (UserMode, error) {
	switch UserMode(tag) {
	case "", ModePatient:
		return ModePatient, nil
	case ModeDoctor:
		return ModeDoctor, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUserMode, tag)
}

// Entity is a medical term found in a question.
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"` // drug, disease, symptom, procedure, ...
	Confidence float64 `json:"confidence"`
}

// ProcessedQuery is a question after preprocessing. The retrieval core treats
// it as read-only.
type ProcessedQuery struct {
	ID                string            `json:"id"`
	Original          string            `json:"original"`
	Normalized        string            `json:"normalized"`
	Entities          []Entity          `json:"entities"`
	QueryType         QueryType         `json:"queryType"`
	Mode              UserMode          `json:"mode"`
	SuggestedStrategy RetrievalStrategy `json:"suggestedStrategy"`
}

// EntityTexts returns the text of every entity in order.
func (q *ProcessedQuery) EntityTexts() []string {
	out := make([]string, 0, len(q.Entities))
	for _, e := range q.Entities {
		out = append(out, e.Text)
	}
	return out
}

// Text returns the normalized question, or the original when normalization
// produced nothing.
func (q *ProcessedQuery) Text() string {
	if q.Normalized != "" {
		return q.Normalized
	}
	return q.Original
}
