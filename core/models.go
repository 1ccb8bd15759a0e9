package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for corpus documents.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Document is one passage of the local medical corpus. The dense and sparse
// providers both rank documents from the same corpus, so a document's ID is
// the identity RRF uses to merge their lists.
type Document struct {
	Id         ID
	Corpus     string            // Origin collection, e.g. "medquad"
	Title      string            // Optional title or question the passage answers
	Content    string            // Passage text
	Metadata   map[string]string // Optional corpus metadata (e.g. "url", "focus")
	Vector     []float32         // Embedding vector (populated by the ingestion pipeline)
	InsertedAt time.Time         // When the document was inserted into the database
	UpdatedAt  time.Time         // When the document was last updated
}

// Text returns the text that identifies and embeds the document.
func (d *Document) Text() string {
	if d.Title == "" {
		return d.Content
	}
	return d.Title + "\n" + d.Content
}

// SimilarityMatch represents a document match from vector similarity search.
type SimilarityMatch struct {
	DocumentId ID
	Score      float32
}

// Checkpoint records how far a background processor has progressed.
type Checkpoint struct {
	ProcessorType   string
	LastProcessedID ID
	Processed       int
	UpdatedAt       time.Time
}
