package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EntityExtractor finds medical entities in a question.
// Implementations must be thread-safe for concurrent use.
type EntityExtractor interface {
	// ExtractEntities returns the medical entities mentioned in text, most
	// confident first. Returns an empty slice if none are found.
	ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error)
}

// ExtractedEntity is a medical term found by an EntityExtractor.
type ExtractedEntity struct {
	// Text is the entity as it should be searched, lowercase.
	// Example: "metformin", "type 2 diabetes"
	Text string

	// Type is one of EntityTypes.
	Type string

	// Confidence in [0,1] that Text is a medical entity of Type.
	Confidence float64
}

// AIProvider aggregates the AI services used by medfuse.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// EntityExtractor returns the entity extraction service.
	EntityExtractor() EntityExtractor

	// Close releases resources held by the provider and its services.
	Close() error
}
