package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// BatchProcessor embeds one batch of documents and writes the vectors back.
type BatchProcessor struct {
	repo     storage.DocumentRepository
	embedder ai.Embedder
	backoff  Backoff
}

// NewBatchProcessor creates a batch processor that retries embedding calls
// according to backoff.
func NewBatchProcessor(repo storage.DocumentRepository, embedder ai.Embedder, backoff Backoff) *BatchProcessor {
	return &BatchProcessor{
		repo:     repo,
		embedder: embedder,
		backoff:  backoff,
	}
}

// Process embeds docs in a single request and stores normalized vectors.
// A reply with the wrong number of vectors, or with vectors of differing
// length, is not retried.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text()
	}

	var embeddings [][]float32
	err := bp.backoff.Retry(ctx, func(ctx context.Context) error {
		vectors, err := bp.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if err := checkEmbeddings(vectors, len(docs)); err != nil {
			return Permanent(err)
		}
		embeddings = vectors
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to embed batch of %d documents: %w", len(docs), err)
	}

	for i := range docs {
		docs[i].Vector = ai.NormalizeVector(embeddings[i])
	}

	if _, err := bp.repo.UpdateDocuments(ctx, docs...); err != nil {
		return fmt.Errorf("failed to update documents: %w", err)
	}
	return nil
}

func checkEmbeddings(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: document %d", storage.ErrEmptyVector, i)
		}
		if len(v) != len(vectors[0]) {
			return fmt.Errorf("%w: %d and %d", storage.ErrDimensionMismatch, len(vectors[0]), len(v))
		}
	}
	return nil
}
