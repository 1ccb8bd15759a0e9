package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// EmbeddingProcessorType names the embedding checkpoint.
const EmbeddingProcessorType = "embedding"

// embeddingProcessor generates embeddings for stored documents.
type embeddingProcessor struct {
	docRepository        storage.DocumentRepository
	checkpointRepository storage.CheckpointRepository
	embedder             ai.Embedder
	logger               *slog.Logger

	mu        sync.Mutex
	lastID    core.ID
	processed int
}

var _ processor = (*embeddingProcessor)(nil)

func newEmbeddingProcessor(
	docRepository storage.DocumentRepository,
	checkpointRepository storage.CheckpointRepository,
	embedder ai.Embedder,
	logger *slog.Logger,
) (*embeddingProcessor, error) {
	if docRepository == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if checkpointRepository == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		docRepository:        docRepository,
		checkpointRepository: checkpointRepository,
		embedder:             embedder,
		logger:               logger.With("processor", EmbeddingProcessorType),
	}, nil
}

// process embeds the documents' title and content and stores unit vectors.
func (ep *embeddingProcessor) process(ctx context.Context, ids ...core.ID) error {
	ep.logger.Debug("processing documents for embeddings", "documents", len(ids))

	// Sort first so the checkpoint tracks the highest ID
	slices.Sort(ids)

	docs, err := ep.docRepository.GetDocuments(ctx, ids...)
	if err != nil {
		ep.logger.Error("error retrieving documents", "err", err)
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text()
	}

	embeddings, err := ep.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		ep.logger.Error("error generating embeddings", "err", err)
		return err
	}
	if len(embeddings) != len(docs) {
		return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(docs), len(embeddings))
	}

	for i := range embeddings {
		docs[i].Vector = ai.NormalizeVector(embeddings[i])
	}

	updated, err := ep.docRepository.UpdateDocuments(ctx, docs...)
	if err != nil {
		return err
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if highest := updated[len(updated)-1].Id; highest > ep.lastID {
		ep.lastID = highest
	}
	ep.processed += len(updated)
	return nil
}

// checkpoint records the highest embedded ID and the running count.
// Saves are serialized so a stale snapshot never overwrites a newer one.
func (ep *embeddingProcessor) checkpoint(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.checkpointRepository.SaveCheckpoint(ctx, &core.Checkpoint{
		ProcessorType:   EmbeddingProcessorType,
		LastProcessedID: ep.lastID,
		Processed:       ep.processed,
		UpdatedAt:       time.Now().UTC(),
	})
}
