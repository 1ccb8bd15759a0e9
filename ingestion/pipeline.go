package ingestion

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// DefaultBatchSize is the number of documents embedded per request.
const DefaultBatchSize = 16

// Pipeline orchestrates the ingestion and embedding of corpus documents.
type Pipeline struct {
	docRepository storage.DocumentRepository
	embeddingPool *ants.Pool
	embeddingProc processor
	batchSize     int
	pending       sync.WaitGroup
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.embeddingPool != nil {
			p.embeddingPool.Release()
		}
		p.embeddingPool = pool
		return nil
	}
}

// WithBatchSize sets how many documents are embedded per request.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline. Embedding progress resumes
// from the stored checkpoint, if any.
func NewPipeline(
	docRepository storage.DocumentRepository,
	checkpointRepository storage.CheckpointRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if docRepository == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if checkpointRepository == nil {
		return nil, ErrCheckpointRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	embeddingPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		docRepository: docRepository,
		embeddingPool: embeddingPool,
		batchSize:     DefaultBatchSize,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Create processors after options are applied (so they get final config)
	embeddingProc, err := newEmbeddingProcessor(docRepository, checkpointRepository, provider.Embedder(), p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	prior, err := checkpointRepository.LoadCheckpoint(context.Background(), EmbeddingProcessorType)
	if err != nil {
		p.Release()
		return nil, err
	}
	if prior != nil {
		embeddingProc.lastID = prior.LastProcessedID
		embeddingProc.processed = prior.Processed
	}
	p.embeddingProc = embeddingProc

	return p, nil
}

// Ingest stores docs and queues the ones without a vector for embedding.
// Documents whose content is already stored are returned as stored.
// Errors during async embedding are logged but do not fail the ingestion.
func (p *Pipeline) Ingest(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	added, err := p.docRepository.AddDocuments(ctx, docs...)
	if err != nil {
		return nil, err
	}

	var ids []core.ID
	for _, doc := range added {
		if len(doc.Vector) == 0 {
			ids = append(ids, doc.Id)
		}
	}
	p.logger.Info("documents stored", "documents", len(added), "to_embed", len(ids))

	for start := 0; start < len(ids); start += p.batchSize {
		batch := ids[start:min(start+p.batchSize, len(ids))]
		p.pending.Add(1)
		err := p.embeddingPool.Submit(func() {
			defer p.pending.Done()
			if err := p.embeddingProc.process(context.Background(), batch...); err != nil {
				p.logger.Error("error processing embeddings", "err", err)
				return
			}
			if err := p.embeddingProc.checkpoint(context.Background()); err != nil {
				p.logger.Error("error applying embedding checkpoint", "err", err)
			}
		})
		if err != nil {
			p.pending.Done()
			return added, err
		}
	}

	return added, nil
}

// Wait blocks until every queued embedding batch has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// Release waits for queued work, then releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.pending.Wait()
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
}
