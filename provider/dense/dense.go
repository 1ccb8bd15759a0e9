// Package dense retrieves corpus passages by embedding similarity.
package dense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
	"github.com/poiesic/medfuse/storage"
)

// DefaultMinSimilarity is the lowest cosine similarity kept as evidence.
const DefaultMinSimilarity = 0.3

var (
	ErrEmbedderRequired   = errors.New("embedder is required")
	ErrRepositoryRequired = errors.New("document repository is required")
)

// Provider embeds the question and scans stored document vectors.
type Provider struct {
	embedder      ai.Embedder
	docs          storage.DocumentRepository
	minSimilarity float32
	logger        *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider) error

// WithMinSimilarity sets the similarity floor.
func WithMinSimilarity(s float32) Option {
	return func(p *Provider) error {
		if s < -1 || s > 1 {
			return fmt.Errorf("min similarity %v outside [-1,1]", s)
		}
		p.minSimilarity = s
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "dense-provider")
		return nil
	}
}

// NewProvider creates a dense provider.
func NewProvider(embedder ai.Embedder, docs storage.DocumentRepository, opts ...Option) (*Provider, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	p := &Provider{
		embedder:      embedder,
		docs:          docs,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default().With("component", "dense-provider"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Source returns core.SourceDense.
func (p *Provider) Source() core.SourceType {
	return core.SourceDense
}

// Retrieve returns up to topK passages ranked by similarity. The similarity
// is the evidence confidence, floored at zero.
func (p *Provider) Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
	if query == nil {
		return nil, core.ErrNilQuery
	}
	out := []*core.Evidence{}
	text := query.Text()
	if text == "" || topK <= 0 {
		return out, nil
	}

	vector, err := p.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	matches, err := p.docs.FindSimilar(ctx, ai.NormalizeVector(vector), p.minSimilarity, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	p.logger.Debug("similarity search", "query_id", query.ID, "matches", len(matches))

	for _, m := range matches {
		out = append(out, core.NewEvidence(core.SourceDense, m.Document.Content,
			core.ClampConfidence(float64(m.Score)), documentMetadata(m.Document, m.Score)))
	}
	return out, nil
}

func documentMetadata(doc *core.Document, score float32) map[string]any {
	md := make(map[string]any, len(doc.Metadata)+4)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md["doc_id"] = doc.Id
	md["title"] = doc.Title
	md["corpus"] = doc.Corpus
	md["similarity"] = score
	return md
}
