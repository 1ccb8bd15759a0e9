// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sparse ranks corpus passages by BM25 keyword relevance.
//
// The index is built from the document repository when the provider is
// created and can be rebuilt after ingestion with Rebuild. Queries read an
// immutable snapshot, so Rebuild never blocks in-flight retrievals for long.
package sparse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
	"github.com/poiesic/medfuse/storage"
)

// DefaultThreshold is the lowest max-normalized score kept as evidence.
const DefaultThreshold = 0.5

var ErrRepositoryRequired = errors.New("document repository is required")

type passage struct {
	id      core.ID
	title   string
	corpus  string
	content string
}

type snapshot struct {
	index    *Index
	passages []passage
}

// Provider serves BM25 results over the stored corpus.
type Provider struct {
	docs      storage.DocumentRepository
	threshold float64
	k1, b     float64
	epsilon   float64
	logger    *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider) error

// WithThreshold sets the normalized score floor.
func WithThreshold(t float64) Option {
	return func(p *Provider) error {
		if !core.ValidConfidence(t) {
			return fmt.Errorf("threshold %v outside [0,1]", t)
		}
		p.threshold = t
		return nil
	}
}

// WithParameters overrides the BM25 k1, b and epsilon parameters.
func WithParameters(k1, b, epsilon float64) Option {
	return func(p *Provider) error {
		if k1 < 0 || b < 0 || b > 1 || epsilon < 0 {
			return fmt.Errorf("invalid bm25 parameters k1=%v b=%v epsilon=%v", k1, b, epsilon)
		}
		p.k1, p.b, p.epsilon = k1, b, epsilon
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "sparse-provider")
		return nil
	}
}

// NewProvider creates a sparse provider and builds its index from docs.
func NewProvider(ctx context.Context, docs storage.DocumentRepository, opts ...Option) (*Provider, error) {
	if docs == nil {
		return nil, ErrRepositoryRequired
	}
	p := &Provider{
		docs:      docs,
		threshold: DefaultThreshold,
		k1:        DefaultK1,
		b:         DefaultB,
		epsilon:   DefaultEpsilon,
		logger:    slog.Default().With("component", "sparse-provider"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if err := p.Rebuild(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Source returns core.SourceSparse.
func (p *Provider) Source() core.SourceType {
	return core.SourceSparse
}

// Rebuild re-reads the corpus and swaps in a fresh index.
func (p *Provider) Rebuild(ctx context.Context) error {
	var passages []passage
	var corpus [][]string
	err := p.docs.ForEachDocument(ctx, func(doc *core.Document) error {
		passages = append(passages, passage{
			id:      doc.Id,
			title:   doc.Title,
			corpus:  doc.Corpus,
			content: doc.Content,
		})
		corpus = append(corpus, Tokenize(doc.Text()))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read corpus: %w", err)
	}

	snap := &snapshot{
		index:    NewIndex(corpus, p.k1, p.b, p.epsilon),
		passages: passages,
	}
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()

	p.logger.Info("bm25 index built", "documents", len(passages))
	return nil
}

// Len returns the number of indexed documents.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snap == nil {
		return 0
	}
	return p.snap.index.Len()
}

// Retrieve returns up to topK passages. Confidence is the BM25 score divided
// by the best score of the query; passages below the threshold are dropped.
func (p *Provider) Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
	if query == nil {
		return nil, core.ErrNilQuery
	}
	out := []*core.Evidence{}
	terms := Tokenize(query.Text())
	if len(terms) == 0 || topK <= 0 {
		return out, nil
	}

	p.mu.RLock()
	snap := p.snap
	p.mu.RUnlock()
	if snap == nil || snap.index.Len() == 0 {
		p.logger.Warn("bm25 index is empty")
		return out, nil
	}

	scores := snap.index.Scores(terms)
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	best := scores[order[0]]
	if best <= 0 {
		return out, nil
	}
	for _, i := range order {
		if len(out) >= topK || ctx.Err() != nil {
			break
		}
		if scores[i] <= 0 {
			break
		}
		conf := core.ClampConfidence(scores[i] / best)
		if conf < p.threshold {
			break
		}
		doc := snap.passages[i]
		out = append(out, core.NewEvidence(core.SourceSparse, doc.content, conf, map[string]any{
			"doc_id":     doc.id,
			"bm25_score": scores[i],
			"title":      doc.title,
			"corpus":     doc.corpus,
		}))
	}
	return out, ctx.Err()
}
