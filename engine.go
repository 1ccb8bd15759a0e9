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

// Package medfuse wires query preprocessing, evidence providers, retrieval
// orchestration, fusion and fallback into a single Engine.
package medfuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/ai/openai"
	"github.com/poiesic/medfuse/config"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/fallback"
	"github.com/poiesic/medfuse/fusion"
	"github.com/poiesic/medfuse/ingestion"
	"github.com/poiesic/medfuse/provider"
	"github.com/poiesic/medfuse/provider/dense"
	"github.com/poiesic/medfuse/provider/graph"
	"github.com/poiesic/medfuse/provider/literature"
	"github.com/poiesic/medfuse/provider/sparse"
	"github.com/poiesic/medfuse/query"
	"github.com/poiesic/medfuse/reembed"
	"github.com/poiesic/medfuse/retrieval"
	"github.com/poiesic/medfuse/storage"
	"github.com/poiesic/medfuse/storage/badger"
)

// Engine answers retrieval requests against one corpus and provider set.
type Engine struct {
	cfg            *config.Config
	backend        *badger.Backend
	docRepo        storage.DocumentRepository
	checkpointRepo storage.CheckpointRepository
	aiProvider     ai.AIProvider
	graphDriver    graph.Driver
	graph          *graph.Provider
	sparse         *sparse.Provider
	providers      *provider.Set
	processor      *query.Processor
	orchestrator   *retrieval.Orchestrator
	fuser          *fusion.Engine
	controller     *fallback.Controller
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	aiProvider  ai.AIProvider
	graphDriver graph.Driver
	httpClient  *http.Client
	monitor     retrieval.Monitor
	logger      *slog.Logger
}

// WithAIProvider replaces the OpenAI-compatible provider built from the
// [ai] section.
func WithAIProvider(p ai.AIProvider) Option {
	return func(o *engineOptions) {
		o.aiProvider = p
	}
}

// WithGraphDriver supplies the graph database driver. The graph provider is
// registered whenever a driver is given, regardless of graph.enabled.
func WithGraphDriver(d graph.Driver) Option {
	return func(o *engineOptions) {
		o.graphDriver = d
	}
}

// WithHTTPClient sets the client used for literature requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *engineOptions) {
		o.httpClient = c
	}
}

// WithMonitor receives retrieval and fallback events.
func WithMonitor(m retrieval.Monitor) Option {
	return func(o *engineOptions) {
		o.monitor = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open builds an Engine from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	e := &Engine{cfg: cfg, logger: options.logger.With("component", "engine")}
	if err := e.open(ctx, options); err != nil {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error closing partially opened engine", "err", closeErr)
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context, options *engineOptions) error {
	cfg := e.cfg
	logger := options.logger

	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return err
	}
	e.backend = backend
	e.docRepo = badger.NewDocumentRepository(backend)
	e.checkpointRepo = badger.NewCheckpointRepository(backend)

	e.aiProvider = options.aiProvider
	if e.aiProvider == nil {
		if e.aiProvider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			return err
		}
	}

	if e.providers, err = provider.NewSet(provider.WithLogger(logger)); err != nil {
		return err
	}

	denseProvider, err := dense.NewProvider(e.aiProvider.Embedder(), e.docRepo,
		dense.WithMinSimilarity(float32(cfg.Retrieval.DenseMinSimilarity)),
		dense.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := e.providers.Register(denseProvider, cfg.TopK(core.SourceDense)); err != nil {
		return err
	}

	e.sparse, err = sparse.NewProvider(ctx, e.docRepo,
		sparse.WithThreshold(cfg.Retrieval.SparseThreshold),
		sparse.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := e.providers.Register(e.sparse, cfg.TopK(core.SourceSparse)); err != nil {
		return err
	}

	if err := e.registerGraph(ctx, options); err != nil {
		return err
	}
	if err := e.registerLiterature(options); err != nil {
		return err
	}

	processorOpts := []query.Option{query.WithLogger(logger)}
	if cfg.AI.UseExtractor {
		processorOpts = append(processorOpts, query.WithEntityExtractor(e.aiProvider.EntityExtractor()))
	}
	if e.processor, err = query.NewProcessor(processorOpts...); err != nil {
		return err
	}

	e.orchestrator, err = retrieval.NewOrchestrator(e.providers,
		retrieval.WithPoolSize(cfg.Retrieval.PoolSize),
		retrieval.WithProviderTimeout(cfg.Retrieval.ProviderTimeout.Duration),
		retrieval.WithMonitor(options.monitor),
		retrieval.WithLogger(logger))
	if err != nil {
		return err
	}

	e.fuser, err = fusion.NewEngine(
		fusion.WithWeights(cfg.FusionWeights()),
		fusion.WithRRFK(cfg.Fusion.RRFK),
		fusion.WithRelativeWeights(cfg.Fusion.RelativeWeights),
		fusion.WithLogger(logger))
	if err != nil {
		return err
	}

	e.controller, err = fallback.NewController(e.orchestrator, e.fuser,
		fallback.WithThreshold(cfg.Fallback.Threshold),
		fallback.WithQueryDeadline(cfg.Retrieval.QueryDeadline.Duration),
		fallback.WithMonitor(options.monitor),
		fallback.WithLogger(logger))
	if err != nil {
		return err
	}

	e.logger.Info("engine ready", "providers", e.providers.Sources(), "documents", e.sparse.Len())
	return nil
}

func (e *Engine) registerGraph(ctx context.Context, options *engineOptions) error {
	cfg := e.cfg.Graph
	driver := options.graphDriver
	if driver == nil {
		if !cfg.Enabled {
			e.logger.Info("graph provider disabled")
			return nil
		}
		neo, err := graph.NewNeo4jDriver(ctx, cfg.URI, cfg.Username, cfg.Password)
		if err != nil {
			return err
		}
		driver = neo
	}
	e.graphDriver = driver

	p, err := graph.NewProvider(driver,
		graph.WithFactConfidence(cfg.FactConfidence),
		graph.WithLogger(options.logger))
	if err != nil {
		return err
	}
	if err := p.EnsureIndexes(ctx); err != nil {
		e.logger.Warn("could not create graph indexes", "err", err)
	}
	e.graph = p
	return e.providers.Register(p, e.cfg.TopK(core.SourceGraph))
}

func (e *Engine) registerLiterature(options *engineOptions) error {
	cfg := e.cfg.Literature
	if !cfg.Enabled {
		e.logger.Info("literature provider disabled")
		return nil
	}

	opts := []literature.Option{
		literature.WithEmail(cfg.Email),
		literature.WithAPIKey(cfg.APIKey),
		literature.WithMaxResults(cfg.MaxResults),
		literature.WithHTTPClient(options.httpClient),
		literature.WithLogger(options.logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, literature.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, literature.WithRequestsPerSecond(cfg.RequestsPerSecond))
	}

	p, err := literature.NewProvider(opts...)
	if err != nil {
		return err
	}
	if !p.Enabled() {
		e.logger.Warn("literature provider enabled without an email; it will return no evidence")
	}
	return e.providers.Register(p, e.cfg.TopK(core.SourceLiterature))
}

// Close releases every resource the engine holds.
func (e *Engine) Close() error {
	var errs []error
	if e.orchestrator != nil {
		e.orchestrator.Release()
	}
	if e.graphDriver != nil {
		if err := e.graphDriver.Close(context.Background()); err != nil {
			e.logger.Error("error closing graph driver", "err", err)
			errs = append(errs, err)
		}
	}
	if e.aiProvider != nil {
		if err := e.aiProvider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.docRepo != nil {
		if err := e.docRepo.Close(); err != nil {
			e.logger.Error("error closing document repository", "err", err)
			errs = append(errs, err)
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Preprocess normalizes and classifies question without retrieving.
func (e *Engine) Preprocess(ctx context.Context, question string, mode core.UserMode) (*core.ProcessedQuery, error) {
	return e.processor.Process(ctx, question, mode)
}

// Retrieve preprocesses question, runs retrieval with fallback, and builds
// the response. An empty mode is detected from the question.
func (e *Engine) Retrieve(ctx context.Context, question string, mode core.UserMode) (*Response, error) {
	q, err := e.processor.Process(ctx, question, mode)
	if err != nil {
		return nil, err
	}
	fused, err := e.controller.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	return NewResponse(q, fused), nil
}

// RetrieveQuery runs retrieval with fallback for an already processed query.
func (e *Engine) RetrieveQuery(ctx context.Context, q *core.ProcessedQuery) (*core.FusedEvidence, error) {
	return e.controller.Execute(ctx, q)
}

// NewIngestionPipeline creates a pipeline that stores and embeds documents.
// Call RebuildIndex after ingestion so keyword search sees the new documents.
func (e *Engine) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(e.docRepo, e.checkpointRepo, e.aiProvider, opts...)
}

// Ingest stores docs, waits for their embeddings, and rebuilds the keyword
// index.
func (e *Engine) Ingest(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	pipeline, err := e.NewIngestionPipeline(ingestion.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	defer pipeline.Release()

	added, err := pipeline.Ingest(ctx, docs...)
	pipeline.Wait()
	if err != nil {
		return added, err
	}
	return added, e.RebuildIndex(ctx)
}

// RebuildIndex reloads the keyword index from storage.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	return e.sparse.Rebuild(ctx)
}

// NewReembedder creates a reembedder over the stored corpus.
func (e *Engine) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(e.docRepo, e.aiProvider.Embedder(), cfg, progress)
}

// Reembed re-embeds the whole corpus. After a completed run the ingestion
// embedding checkpoint is cleared, since its progress counted vectors from
// the previous model.
func (e *Engine) Reembed(ctx context.Context, cfg *reembed.Config, progress io.Writer) error {
	if cfg == nil {
		cfg = reembed.DefaultConfig()
	}
	reembedder, err := e.NewReembedder(cfg, progress)
	if err != nil {
		return err
	}
	if err := reembedder.Run(ctx); err != nil {
		return err
	}
	if cfg.DryRun {
		return nil
	}
	if err := e.checkpointRepo.DeleteCheckpoint(ctx, ingestion.EmbeddingProcessorType); err != nil {
		return fmt.Errorf("failed to reset embedding checkpoint: %w", err)
	}
	e.logger.Info("embedding checkpoint reset after reembedding")
	return nil
}

func (e *Engine) DocumentRepository() storage.DocumentRepository {
	return e.docRepo
}

func (e *Engine) CheckpointRepository() storage.CheckpointRepository {
	return e.checkpointRepo
}

// Sources returns the registered provider sources in priority order.
func (e *Engine) Sources() []core.SourceType {
	return e.providers.Sources()
}

// Stats describes the corpus and knowledge graph an Engine retrieves from.
type Stats struct {
	Documents        int               `json:"documents"`
	IndexedDocuments int               `json:"indexedDocuments"`
	Graph            *GraphStats       `json:"graph,omitempty"`
	Providers        []core.SourceType `json:"providers"`
}

// GraphStats counts the knowledge graph.
type GraphStats struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

// Stats counts stored and keyword-indexed documents and, when the graph
// provider is registered, graph nodes and edges.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	docs, err := e.docRepo.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Documents:        docs,
		IndexedDocuments: e.sparse.Len(),
		Providers:        e.providers.Sources(),
	}
	if e.graph != nil {
		nodes, edges, err := e.graph.Counts(ctx)
		if err != nil {
			return nil, err
		}
		stats.Graph = &GraphStats{Nodes: nodes, Edges: edges}
	}
	return stats, nil
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
