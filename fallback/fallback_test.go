package fallback

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/fusion"
	"github.com/poiesic/medfuse/provider"
	"github.com/poiesic/medfuse/provider/mock"
	"github.com/poiesic/medfuse/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFuser counts fusion passes.
type countingFuser struct {
	engine *fusion.Engine
	passes atomic.Int32
}

func (f *countingFuser) Fuse(evs []*core.Evidence) *core.FusedEvidence {
	f.passes.Add(1)
	return f.engine.Fuse(evs)
}

type harness struct {
	controller *Controller
	fuser      *countingFuser
	logs       *bytes.Buffer
	providers  map[core.SourceType]*mock.MockProvider
}

func newHarness(t *testing.T, providers []*mock.MockProvider, opts ...Option) *harness {
	t.Helper()
	set, err := provider.NewSet()
	require.NoError(t, err)
	h := &harness{providers: map[core.SourceType]*mock.MockProvider{}, logs: &bytes.Buffer{}}
	for _, p := range providers {
		require.NoError(t, set.Register(p, 5))
		h.providers[p.Source()] = p
	}

	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	orch, err := retrieval.NewOrchestrator(set, retrieval.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(orch.Release)

	engine, err := fusion.NewEngine(fusion.WithLogger(logger))
	require.NoError(t, err)
	h.fuser = &countingFuser{engine: engine}

	h.controller, err = NewController(orch, h.fuser, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return h
}

func withStrategy(s core.RetrievalStrategy) *core.ProcessedQuery {
	return &core.ProcessedQuery{ID: "q-1", Normalized: "question", SuggestedStrategy: s}
}

// sharedDocs returns evidence for documents 1..n with the given confidence.
func sharedDocs(src core.SourceType, n int, conf float64) *mock.MockProvider {
	p := mock.New(src)
	p.RetrieveFunc = func(ctx context.Context, q *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
		out := make([]*core.Evidence, n)
		for i := range out {
			out[i] = core.NewEvidence(src, "passage", conf, map[string]any{"doc_id": core.ID(i + 1)})
		}
		return out, nil
	}
	return p
}

func TestExecute_Fallback(t *testing.T) {
	ctx := context.Background()

	t.Run("low confidence retries once with comprehensive", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Returning(core.SourceGraph, 0.3),
			mock.Returning(core.SourceLiterature, 0.3),
			mock.Returning(core.SourceDense, 0.3, 0.3, 0.3, 0.3, 0.3),
			mock.Returning(core.SourceSparse, 0.3),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyDenseOnly))
		require.NoError(t, err)

		assert.Equal(t, int32(2), h.fuser.passes.Load())
		assert.Equal(t, 2, h.providers[core.SourceDense].CallCount())
		assert.Equal(t, 1, h.providers[core.SourceGraph].CallCount())

		assert.True(t, fused.Provenance.FallbackApplied)
		assert.Equal(t, core.StrategyDenseOnly, fused.Provenance.OriginalStrategy)
		assert.Equal(t, core.StrategyComprehensive, fused.Provenance.FallbackStrategy)
		assert.InDelta(t, 0.3, fused.Provenance.PreFallbackConfidence, 1e-12)
		assert.Equal(t, core.StrategyComprehensive, fused.Strategy)
		assert.Equal(t, core.FusionComposite, fused.FusionMethod)
	})

	t.Run("never more than two passes", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Returning(core.SourceGraph, 0.2),
			mock.Returning(core.SourceLiterature, 0.2),
			mock.Returning(core.SourceDense, 0.2, 0.2),
			mock.Returning(core.SourceSparse, 0.2),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyDenseOnly))
		require.NoError(t, err)
		assert.True(t, fused.Provenance.FallbackApplied)
		assert.Less(t, fused.CombinedConfidence, 0.5)
		assert.Equal(t, int32(2), h.fuser.passes.Load())
		assert.Contains(t, h.logs.String(), "confidence still below threshold after fallback")
	})

	t.Run("fallback replaces a weak first pass", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Returning(core.SourceGraph, 0.9, 0.9),
			mock.Returning(core.SourceLiterature, 0.9),
			sharedDocs(core.SourceDense, 5, 0.3),
			sharedDocs(core.SourceSparse, 5, 1.0),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyDenseOnly))
		require.NoError(t, err)

		// graph 0.9 x2, literature 0.9*0.5, five merged documents 1.0*0.625
		assert.InDelta(t, (1.8+0.45+5*0.625)/8, fused.CombinedConfidence, 1e-12)
		assert.Greater(t, fused.CombinedConfidence, 0.5)
		assert.Equal(t, core.Provenance{
			FallbackApplied:       true,
			OriginalStrategy:      core.StrategyDenseOnly,
			FallbackStrategy:      core.StrategyComprehensive,
			PreFallbackConfidence: 0.3,
		}, roundProvenance(fused.Provenance))
		assert.Equal(t, map[string]any{
			"fallbackApplied":       true,
			"originalStrategy":      "dense-only",
			"fallbackStrategy":      "comprehensive",
			"preFallbackConfidence": fused.Provenance.PreFallbackConfidence,
		}, fused.Provenance.Map())
	})

	t.Run("confident first pass is returned unchanged", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Returning(core.SourceGraph, 0.9, 0.9, 0.9, 0.9),
			mock.Returning(core.SourceDense, 0.8),
			mock.Returning(core.SourceLiterature, 0.9),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyGraphDense))
		require.NoError(t, err)
		assert.InDelta(t, 0.82, fused.CombinedConfidence, 1e-12)
		assert.True(t, fused.Provenance.IsEmpty())
		assert.Empty(t, fused.Provenance.Map())
		assert.Equal(t, int32(1), h.fuser.passes.Load())
		assert.Zero(t, h.providers[core.SourceLiterature].CallCount())
	})

	t.Run("comprehensive below threshold is not retried", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Returning(core.SourceGraph, 0.6),
			mock.Returning(core.SourceLiterature, 0.48),
			mock.New(core.SourceDense),
			mock.New(core.SourceSparse),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyComprehensive))
		require.NoError(t, err)
		assert.InDelta(t, 0.42, fused.CombinedConfidence, 1e-12)
		assert.True(t, fused.Provenance.IsEmpty())
		assert.Equal(t, int32(1), h.fuser.passes.Load())
		assert.Contains(t, h.logs.String(), "level=WARN")
		assert.Contains(t, h.logs.String(), "confidence below threshold at comprehensive strategy")
	})

	t.Run("no evidence anywhere", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.New(core.SourceGraph),
			mock.New(core.SourceLiterature),
			mock.Failing(core.SourceDense, errors.New("index offline")),
			mock.New(core.SourceSparse),
		})

		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyDenseSparse))
		require.NoError(t, err)
		assert.Empty(t, fused.Evidences)
		assert.Zero(t, fused.CombinedConfidence)
		assert.True(t, fused.Provenance.FallbackApplied)
		assert.Equal(t, int32(2), h.fuser.passes.Load())
	})
}

func TestExecute_Budget(t *testing.T) {
	t.Run("fallback skipped when budget is short", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Slow(core.SourceDense, 60*time.Millisecond, 0.3),
			mock.Returning(core.SourceGraph, 0.9),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		fused, err := h.controller.Execute(ctx, withStrategy(core.StrategyDenseOnly))
		require.NoError(t, err)
		assert.False(t, fused.Provenance.FallbackApplied)
		assert.Equal(t, core.StrategyDenseOnly, fused.Strategy)
		assert.Equal(t, int32(1), h.fuser.passes.Load())
		assert.Contains(t, h.logs.String(), "skipping fallback")
	})

	t.Run("default deadline applies", func(t *testing.T) {
		h := newHarness(t, []*mock.MockProvider{
			mock.Slow(core.SourceGraph, time.Second, 0.9),
		}, WithQueryDeadline(30*time.Millisecond))

		start := time.Now()
		fused, err := h.controller.Execute(context.Background(), withStrategy(core.StrategyGraphOnly))
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.True(t, fused.IsEmpty())
	})
}

func TestExecute_Errors(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.controller.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrNilQuery)

	_, err = h.controller.Execute(context.Background(), &core.ProcessedQuery{SuggestedStrategy: core.StrategyDenseOnly})
	assert.ErrorIs(t, err, core.ErrEmptyContent)
	assert.Zero(t, h.fuser.passes.Load())

	_, err = h.controller.Execute(context.Background(), withStrategy("web-only"))
	assert.ErrorIs(t, err, core.ErrUnknownStrategy)
}

func TestExecute_DecidesWhenNoSuggestion(t *testing.T) {
	h := newHarness(t, []*mock.MockProvider{
		mock.Returning(core.SourceSparse, 0.9),
	})
	q := &core.ProcessedQuery{Normalized: "metformin", QueryType: core.QueryTypeKeyword}

	fused, err := h.controller.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, core.StrategySparseOnly, fused.Strategy)
	assert.InDelta(t, 0.9, fused.CombinedConfidence, 1e-12)
}

func TestNewController(t *testing.T) {
	_, err := NewController(nil, &countingFuser{})
	assert.ErrorIs(t, err, ErrCollectorRequired)

	_, err = NewController(&retrieval.Orchestrator{}, nil)
	assert.ErrorIs(t, err, ErrFuserRequired)

	_, err = NewController(&retrieval.Orchestrator{}, &countingFuser{}, WithThreshold(2))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func roundProvenance(p core.Provenance) core.Provenance {
	p.PreFallbackConfidence = float64(int(p.PreFallbackConfidence*1e9+0.5)) / 1e9
	return p
}
