package fusion

import (
	"math"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(src core.SourceType, content string, conf float64) *core.Evidence {
	return core.NewEvidence(src, content, conf, nil)
}

func doc(src core.SourceType, id core.ID, conf float64) *core.Evidence {
	return core.NewEvidence(src, string(src)+" passage", conf, map[string]any{"doc_id": id})
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	return e
}

func assertSortedDesc(t *testing.T, fused *core.FusedEvidence) {
	t.Helper()
	require.Len(t, fused.Scores, len(fused.Evidences))
	for i := 1; i < len(fused.Scores); i++ {
		assert.GreaterOrEqual(t, fused.Scores[i-1], fused.Scores[i], "rank %d", i)
	}
}

func TestRRFScore(t *testing.T) {
	e := newEngine(t)

	assert.InDelta(t, 1.0/61, e.RRFScore(0), 1e-12)
	assert.InDelta(t, 1.0/63, e.RRFScore(2), 1e-12)
	for r := range 100 {
		assert.Greater(t, e.RRFScore(r), e.RRFScore(r+1))
	}
}

func TestFuse_ReciprocalRank(t *testing.T) {
	t.Run("shared document sums contributions", func(t *testing.T) {
		e := newEngine(t)
		shared := core.ID(42)
		input := []*core.Evidence{
			doc(core.SourceDense, shared, 0.8),
			doc(core.SourceDense, 1, 0.7),
			doc(core.SourceDense, 2, 0.6),
			doc(core.SourceSparse, 3, 1.0),
			doc(core.SourceSparse, 4, 0.9),
			doc(core.SourceSparse, shared, 0.6),
		}

		fused := e.Fuse(input)
		assert.Equal(t, core.FusionReciprocalRank, fused.FusionMethod)
		require.Len(t, fused.Evidences, 5)

		assert.Equal(t, shared, fused.Evidences[0].DocumentKey())
		assert.InDelta(t, 1.0/61+1.0/63, fused.Scores[0], 1e-12)
		assert.InDelta(t, 0.0322, fused.Scores[0], 1e-4)
		assert.Equal(t, core.SourceDense, fused.Evidences[0].Source, "most confident instance represents the document")
		assertSortedDesc(t, fused)
	})

	t.Run("confidences are not rescaled", func(t *testing.T) {
		e := newEngine(t)
		input := []*core.Evidence{
			ev(core.SourceDense, "a", 0.3),
			ev(core.SourceDense, "b", 0.3),
			ev(core.SourceDense, "c", 0.3),
			ev(core.SourceDense, "d", 0.3),
			ev(core.SourceDense, "e", 0.3),
		}
		fused := e.Fuse(input)
		assert.Equal(t, core.FusionReciprocalRank, fused.FusionMethod)
		assert.InDelta(t, 0.3, fused.CombinedConfidence, 1e-12)
		for i, got := range fused.Evidences {
			assert.Same(t, input[i], got, "single list keeps provider order")
			assert.False(t, got.Rescaled())
		}
	})

	t.Run("equal scores break ties by priority", func(t *testing.T) {
		e := newEngine(t)
		fused := e.Fuse([]*core.Evidence{
			ev(core.SourceSparse, "s", 0.9),
			ev(core.SourceDense, "d", 0.4),
		})
		require.Len(t, fused.Evidences, 2)
		assert.Equal(t, core.SourceDense, fused.Evidences[0].Source)
		assert.Equal(t, core.SourceSparse, fused.Evidences[1].Source)
	})

	t.Run("duplicate within one list counts once", func(t *testing.T) {
		e := newEngine(t)
		fused := e.Fuse([]*core.Evidence{
			doc(core.SourceDense, 7, 0.5),
			doc(core.SourceDense, 7, 0.9),
		})
		require.Len(t, fused.Evidences, 1)
		assert.InDelta(t, 1.0/61, fused.Scores[0], 1e-12)
		assert.InDelta(t, 0.9, fused.CombinedConfidence, 1e-12)
	})

	t.Run("custom k", func(t *testing.T) {
		e := newEngine(t, WithRRFK(10))
		fused := e.Fuse([]*core.Evidence{ev(core.SourceDense, "x", 0.5)})
		assert.InDelta(t, 1.0/11, fused.Scores[0], 1e-12)
	})
}

func TestFuse_Weighted(t *testing.T) {
	t.Run("relative weights keep the strongest source", func(t *testing.T) {
		e := newEngine(t)
		input := []*core.Evidence{
			ev(core.SourceDense, "d", 0.8),
			ev(core.SourceGraph, "g1", 0.9),
			ev(core.SourceGraph, "g2", 0.9),
			ev(core.SourceGraph, "g3", 0.9),
			ev(core.SourceGraph, "g4", 0.9),
		}
		fused := e.Fuse(input)
		assert.Equal(t, core.FusionWeighted, fused.FusionMethod)
		require.Len(t, fused.Evidences, 5)

		assert.Equal(t, "g1", fused.Evidences[0].Content)
		assert.InDelta(t, 0.9, fused.Evidences[0].Confidence, 1e-12)
		assert.Equal(t, "d", fused.Evidences[4].Content)
		assert.InDelta(t, 0.8*0.25/0.4, fused.Evidences[4].Confidence, 1e-12)
		assert.InDelta(t, 0.82, fused.CombinedConfidence, 1e-12)
		assertSortedDesc(t, fused)
	})

	t.Run("absolute weights", func(t *testing.T) {
		e := newEngine(t, WithRelativeWeights(false))
		fused := e.Fuse([]*core.Evidence{
			ev(core.SourceGraph, "g", 1.0),
			ev(core.SourceLiterature, "l", 1.0),
			ev(core.SourceDense, "d", 1.0),
		})
		require.Len(t, fused.Evidences, 3)
		assert.InDelta(t, 0.4, fused.Scores[0], 1e-12)
		assert.InDelta(t, 0.25, fused.Scores[1], 1e-12)
		assert.InDelta(t, 0.2, fused.Scores[2], 1e-12)
		assert.InDelta(t, (0.4+0.25+0.2)/3, fused.CombinedConfidence, 1e-12)
	})

	t.Run("literature alone triggers weighted", func(t *testing.T) {
		e := newEngine(t)
		fused := e.Fuse([]*core.Evidence{
			ev(core.SourceLiterature, "l", 0.7),
			ev(core.SourceSparse, "s", 1.0),
		})
		assert.Equal(t, core.FusionWeighted, fused.FusionMethod)
		require.Len(t, fused.Evidences, 2)
		assert.Equal(t, core.SourceSparse, fused.Evidences[0].Source)
		assert.InDelta(t, 0.75, fused.Evidences[0].Confidence, 1e-12)
		assert.InDelta(t, 0.7, fused.Evidences[1].Confidence, 1e-12)
	})

	t.Run("ties break by priority then input order", func(t *testing.T) {
		e := newEngine(t, WithWeights(Weights{core.SourceGraph: 0.2, core.SourceLiterature: 0.2}))
		fused := e.Fuse([]*core.Evidence{
			ev(core.SourceLiterature, "l1", 0.5),
			ev(core.SourceGraph, "g1", 0.5),
			ev(core.SourceLiterature, "l2", 0.5),
			ev(core.SourceGraph, "g2", 0.5),
		})
		got := make([]string, len(fused.Evidences))
		for i, e := range fused.Evidences {
			got[i] = e.Content
		}
		assert.Equal(t, []string{"g1", "g2", "l1", "l2"}, got)
	})

	t.Run("rescaling happens once", func(t *testing.T) {
		e := newEngine(t, WithRelativeWeights(false))
		g := ev(core.SourceGraph, "g", 0.5)

		e.Fuse([]*core.Evidence{g})
		assert.InDelta(t, 0.2, g.Confidence, 1e-12)

		e.Fuse([]*core.Evidence{g, g})
		assert.InDelta(t, 0.2, g.Confidence, 1e-12)
	})
}

func TestFuse_Composite(t *testing.T) {
	e := newEngine(t)
	shared := core.ID(9)
	input := []*core.Evidence{
		ev(core.SourceGraph, "g", 0.9),
		ev(core.SourceLiterature, "l", 0.9),
		doc(core.SourceDense, shared, 0.3),
		doc(core.SourceDense, 10, 0.6),
		doc(core.SourceSparse, shared, 1.0),
	}
	fused := e.Fuse(input)
	assert.Equal(t, core.FusionComposite, fused.FusionMethod)
	require.Len(t, fused.Evidences, 4, "shared document merges into one")

	pseudo := 0.25 / 0.4
	assert.Equal(t, "g", fused.Evidences[0].Content)
	assert.InDelta(t, 0.9, fused.Scores[0], 1e-12)
	assert.Equal(t, core.SourceSparse, fused.Evidences[1].Source)
	assert.InDelta(t, 1.0*pseudo, fused.Scores[1], 1e-12)
	assert.Equal(t, "l", fused.Evidences[2].Content)
	assert.InDelta(t, 0.45, fused.Scores[2], 1e-12)
	assert.InDelta(t, 0.6*pseudo, fused.Scores[3], 1e-12)

	assert.InDelta(t, (0.9+pseudo+0.45+0.6*pseudo)/4, fused.CombinedConfidence, 1e-12)
	assert.False(t, input[2].Rescaled(), "merged-away instance is untouched")
	assertSortedDesc(t, fused)
}

func TestFuse_EdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		e := newEngine(t)
		for _, input := range [][]*core.Evidence{nil, {}} {
			fused := e.Fuse(input)
			require.NotNil(t, fused)
			assert.Empty(t, fused.Evidences)
			assert.Zero(t, fused.CombinedConfidence)
			assert.True(t, fused.IsEmpty())
		}
	})

	t.Run("nil entries are dropped", func(t *testing.T) {
		e := newEngine(t)
		fused := e.Fuse([]*core.Evidence{nil, ev(core.SourceDense, "d", 0.4), nil})
		require.Len(t, fused.Evidences, 1)
		assert.InDelta(t, 0.4, fused.CombinedConfidence, 1e-12)
	})

	t.Run("malformed confidence counts as zero", func(t *testing.T) {
		e := newEngine(t)
		bad := []*core.Evidence{
			ev(core.SourceGraph, "nan", math.NaN()),
			ev(core.SourceGraph, "neg", -0.5),
			ev(core.SourceGraph, "big", 7),
			ev(core.SourceGraph, "ok", 0.8),
		}
		fused := e.Fuse(bad)
		require.Len(t, fused.Evidences, 4, "malformed evidence is kept")
		assert.Equal(t, "ok", fused.Evidences[0].Content)
		assert.InDelta(t, 0.2, fused.CombinedConfidence, 1e-12)
	})

	t.Run("combined confidence stays in bounds", func(t *testing.T) {
		e := newEngine(t)
		confs := []float64{0, 0.01, 0.5, 0.99, 1}
		sources := core.SourceTypes
		for _, c := range confs {
			var input []*core.Evidence
			for _, src := range sources {
				input = append(input, ev(src, string(src), c), ev(src, string(src)+"2", 1-c))
			}
			fused := e.Fuse(input)
			assert.GreaterOrEqual(t, fused.CombinedConfidence, 0.0)
			assert.LessOrEqual(t, fused.CombinedConfidence, 1.0)
			assertSortedDesc(t, fused)
		}
	})
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(WithRRFK(0))
	assert.ErrorIs(t, err, ErrInvalidRRFK)

	_, err = NewEngine(WithWeights(Weights{core.SourceGraph: 1.5}))
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = NewEngine(WithWeights(Weights{"web": 0.5}))
	assert.ErrorIs(t, err, core.ErrUnknownSourceType)

	e := newEngine(t, WithWeights(Weights{core.SourceSparse: 0.3}))
	w := e.Weights()
	assert.InDelta(t, 0.3, w[core.SourceSparse], 1e-12)
	assert.InDelta(t, 0.4, w[core.SourceGraph], 1e-12)
}
