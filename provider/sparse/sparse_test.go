package sparse

import (
	"context"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"github.com/poiesic/medfuse/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and drops stop words", "What is the Dosage of Metformin?", []string{"dosage", "metformin"}},
		{"keeps inner hyphens", "Type-2 diabetes", []string{"type-2", "diabetes"}},
		{"drops single characters", "vitamin b a", []string{"vitamin"}},
		{"splits on punctuation", "ace/arb (inhibitors)", []string{"ace", "arb", "inhibitors"}},
		{"empty", "   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestIndex(t *testing.T) {
	corpus := [][]string{
		{"metformin", "diabetes", "glucose"},
		{"aspirin", "headache"},
		{"insulin", "diabetes"},
		{"fever", "children"},
	}
	idx := NewIndex(corpus, DefaultK1, DefaultB, DefaultEpsilon)
	require.Equal(t, 4, idx.Len())

	t.Run("matching documents score positive", func(t *testing.T) {
		scores := idx.Scores([]string{"metformin"})
		assert.Greater(t, scores[0], 0.0)
		assert.Zero(t, scores[1])
		assert.Zero(t, scores[2])
	})

	t.Run("rarer terms weigh more", func(t *testing.T) {
		scores := idx.Scores([]string{"metformin", "diabetes"})
		assert.Greater(t, scores[0], scores[2])
	})

	t.Run("unknown terms score zero", func(t *testing.T) {
		for _, s := range idx.Scores([]string{"zzz"}) {
			assert.Zero(t, s)
		}
	})

	t.Run("common terms get a positive floor", func(t *testing.T) {
		common := NewIndex([][]string{{"pain"}, {"pain"}, {"pain", "knee"}}, DefaultK1, DefaultB, DefaultEpsilon)
		for _, s := range common.Scores([]string{"pain"}) {
			assert.Greater(t, s, 0.0)
		}
	})

	t.Run("empty corpus", func(t *testing.T) {
		empty := NewIndex(nil, DefaultK1, DefaultB, DefaultEpsilon)
		assert.Empty(t, empty.Scores([]string{"x"}))
	})
}

func newRepo(t *testing.T, texts ...string) storage.DocumentRepository {
	t.Helper()
	docs, _, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	for _, text := range texts {
		_, err := docs.AddDocuments(context.Background(), &core.Document{Corpus: "medquad", Content: text})
		require.NoError(t, err)
	}
	return docs
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("best match has confidence one", func(t *testing.T) {
		docs := newRepo(t,
			"metformin is first line therapy for type-2 diabetes",
			"aspirin reduces fever and headache",
			"insulin is used when diabetes progresses",
			"hypertension is treated with lisinopril",
			"asthma is managed with inhalers",
		)
		p, err := NewProvider(ctx, docs, WithThreshold(0.1))
		require.NoError(t, err)

		ev, err := p.Retrieve(ctx, &core.ProcessedQuery{Normalized: "metformin diabetes"}, 5)
		require.NoError(t, err)
		require.Len(t, ev, 2)

		assert.Equal(t, "metformin is first line therapy for type-2 diabetes", ev[0].Content)
		assert.InDelta(t, 1.0, ev[0].Confidence, 1e-9)
		assert.Less(t, ev[1].Confidence, ev[0].Confidence)
		assert.Equal(t, core.SourceSparse, ev[0].Source)
		assert.Contains(t, ev[0].Metadata, "doc_id")
		assert.Contains(t, ev[0].Metadata, "bm25_score")
	})

	t.Run("threshold drops weak matches", func(t *testing.T) {
		docs := newRepo(t,
			"metformin metformin metformin diabetes",
			"diabetes diet",
			"asthma inhaler",
		)
		p, err := NewProvider(ctx, docs, WithThreshold(0.9))
		require.NoError(t, err)

		ev, err := p.Retrieve(ctx, &core.ProcessedQuery{Normalized: "metformin diabetes"}, 5)
		require.NoError(t, err)
		require.Len(t, ev, 1)
	})

	t.Run("no matching terms", func(t *testing.T) {
		p, err := NewProvider(ctx, newRepo(t, "asthma inhaler"))
		require.NoError(t, err)

		ev, err := p.Retrieve(ctx, &core.ProcessedQuery{Normalized: "gout"}, 5)
		require.NoError(t, err)
		assert.Empty(t, ev)
	})

	t.Run("rebuild picks up new documents", func(t *testing.T) {
		docs := newRepo(t, "asthma inhaler", "eczema cream")
		p, err := NewProvider(ctx, docs)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Len())

		_, err = docs.AddDocuments(ctx, &core.Document{Content: "gout flares respond to colchicine"})
		require.NoError(t, err)
		require.NoError(t, p.Rebuild(ctx))
		assert.Equal(t, 3, p.Len())

		ev, err := p.Retrieve(ctx, &core.ProcessedQuery{Normalized: "gout"}, 5)
		require.NoError(t, err)
		assert.Len(t, ev, 1)
	})

	t.Run("empty corpus returns nothing", func(t *testing.T) {
		p, err := NewProvider(ctx, newRepo(t))
		require.NoError(t, err)

		ev, err := p.Retrieve(ctx, &core.ProcessedQuery{Normalized: "anything"}, 5)
		require.NoError(t, err)
		assert.Empty(t, ev)
	})
}
