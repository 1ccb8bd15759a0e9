package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentBasics(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	doc := &core.Document{
		Corpus:   "medquad",
		Title:    "What is hypertension?",
		Content:  "Hypertension is high blood pressure.",
		Metadata: map[string]string{"focus": "hypertension"},
	}

	added, err := docRepo.AddDocuments(ctx, doc)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, core.IDFromContent(doc.Text()), added[0].Id)
	assert.False(t, added[0].InsertedAt.IsZero())

	got, err := docRepo.GetDocument(ctx, added[0].Id)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, "hypertension", got.Metadata["focus"])

	count, err := docRepo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = docRepo.GetDocument(ctx, core.ID(12345))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddDocuments_Idempotent(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	first, err := docRepo.AddDocuments(ctx, &core.Document{Content: "Insulin regulates glucose."})
	require.NoError(t, err)

	first[0].Vector = []float32{0.6, 0.8}
	_, err = docRepo.UpdateDocuments(ctx, first[0])
	require.NoError(t, err)

	again, err := docRepo.AddDocuments(ctx, &core.Document{Content: "Insulin regulates glucose."})
	require.NoError(t, err)
	assert.Equal(t, first[0].Id, again[0].Id)
	assert.Equal(t, []float32{0.6, 0.8}, again[0].Vector, "re-adding must keep the stored vector")

	count, err := docRepo.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddDocuments_Invalid(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	_, err = docRepo.AddDocuments(context.Background(), &core.Document{Title: "no content"})
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}

func TestUpdateDocuments(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	added, err := docRepo.AddDocuments(ctx, &core.Document{Content: "Statins lower LDL."})
	require.NoError(t, err)
	insertedAt := added[0].InsertedAt

	added[0].Vector = []float32{1, 0}
	updated, err := docRepo.UpdateDocuments(ctx, added[0])
	require.NoError(t, err)
	assert.Equal(t, insertedAt, updated[0].InsertedAt)
	assert.False(t, updated[0].UpdatedAt.Before(insertedAt))

	got, err := docRepo.GetDocument(ctx, added[0].Id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Vector)

	t.Run("missing document", func(t *testing.T) {
		_, err := docRepo.UpdateDocuments(ctx, &core.Document{Id: 999, Content: "ghost"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestDeleteDocuments(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	added, err := docRepo.AddDocuments(ctx,
		&core.Document{Content: "one"},
		&core.Document{Content: "two"},
	)
	require.NoError(t, err)

	require.NoError(t, docRepo.DeleteDocuments(ctx, added[0].Id))

	_, err = docRepo.GetDocument(ctx, added[0].Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = docRepo.DeleteDocuments(ctx, added[0].Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	remaining, err := docRepo.GetDocuments(ctx, added[0].Id, added[1].Id)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "two", remaining[0].Content)
}

func TestForEachDocument(t *testing.T) {
	docRepo, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	_, err = docRepo.AddDocuments(ctx,
		&core.Document{Content: "alpha"},
		&core.Document{Content: "beta"},
		&core.Document{Content: "gamma"},
	)
	require.NoError(t, err)

	var ids []core.ID
	err = docRepo.ForEachDocument(ctx, func(doc *core.Document) error {
		ids = append(ids, doc.Id)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "iteration must follow ID order")
	}

	t.Run("stops on error", func(t *testing.T) {
		stop := errors.New("stop")
		seen := 0
		err := docRepo.ForEachDocument(ctx, func(doc *core.Document) error {
			seen++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, seen)
	})
}
