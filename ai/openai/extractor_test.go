package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel replays canned replies in order.
type scriptedModel struct {
	replies []string
	err     error
	calls   int
}

var _ llms.Model = (*scriptedModel)(nil)

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	reply := m.replies[min(m.calls, len(m.replies))-1]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestEntityExtractor_ExtractEntities(t *testing.T) {
	ctx := context.Background()

	t.Run("filters and sorts", func(t *testing.T) {
		model := &scriptedModel{replies: []string{`{"entities": [
			{"text": "Warfarin", "type": "drug", "confidence": 0.8},
			{"text": "ibuprofen", "type": "drug", "confidence": 0.95},
			{"text": "bleeding", "type": "symptom", "confidence": 0.4},
			{"text": "kitchen", "type": "place", "confidence": 0.9},
			{"text": "warfarin", "type": "drug", "confidence": 0.7}
		]}`}}
		extractor := newEntityExtractorWithModel(model, 0.6)

		entities, err := extractor.ExtractEntities(ctx, "Can I take ibuprofen with warfarin?")
		require.NoError(t, err)
		require.Len(t, entities, 2)
		assert.Equal(t, "ibuprofen", entities[0].Text)
		assert.Equal(t, "warfarin", entities[1].Text)
		assert.Equal(t, 1, model.calls)
	})

	t.Run("retries malformed replies", func(t *testing.T) {
		model := &scriptedModel{replies: []string{
			"sure, here you go",
			`{"entities": [{"text": "asthma", "type": "disease", "confidence": 0.9}]}`,
		}}
		extractor := newEntityExtractorWithModel(model, 0.6)

		entities, err := extractor.ExtractEntities(ctx, "what is asthma")
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, 2, model.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		model := &scriptedModel{replies: []string{"nope"}}
		extractor := newEntityExtractorWithModel(model, 0.6)

		_, err := extractor.ExtractEntities(ctx, "what is asthma")
		assert.Error(t, err)
		assert.Equal(t, maxExtractAttempts, model.calls)
	})

	t.Run("model error is returned", func(t *testing.T) {
		model := &scriptedModel{err: errors.New("connection refused")}
		extractor := newEntityExtractorWithModel(model, 0.6)

		_, err := extractor.ExtractEntities(ctx, "what is asthma")
		assert.Error(t, err)
	})

	t.Run("empty question skips the model", func(t *testing.T) {
		model := &scriptedModel{}
		extractor := newEntityExtractorWithModel(model, 0.6)

		entities, err := extractor.ExtractEntities(ctx, " ? ")
		require.NoError(t, err)
		assert.Empty(t, entities)
		assert.Zero(t, model.calls)
	})
}
