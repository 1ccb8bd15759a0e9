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

package openai

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/medfuse/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const maxExtractAttempts = 3

// EntityExtractor implements ai.EntityExtractor using OpenAI-compatible chat APIs.
type EntityExtractor struct {
	client        llms.Model
	minConfidence float64
	logger        *slog.Logger
}

// entity matches one item of the JSON the model is asked to produce.
type entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type extraction struct {
	Entities []entity `json:"entities"`
}

// newEntityExtractor is an internal constructor that returns the concrete type.
func newEntityExtractor(config *ai.Config) (*EntityExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ExtractorHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ExtractorModel),
	)
	if err != nil {
		return nil, err
	}

	return newEntityExtractorWithModel(client, config.MinEntityConfidence), nil
}

// newEntityExtractorWithModel wraps any llms.Model, which lets tests supply a fake.
func newEntityExtractorWithModel(client llms.Model, minConfidence float64) *EntityExtractor {
	return &EntityExtractor{
		client:        client,
		minConfidence: minConfidence,
		logger:        slog.Default().With("component", "openai-extractor"),
	}
}

// NewEntityExtractor creates a new entity extractor using the provided configuration.
//
// Returns ai.EntityExtractor interface to enforce abstraction.
func NewEntityExtractor(config *ai.Config) (ai.EntityExtractor, error) {
	return newEntityExtractor(config)
}

// ExtractEntities asks the model for the medical entities in text. Replies
// that fail to parse are retried; entities below the minimum confidence or
// with an unknown type are dropped.
func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string) ([]ai.ExtractedEntity, error) {
	text = scrubQuestion(text)
	if text == "" {
		return []ai.ExtractedEntity{}, nil
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, buildSystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	var result extraction
	var lastErr error
	for attempt := 1; attempt <= maxExtractAttempts; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt, "err", err)
			return nil, err
		}
		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model")
			return []ai.ExtractedEntity{}, nil
		}

		result = extraction{}
		if lastErr = decodeJSONResponse(response.Choices[0].Content, &result); lastErr != nil {
			e.logger.Warn("error parsing extractor response",
				"attempt", attempt,
				"response", response.Choices[0].Content,
				"err", lastErr)
			continue
		}
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse extractor response after retries", "err", lastErr)
		return nil, lastErr
	}

	extracted := make([]ai.ExtractedEntity, 0, len(result.Entities))
	seen := make(map[string]bool)
	for _, ent := range result.Entities {
		name := strings.ToLower(strings.TrimSpace(ent.Text))
		kind := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(ent.Type)), " ", "_")
		if name == "" || seen[name] || !ai.IsEntityType(kind) || ent.Confidence < e.minConfidence {
			continue
		}
		seen[name] = true
		extracted = append(extracted, ai.ExtractedEntity{
			Text:       name,
			Type:       kind,
			Confidence: min(ent.Confidence, 1),
		})
	}

	slices.SortStableFunc(extracted, func(a, b ai.ExtractedEntity) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	e.logger.Debug("extracted entities",
		"total", len(result.Entities),
		"kept", len(extracted))

	return extracted, nil
}
