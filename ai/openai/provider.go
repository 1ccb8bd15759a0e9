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
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/medfuse/ai"
)

// ErrConfigRequired is returned when NewProvider gets a nil config.
var ErrConfigRequired = errors.New("ai config required")

// Provider serves question embeddings and LLM entity extraction from
// OpenAI-compatible endpoints. The two services may live on different hosts.
// Construction makes no network calls.
type Provider struct {
	embedder  *Embedder
	extractor *EntityExtractor
	logger    *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider validates config and builds both services.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	extractor, err := newEntityExtractor(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity extractor: %w", err)
	}

	logger := slog.Default().With("component", "openai")
	logger.Debug("AI provider configured",
		"embedding_host", config.EmbeddingHost,
		"embedding_model", config.EmbeddingModel,
		"extractor_host", config.ExtractorHost,
		"extractor_model", config.ExtractorModel)

	return &Provider{
		embedder:  embedder,
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Embedder returns the embedding service used by the dense provider,
// ingestion and reembed.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// EntityExtractor returns the JSON-mode chat extractor used by the query
// processor.
func (p *Provider) EntityExtractor() ai.EntityExtractor {
	return p.extractor
}

// Close releases nothing; the HTTP clients are stateless.
func (p *Provider) Close() error {
	p.logger.Debug("closing AI provider")
	return nil
}
