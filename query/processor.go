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

// Package query turns a free-text medical question into a ProcessedQuery:
// normalized text, medical entities, question type, audience mode and the
// suggested retrieval strategy.
//
// Classification sits behind the Classifier interface. The default
// RuleClassifier uses keyword and pattern rules and can merge entities from
// an LLM extractor.
package query

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/strategy"
)

// Classification is what a Classifier learns about a question.
type Classification struct {
	Entities  []core.Entity
	Mode      core.UserMode
	QueryType core.QueryType
}

// Classifier analyzes a normalized question.
type Classifier interface {
	Classify(ctx context.Context, normalized string) (*Classification, error)
}

// RuleClassifier classifies with keyword rules and entity patterns.
type RuleClassifier struct {
	extractor ai.EntityExtractor
	logger    *slog.Logger
}

var _ Classifier = (*RuleClassifier)(nil)

// NewRuleClassifier creates a rule-based classifier. If extractor is not nil
// its entities are merged after the pattern matches.
func NewRuleClassifier(extractor ai.EntityExtractor, logger *slog.Logger) *RuleClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleClassifier{extractor: extractor, logger: logger.With("component", "classifier")}
}

// Classify never fails. An extractor error is logged and the pattern
// entities are used alone.
func (c *RuleClassifier) Classify(ctx context.Context, normalized string) (*Classification, error) {
	entities := ExtractEntities(normalized)
	if c.extractor != nil {
		extracted, err := c.extractor.ExtractEntities(ctx, normalized)
		if err != nil {
			c.logger.Warn("entity extraction failed, using pattern entities", "err", err)
		} else {
			found := make([]core.Entity, len(extracted))
			for i, e := range extracted {
				found[i] = core.Entity{Text: e.Text, Type: e.Type, Confidence: e.Confidence}
			}
			entities = mergeEntities(entities, found)
		}
	}
	return &Classification{
		Entities:  entities,
		Mode:      DetectMode(normalized),
		QueryType: DetectQueryType(normalized),
	}, nil
}

// Processor builds ProcessedQuery values.
type Processor struct {
	classifier Classifier
	logger     *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor) error

// WithClassifier replaces the default rule classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Processor) error {
		if c != nil {
			p.classifier = c
		}
		return nil
	}
}

// WithEntityExtractor adds an LLM extractor to the default rule classifier.
func WithEntityExtractor(e ai.EntityExtractor) Option {
	return func(p *Processor) error {
		p.classifier = NewRuleClassifier(e, p.logger)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewProcessor creates a query processor.
func NewProcessor(opts ...Option) (*Processor, error) {
	p := &Processor{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.classifier == nil {
		p.classifier = NewRuleClassifier(nil, p.logger)
	}
	p.logger = p.logger.With("component", "query")
	return p, nil
}

// Process analyzes question. An empty mode is detected from the question;
// any other mode is kept as given.
func (p *Processor) Process(ctx context.Context, question string, mode core.UserMode) (*core.ProcessedQuery, error) {
	normalized := Normalize(question)
	if normalized == "" {
		return nil, ErrEmptyQuestion
	}

	c, err := p.classifier.Classify(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = c.Mode
	}

	q := &core.ProcessedQuery{
		ID:         uuid.NewString(),
		Original:   question,
		Normalized: normalized,
		Entities:   c.Entities,
		QueryType:  c.QueryType,
		Mode:       mode,
	}
	q.SuggestedStrategy = strategy.Decide(q)

	p.logger.Info("query processed",
		"query_id", q.ID,
		"query_type", q.QueryType,
		"entities", len(q.Entities),
		"mode", q.Mode,
		"strategy", q.SuggestedStrategy)
	return q, nil
}
