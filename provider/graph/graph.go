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

// Package graph retrieves facts from a medical knowledge graph. Every
// (subject)-[predicate]->(object) edge touching a question entity becomes
// one piece of evidence.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
)

const (
	// DefaultFactConfidence is the confidence assigned to every graph fact.
	DefaultFactConfidence = 0.9

	tripleQuery = `MATCH (s:Entity)-[r]->(o:Entity)
WHERE toLower(s.name) CONTAINS $entity OR toLower(o.name) CONTAINS $entity
RETURN s.name AS subject, type(r) AS predicate, o.name AS object
LIMIT $limit`

	indexQuery = "CREATE INDEX entity_name IF NOT EXISTS FOR (n:Entity) ON (n.name)"

	nodeCountQuery = "MATCH (n) RETURN count(n) AS count"
	edgeCountQuery = "MATCH ()-[r]->() RETURN count(r) AS count"
)

var (
	ErrDriverRequired   = errors.New("graph driver is required")
	ErrUnexpectedResult = errors.New("unexpected graph query result")
)

// Provider answers questions with knowledge graph triples.
type Provider struct {
	driver     Driver
	confidence float64
	logger     *slog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider) error

// WithFactConfidence sets the confidence given to each triple.
func WithFactConfidence(c float64) Option {
	return func(p *Provider) error {
		if !core.ValidConfidence(c) {
			return fmt.Errorf("fact confidence %v outside [0,1]", c)
		}
		p.confidence = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "graph-provider")
		return nil
	}
}

// NewProvider creates a graph provider over driver.
func NewProvider(driver Driver, opts ...Option) (*Provider, error) {
	if driver == nil {
		return nil, ErrDriverRequired
	}
	p := &Provider{
		driver:     driver,
		confidence: DefaultFactConfidence,
		logger:     slog.Default().With("component", "graph-provider"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Source returns core.SourceGraph.
func (p *Provider) Source() core.SourceType {
	return core.SourceGraph
}

// EnsureIndexes creates the entity name index if it is missing.
func (p *Provider) EnsureIndexes(ctx context.Context) error {
	if _, err := p.driver.ExecuteQuery(ctx, indexQuery, nil); err != nil {
		return fmt.Errorf("failed to create entity index: %w", err)
	}
	return nil
}

// Counts returns the number of nodes and relationships in the graph.
func (p *Provider) Counts(ctx context.Context) (nodes, edges int64, err error) {
	if nodes, err = p.count(ctx, nodeCountQuery); err != nil {
		return 0, 0, fmt.Errorf("failed to count graph nodes: %w", err)
	}
	if edges, err = p.count(ctx, edgeCountQuery); err != nil {
		return 0, 0, fmt.Errorf("failed to count graph edges: %w", err)
	}
	return nodes, edges, nil
}

func (p *Provider) count(ctx context.Context, query string) (int64, error) {
	result, err := p.driver.ExecuteQuery(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	v, _ := result.Records[0].Get("count")
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: count is %T", ErrUnexpectedResult, v)
	}
	return n, nil
}

// Retrieve looks up triples for each query entity in order and returns at most
// topK distinct facts. A query without entities yields no evidence.
func (p *Provider) Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
	if query == nil {
		return nil, core.ErrNilQuery
	}
	out := []*core.Evidence{}
	if topK <= 0 {
		return out, nil
	}

	seen := make(map[string]bool)
	for _, entity := range query.EntityTexts() {
		entity = strings.ToLower(strings.TrimSpace(entity))
		if entity == "" {
			continue
		}
		result, err := p.driver.ExecuteQuery(ctx, tripleQuery, map[string]any{
			"entity": entity,
			"limit":  int64(topK),
		})
		if err != nil {
			return nil, fmt.Errorf("graph lookup for %q: %w", entity, err)
		}
		for _, rec := range result.Records {
			t, ok := readTriple(rec)
			if !ok {
				p.logger.Debug("skipping incomplete triple", "entity", entity)
				continue
			}
			content := t.String()
			if seen[content] {
				continue
			}
			seen[content] = true
			out = append(out, core.NewEvidence(core.SourceGraph, content, p.confidence, map[string]any{
				"subject":   t.subject,
				"predicate": t.predicate,
				"object":    t.object,
				"entity":    entity,
			}))
			if len(out) >= topK {
				return out, nil
			}
		}
	}
	return out, nil
}

type triple struct {
	subject, predicate, object string
}

// String renders the triple as a sentence-like fact, e.g.
// "metformin treats type 2 diabetes".
func (t triple) String() string {
	predicate := strings.ToLower(strings.ReplaceAll(t.predicate, "_", " "))
	return t.subject + " " + predicate + " " + t.object
}

func readTriple(rec *neo4j.Record) (triple, bool) {
	var t triple
	var ok bool
	if t.subject, ok = stringField(rec, "subject"); !ok {
		return t, false
	}
	if t.predicate, ok = stringField(rec, "predicate"); !ok {
		return t, false
	}
	if t.object, ok = stringField(rec, "object"); !ok {
		return t, false
	}
	return t, true
}

func stringField(rec *neo4j.Record, key string) (string, bool) {
	v, ok := rec.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
