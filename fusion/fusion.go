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

// Package fusion merges evidence from several providers into one ranked,
// scored set with a single combined confidence.
package fusion

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/medfuse/core"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60

// Engine combines evidence from several providers into one ranked set.
// An Engine holds only configuration and is safe for concurrent use.
type Engine struct {
	weights  Weights
	rrfK     float64
	relative bool
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithWeights overrides per-source weights. Sources missing from w keep
// their default weight.
func WithWeights(w Weights) Option {
	return func(e *Engine) error {
		if err := w.Validate(); err != nil {
			return err
		}
		for src, v := range w {
			e.weights[src] = v
		}
		return nil
	}
}

// WithRRFK sets the reciprocal rank fusion constant.
func WithRRFK(k int) Option {
	return func(e *Engine) error {
		if k <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidRRFK, k)
		}
		e.rrfK = float64(k)
		return nil
	}
}

// WithRelativeWeights controls whether weights are divided by the largest
// weight among the sources present in a pass. When enabled, the strongest
// participating source keeps its provider confidence and the others are
// discounted relative to it.
func WithRelativeWeights(relative bool) Option {
	return func(e *Engine) error {
		e.relative = relative
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "fusion")
		return nil
	}
}

// NewEngine creates a fusion engine with default weights, k = 60 and
// relative weighting.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		weights:  DefaultWeights(),
		rrfK:     DefaultRRFK,
		relative: true,
		logger:   slog.Default().With("component", "fusion"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Weights returns a copy of the configured weights.
func (e *Engine) Weights() Weights {
	return e.weights.clone()
}

// RRFScore is the contribution of a document at 0-based rank r in one list.
func (e *Engine) RRFScore(rank int) float64 {
	return 1 / (e.rrfK + float64(rank) + 1)
}

// Fuse ranks and scores evidences. The algorithm depends on which sources
// are present:
//
//   - graph or literature without both dense and sparse: weighted fusion
//   - graph or literature with dense and sparse: dense and sparse are merged
//     by reciprocal rank, then blended with the rest by weight
//   - dense and/or sparse only: reciprocal rank fusion
//
// Weighted fusion rescales evidence confidences in place, at most once per
// Evidence. Fuse never fails; empty input yields an empty result with zero
// confidence.
func (e *Engine) Fuse(evidences []*core.Evidence) *core.FusedEvidence {
	evs := e.sanitize(evidences)

	present := make(map[core.SourceType]bool)
	for _, ev := range evs {
		present[ev.Source] = true
	}
	anchored := present[core.SourceGraph] || present[core.SourceLiterature]

	var fused *core.FusedEvidence
	switch {
	case anchored && present[core.SourceDense] && present[core.SourceSparse]:
		fused = e.composite(evs)
	case anchored:
		fused = e.weighted(evs)
	default:
		fused = result(e.reciprocalRank(evs), core.FusionReciprocalRank)
	}

	e.logger.Debug("fused evidence",
		"method", fused.FusionMethod,
		"input", len(evidences),
		"output", len(fused.Evidences),
		"combined_confidence", fused.CombinedConfidence)
	return fused
}

// sanitize drops nil entries and zeroes out-of-range confidences.
func (e *Engine) sanitize(evidences []*core.Evidence) []*core.Evidence {
	out := make([]*core.Evidence, 0, len(evidences))
	for i, ev := range evidences {
		if ev == nil {
			e.logger.Warn("dropping nil evidence", "index", i)
			continue
		}
		if !core.ValidConfidence(ev.Confidence) {
			e.logger.Warn("malformed evidence confidence, using 0",
				"source", ev.Source, "confidence", ev.Confidence, "index", i)
			ev.Confidence = 0
		}
		out = append(out, ev)
	}
	return out
}

func (e *Engine) weight(src core.SourceType) float64 {
	return e.weights[src]
}

// scale returns the factor applied to every weight in a pass.
func (e *Engine) scale(weights ...float64) float64 {
	if !e.relative {
		return 1
	}
	top := 0.0
	for _, w := range weights {
		top = max(top, w)
	}
	if top == 0 {
		return 1
	}
	return 1 / top
}

func (e *Engine) rescale(ev *core.Evidence, w float64) {
	if !ev.Rescale(w) {
		e.logger.Debug("evidence already rescaled", "source", ev.Source)
	}
}

func (e *Engine) weighted(evs []*core.Evidence) *core.FusedEvidence {
	var ws []float64
	for _, ev := range evs {
		ws = append(ws, e.weight(ev.Source))
	}
	scale := e.scale(ws...)

	items := make([]item, len(evs))
	for i, ev := range evs {
		e.rescale(ev, scale*e.weight(ev.Source))
		items[i] = item{ev: ev, score: ev.Confidence, order: i}
	}
	return result(items, core.FusionWeighted)
}

// composite merges the dense and sparse lists by reciprocal rank and then
// weights the merged documents under the larger of the two source weights.
func (e *Engine) composite(evs []*core.Evidence) *core.FusedEvidence {
	var anchored, ranked []*core.Evidence
	for _, ev := range evs {
		switch ev.Source {
		case core.SourceDense, core.SourceSparse:
			ranked = append(ranked, ev)
		default:
			anchored = append(anchored, ev)
		}
	}
	merged := e.reciprocalRank(ranked)
	pseudo := max(e.weight(core.SourceDense), e.weight(core.SourceSparse))

	ws := []float64{pseudo}
	for _, ev := range anchored {
		ws = append(ws, e.weight(ev.Source))
	}
	scale := e.scale(ws...)

	items := make([]item, 0, len(anchored)+len(merged))
	for i, ev := range anchored {
		e.rescale(ev, scale*e.weight(ev.Source))
		items = append(items, item{ev: ev, score: ev.Confidence, order: i})
	}
	for r, m := range merged {
		e.rescale(m.ev, scale*pseudo)
		items = append(items, item{ev: m.ev, score: m.ev.Confidence, order: len(anchored) + r})
	}
	return result(items, core.FusionComposite)
}

// reciprocalRank merges per-source ranked lists. Input order within a source
// is that source's ranking. Evidence sharing a DocumentKey is one document:
// its score is the sum over sources of 1/(k+rank+1) at the document's best
// rank in each source, and it is represented by its most confident instance.
// The result is sorted by score.
func (e *Engine) reciprocalRank(evs []*core.Evidence) []item {
	type doc struct {
		item
		seen map[core.SourceType]bool
	}
	next := make(map[core.SourceType]int)
	docs := make(map[core.ID]*doc)
	var order []*doc

	for _, ev := range evs {
		rank := next[ev.Source]
		next[ev.Source]++

		key := ev.DocumentKey()
		d, ok := docs[key]
		if !ok {
			d = &doc{item: item{ev: ev, order: len(order)}, seen: map[core.SourceType]bool{}}
			docs[key] = d
			order = append(order, d)
		} else if outranks(ev, d.ev) {
			d.ev = ev
		}
		if !d.seen[ev.Source] {
			d.seen[ev.Source] = true
			d.score += e.RRFScore(rank)
		}
	}

	items := make([]item, len(order))
	for i, d := range order {
		items[i] = d.item
	}
	sortItems(items)
	return items
}

func outranks(a, b *core.Evidence) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Source.Priority() < b.Source.Priority()
}

type item struct {
	ev    *core.Evidence
	score float64
	order int
}

// sortItems orders by score, then source priority, then original order.
func sortItems(items []item) {
	slices.SortStableFunc(items, func(a, b item) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ev.Source.Priority(), b.ev.Source.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
}

func result(items []item, method core.FusionMethod) *core.FusedEvidence {
	sortItems(items)
	fused := &core.FusedEvidence{
		Evidences:    make([]*core.Evidence, len(items)),
		Scores:       make([]float64, len(items)),
		FusionMethod: method,
	}
	var sum float64
	for i, it := range items {
		fused.Evidences[i] = it.ev
		fused.Scores[i] = it.score
		sum += it.ev.Confidence
	}
	if len(items) > 0 {
		fused.CombinedConfidence = core.ClampConfidence(sum / float64(len(items)))
	}
	return fused
}
