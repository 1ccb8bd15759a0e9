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

package core

import (
	"fmt"
	"math"
)

// SourceType identifies which evidence provider produced a piece of evidence.
type SourceType string

const (
	// SourceGraph is the structured knowledge graph provider.
	SourceGraph SourceType = "graph"
	// SourceLiterature is the external literature provider.
	SourceLiterature SourceType = "literature"
	// SourceDense is the dense semantic (embedding) provider.
	SourceDense SourceType = "dense"
	// SourceSparse is the sparse keyword (BM25) provider.
	SourceSparse SourceType = "sparse"
)

// SourceTypes lists every source type in priority order, highest first.
var SourceTypes = []SourceType{SourceGraph, SourceLiterature, SourceDense, SourceSparse}

// Priority returns the tie-breaking rank of a source type. Lower ranks win.
// Unknown source types rank after every known type.
func (s SourceType) Priority() int {
	for i, st := range SourceTypes {
		if st == s {
			return i
		}
	}
	return len(SourceTypes)
}

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	return s.Priority() < len(SourceTypes)
}

// ParseSourceType converts a tag into a SourceType.
func ParseSourceType(tag string) (SourceType, error) {
	s := SourceType(tag)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, tag)
	}
	return s, nil
}

// Evidence is one unit of retrieved support for an answer.
// Content and Metadata are never modified after a provider creates the value.
// Confidence may be rescaled exactly once by weighted fusion.
type Evidence struct {
	Source     SourceType
	Content    string
	Confidence float64
	Metadata   map[string]any

	rescaled bool
}

// NewEvidence creates evidence attributed to source.
func NewEvidence(source SourceType, content string, confidence float64, metadata map[string]any) *Evidence {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Evidence{
		Source:     source,
		Content:    content,
		Confidence: confidence,
		Metadata:   metadata,
	}
}

// Rescale multiplies the confidence by weight. It only takes effect the first
// time it is called on a given Evidence and reports whether it did.
func (e *Evidence) Rescale(weight float64) bool {
	if e.rescaled {
		return false
	}
	e.Confidence *= weight
	e.rescaled = true
	return true
}

// Rescaled reports whether the confidence has already been rescaled.
func (e *Evidence) Rescaled() bool {
	return e.rescaled
}

// DocumentKey returns the logical-document identity of the evidence. Providers
// that rank stored corpus documents set the "doc_id" metadata key; everything
// else is identified by its content hash.
func (e *Evidence) DocumentKey() ID {
	switch v := e.Metadata["doc_id"].(type) {
	case ID:
		return v
	case uint64:
		return ID(v)
	case string:
		if v != "" {
			return IDFromContent(v)
		}
	}
	return IDFromContent(e.Content)
}

// FusionMethod records which algorithm ranked a FusedEvidence.
type FusionMethod string

const (
	// FusionWeighted multiplies confidences by per-source weights.
	FusionWeighted FusionMethod = "weighted"
	// FusionReciprocalRank merges ranked lists with reciprocal rank fusion.
	FusionReciprocalRank FusionMethod = "reciprocal-rank"
	// FusionComposite merges dense and sparse with RRF, then blends the result
	// with graph and literature evidence by weight.
	FusionComposite FusionMethod = "weighted+reciprocal-rank"
)

// Provenance records fallback bookkeeping for a fused result.
// The zero value means no fallback occurred.
type Provenance struct {
	FallbackApplied       bool
	OriginalStrategy      RetrievalStrategy
	FallbackStrategy      RetrievalStrategy
	PreFallbackConfidence float64
}

// IsEmpty reports whether no fallback was recorded.
func (p Provenance) IsEmpty() bool {
	return p == Provenance{}
}

// Map renders the provenance with the keys response builders expect.
// An empty provenance renders as an empty map.
func (p Provenance) Map() map[string]any {
	if p.IsEmpty() {
		return map[string]any{}
	}
	return map[string]any{
		"fallbackApplied":       p.FallbackApplied,
		"originalStrategy":      string(p.OriginalStrategy),
		"fallbackStrategy":      string(p.FallbackStrategy),
		"preFallbackConfidence": p.PreFallbackConfidence,
	}
}

// FusedEvidence is the ranked, scored output of one fusion pass.
type FusedEvidence struct {
	// Evidences is ranked best first.
	Evidences []*Evidence
	// Scores holds the ranking key of Evidences[i]: the adjusted confidence for
	// weighted fusion, the summed RRF score for reciprocal rank fusion.
	Scores []float64
	// CombinedConfidence is the mean confidence of Evidences, in [0,1].
	CombinedConfidence float64
	FusionMethod       FusionMethod
	// Strategy is the retrieval strategy whose evidence was fused.
	Strategy   RetrievalStrategy
	Provenance Provenance
}

// IsEmpty reports whether the fused result carries no evidence.
func (f *FusedEvidence) IsEmpty() bool {
	return f == nil || len(f.Evidences) == 0
}

// Sources returns the distinct source types present, in priority order.
func (f *FusedEvidence) Sources() []SourceType {
	if f == nil {
		return nil
	}
	seen := make(map[SourceType]bool)
	for _, e := range f.Evidences {
		seen[e.Source] = true
	}
	var out []SourceType
	for _, st := range SourceTypes {
		if seen[st] {
			out = append(out, st)
		}
	}
	return out
}

// ValidConfidence reports whether c is a usable confidence in [0,1].
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

// ClampConfidence limits c to [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
