package fusion

import (
	"fmt"
	"maps"

	"github.com/poiesic/medfuse/core"
)

// Weights maps each source type to its weighted-fusion multiplier.
type Weights map[core.SourceType]float64

// DefaultWeights favors curated graph facts over retrieved passages.
func DefaultWeights() Weights {
	return Weights{
		core.SourceGraph:      0.4,
		core.SourceDense:      0.25,
		core.SourceLiterature: 0.2,
		core.SourceSparse:     0.15,
	}
}

// Validate checks that every key is a known source and every weight is in [0,1].
// Weights need not sum to one.
func (w Weights) Validate() error {
	for src, v := range w {
		if !src.Valid() {
			return fmt.Errorf("%w: %q", core.ErrUnknownSourceType, src)
		}
		if !core.ValidConfidence(v) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, src, v)
		}
	}
	return nil
}

func (w Weights) clone() Weights {
	return maps.Clone(w)
}
