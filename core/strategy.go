package core

import "fmt"

// RetrievalStrategy names the provider subset queried for a question.
type RetrievalStrategy string

const (
	StrategyGraphOnly     RetrievalStrategy = "graph-only"
	StrategyDenseOnly     RetrievalStrategy = "dense-only"
	StrategySparseOnly    RetrievalStrategy = "sparse-only"
	StrategyGraphDense    RetrievalStrategy = "graph+dense"
	StrategyDenseSparse   RetrievalStrategy = "dense+sparse"
	StrategyComprehensive RetrievalStrategy = "comprehensive"
)

// Strategies lists every strategy, narrowest first.
var Strategies = []RetrievalStrategy{
	StrategyGraphOnly,
	StrategyDenseOnly,
	StrategySparseOnly,
	StrategyGraphDense,
	StrategyDenseSparse,
	StrategyComprehensive,
}

// Valid reports whether s belongs to the closed strategy set.
func (s RetrievalStrategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// IsMaximal reports whether s is the comprehensive strategy, the terminal
// point of fallback escalation.
func (s RetrievalStrategy) IsMaximal() bool {
	return s == StrategyComprehensive
}

// ParseStrategy converts a tag into a RetrievalStrategy.
func ParseStrategy(tag string) (RetrievalStrategy, error) {
	s := RetrievalStrategy(tag)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, tag)
	}
	return s, nil
}
