// Package strategy decides which evidence providers answer a question.
//
// Both mappings are static tables: question shape to strategy, and strategy
// to the ordered providers it queries. Adding a strategy means adding rows,
// not branches.
package strategy

import (
	"fmt"

	"github.com/poiesic/medfuse/core"
)

// Default is the strategy for any question the decision table does not cover.
const Default = core.StrategyGraphDense

// EntityBucket groups questions by how many entities they mention.
type EntityBucket int

const (
	NoEntities EntityBucket = iota
	OneEntity
	ManyEntities
)

// BucketOf returns the bucket for an entity count.
func BucketOf(count int) EntityBucket {
	switch {
	case count <= 0:
		return NoEntities
	case count == 1:
		return OneEntity
	default:
		return ManyEntities
	}
}

type key struct {
	queryType core.QueryType
	bucket    EntityBucket
}

var decisions = map[key]core.RetrievalStrategy{
	{core.QueryTypeDefinition, NoEntities}:   core.StrategyDenseOnly,
	{core.QueryTypeDefinition, OneEntity}:    core.StrategyGraphOnly,
	{core.QueryTypeDefinition, ManyEntities}: core.StrategyGraphDense,

	{core.QueryTypeContextual, NoEntities}:   core.StrategyDenseSparse,
	{core.QueryTypeContextual, OneEntity}:    core.StrategyGraphDense,
	{core.QueryTypeContextual, ManyEntities}: core.StrategyGraphDense,

	{core.QueryTypeComplex, NoEntities}:   core.StrategyDenseSparse,
	{core.QueryTypeComplex, OneEntity}:    core.StrategyGraphDense,
	{core.QueryTypeComplex, ManyEntities}: core.StrategyComprehensive,

	{core.QueryTypeKeyword, NoEntities}:   core.StrategySparseOnly,
	{core.QueryTypeKeyword, OneEntity}:    core.StrategyDenseSparse,
	{core.QueryTypeKeyword, ManyEntities}: core.StrategyDenseSparse,
}

var providers = map[core.RetrievalStrategy][]core.SourceType{
	core.StrategyGraphOnly:     {core.SourceGraph},
	core.StrategyDenseOnly:     {core.SourceDense},
	core.StrategySparseOnly:    {core.SourceSparse},
	core.StrategyGraphDense:    {core.SourceGraph, core.SourceDense},
	core.StrategyDenseSparse:   {core.SourceDense, core.SourceSparse},
	core.StrategyComprehensive: {core.SourceGraph, core.SourceLiterature, core.SourceDense, core.SourceSparse},
}

// Decide maps a question's type and entity count to a strategy. It never
// fails: unknown shapes and a nil query get Default.
func Decide(query *core.ProcessedQuery) core.RetrievalStrategy {
	if query == nil {
		return Default
	}
	if s, ok := decisions[key{query.QueryType, BucketOf(len(query.Entities))}]; ok {
		return s
	}
	return Default
}

// Providers returns the sources a strategy queries, in call order.
// The returned slice is a copy.
func Providers(s core.RetrievalStrategy) ([]core.SourceType, error) {
	sources, ok := providers[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, s)
	}
	return append([]core.SourceType(nil), sources...), nil
}

// Maximal returns the strategy that queries every provider.
func Maximal() core.RetrievalStrategy {
	return core.StrategyComprehensive
}
