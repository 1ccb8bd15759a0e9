package retrieval

import (
	"time"

	"github.com/poiesic/medfuse/core"
)

// Monitor provides hooks to observe retrieval. Implementations must be safe
// for concurrent use: provider hooks fire from worker goroutines.
type Monitor interface {
	StrategyDecided(query *core.ProcessedQuery, strategy core.RetrievalStrategy)
	ProviderSucceeded(source core.SourceType, evidences int, elapsed time.Duration)
	ProviderFailed(err *ProviderError)
	Collected(strategy core.RetrievalStrategy, evidences []*core.Evidence)
	Fused(strategy core.RetrievalStrategy, fused *core.FusedEvidence)
	FallbackApplied(provenance core.Provenance)
	FallbackExhausted(fused *core.FusedEvidence)
	FallbackSkipped(reason string)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

// NoopMonitor returns a Monitor that ignores every event.
func NoopMonitor() Monitor { return &noopMonitor{} }

func (n *noopMonitor) StrategyDecided(_ *core.ProcessedQuery, _ core.RetrievalStrategy) {}
func (n *noopMonitor) ProviderSucceeded(_ core.SourceType, _ int, _ time.Duration)      {}
func (n *noopMonitor) ProviderFailed(_ *ProviderError)                                  {}
func (n *noopMonitor) Collected(_ core.RetrievalStrategy, _ []*core.Evidence)          {}
func (n *noopMonitor) Fused(_ core.RetrievalStrategy, _ *core.FusedEvidence)           {}
func (n *noopMonitor) FallbackApplied(_ core.Provenance)                               {}
func (n *noopMonitor) FallbackExhausted(_ *core.FusedEvidence)                         {}
func (n *noopMonitor) FallbackSkipped(_ string)                                        {}
