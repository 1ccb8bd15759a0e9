// Package provider defines the evidence provider contract and the injected
// set of provider handles the retrieval orchestrator draws from.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/medfuse/core"
)

// Provider retrieves evidence for a question from one knowledge source.
//
// Retrieve returns an empty slice, not an error, when nothing matches. An
// error means the source itself failed (network, timeout, closed index).
// Implementations must be safe for concurrent use.
type Provider interface {
	// Source identifies the evidence this provider produces.
	Source() core.SourceType

	// Retrieve returns at most topK pieces of evidence, best first.
	Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error)
}

// Handle pairs a provider with the top-k it is queried at.
type Handle struct {
	Provider Provider
	TopK     int
}

// Set holds the provider handles of a running process. It is built once at
// startup and shared read-only by every in-flight query.
type Set struct {
	mu       sync.RWMutex
	handles  map[core.SourceType]Handle
	defaultK int
	logger   *slog.Logger
}

// Option configures a Set.
type Option func(*Set) error

// WithLogger sets the logger used by the set.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Set) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithDefaultTopK sets the top-k used for providers registered without one.
func WithDefaultTopK(k int) Option {
	return func(s *Set) error {
		if k <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidTopK, k)
		}
		s.defaultK = k
		return nil
	}
}

// NewSet creates an empty provider set.
func NewSet(opts ...Option) (*Set, error) {
	s := &Set{
		handles:  make(map[core.SourceType]Handle),
		defaultK: 5,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "provider-set")
	return s, nil
}

// Register adds or replaces the provider for its source. A topK of 0 uses
// the set's default.
func (s *Set) Register(p Provider, topK int) error {
	if p == nil {
		return ErrProviderRequired
	}
	source := p.Source()
	if !source.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownSourceType, source)
	}
	if topK < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}
	if topK == 0 {
		topK = s.defaultK
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handles[source]; exists {
		s.logger.Info("replacing provider", "source", source)
	}
	s.handles[source] = Handle{Provider: p, TopK: topK}
	return nil
}

// Lookup returns the handle registered for source.
func (s *Set) Lookup(source core.SourceType) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[source]
	return h, ok
}

// Sources returns the registered sources in priority order.
func (s *Set) Sources() []core.SourceType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.SourceType
	for _, st := range core.SourceTypes {
		if _, ok := s.handles[st]; ok {
			out = append(out, st)
		}
	}
	return out
}
