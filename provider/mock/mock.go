// Package mock provides a configurable evidence provider for tests.
//
//	dense := mock.Returning(core.SourceDense, 0.3, 0.3, 0.3)
//	graph := mock.Failing(core.SourceGraph, errors.New("neo4j down"))
//	slow := mock.Slow(core.SourceLiterature, time.Second, 0.9)
//
// Every call builds fresh Evidence values, so weighted fusion can rescale
// them without touching earlier results.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
)

// MockProvider is a test double for provider.Provider.
type MockProvider struct {
	SourceType core.SourceType

	// RetrieveFunc is called by Retrieve if set. If nil, Retrieve returns no evidence.
	RetrieveFunc func(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error)

	mu        sync.Mutex
	callCount int
	lastTopK  int
}

var _ provider.Provider = (*MockProvider)(nil)

// New creates a provider for source that returns no evidence.
func New(source core.SourceType) *MockProvider {
	return &MockProvider{SourceType: source}
}

// Returning creates a provider that returns one evidence per confidence,
// in the given order, ignoring topK.
func Returning(source core.SourceType, confidences ...float64) *MockProvider {
	m := New(source)
	m.RetrieveFunc = func(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
		return Evidence(source, confidences...), nil
	}
	return m
}

// Failing creates a provider whose every call fails with err.
func Failing(source core.SourceType, err error) *MockProvider {
	m := New(source)
	m.RetrieveFunc = func(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
		return nil, err
	}
	return m
}

// Slow creates a provider that waits delay before answering like Returning.
// It gives up with the context's error if the context ends first.
func Slow(source core.SourceType, delay time.Duration, confidences ...float64) *MockProvider {
	m := New(source)
	m.RetrieveFunc = func(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
		select {
		case <-time.After(delay):
			return Evidence(source, confidences...), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m
}

// Evidence builds fresh evidence with distinct content for each confidence.
func Evidence(source core.SourceType, confidences ...float64) []*core.Evidence {
	out := make([]*core.Evidence, len(confidences))
	for i, c := range confidences {
		out[i] = core.NewEvidence(source, fmt.Sprintf("%s evidence %d", source, i), c,
			map[string]any{"rank": i})
	}
	return out
}

// Source returns the configured source type.
func (m *MockProvider) Source() core.SourceType {
	return m.SourceType
}

// Retrieve records the call and delegates to RetrieveFunc.
func (m *MockProvider) Retrieve(ctx context.Context, query *core.ProcessedQuery, topK int) ([]*core.Evidence, error) {
	m.mu.Lock()
	m.callCount++
	m.lastTopK = topK
	fn := m.RetrieveFunc
	m.mu.Unlock()

	if fn == nil {
		return []*core.Evidence{}, nil
	}
	return fn(ctx, query, topK)
}

// CallCount returns the number of Retrieve calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastTopK returns the topK of the most recent call.
func (m *MockProvider) LastTopK() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTopK
}

// Reset clears the call count.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.lastTopK = 0
}
