package mock

import (
	"sync/atomic"

	"github.com/poiesic/medfuse/ai"
)

// MockProvider bundles a MockEmbedder and a MockEntityExtractor. The fields
// are exported so tests can swap behavior after the provider is handed to
// the code under test.
type MockProvider struct {
	Embeddings *MockEmbedder
	Entities   *MockEntityExtractor

	// CloseErr is returned by Close.
	CloseErr error

	closes atomic.Int32
}

var _ ai.AIProvider = (*MockProvider)(nil)

// NewMockProvider creates a provider with default mock services.
func NewMockProvider() *MockProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockEntityExtractor())
}

// NewMockProviderWithServices creates a provider over the given mocks. A nil
// service is replaced by a default one.
func NewMockProviderWithServices(embedder *MockEmbedder, extractor *MockEntityExtractor) *MockProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if extractor == nil {
		extractor = NewMockEntityExtractor()
	}
	return &MockProvider{Embeddings: embedder, Entities: extractor}
}

func (p *MockProvider) Embedder() ai.Embedder {
	return p.Embeddings
}

func (p *MockProvider) EntityExtractor() ai.EntityExtractor {
	return p.Entities
}

// Close records the call and returns CloseErr.
func (p *MockProvider) Close() error {
	p.closes.Add(1)
	return p.CloseErr
}

// Closed reports how many times Close was called.
func (p *MockProvider) Closed() int {
	return int(p.closes.Load())
}
