package retrieval

import (
	"errors"
	"fmt"

	"github.com/poiesic/medfuse/core"
)

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderMissing     = errors.New("no provider registered")
	ErrProviderPanic       = errors.New("provider panicked")
	ErrProviderSetRequired = errors.New("provider set is required")
)

// ProviderError records why one provider contributed no evidence. It matches
// both ErrProviderUnavailable and its cause with errors.Is.
type ProviderError struct {
	Source core.SourceType
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider unavailable: %v", e.Source, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}
