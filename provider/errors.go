package provider

import "errors"

var (
	// ErrProviderRequired is returned when a nil provider is registered.
	ErrProviderRequired = errors.New("provider required")

	// ErrInvalidTopK is returned for a negative or zero top-k.
	ErrInvalidTopK = errors.New("top-k must be positive")
)
