package fallback

import "errors"

var (
	ErrCollectorRequired = errors.New("evidence collector is required")
	ErrFuserRequired     = errors.New("evidence fuser is required")
	ErrInvalidThreshold  = errors.New("fallback threshold must be in [0,1]")
)
