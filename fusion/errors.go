package fusion

import "errors"

var (
	ErrInvalidWeight = errors.New("source weight must be in [0,1]")
	ErrInvalidRRFK   = errors.New("rrf k must be positive")
)
