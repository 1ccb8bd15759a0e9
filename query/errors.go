package query

import "errors"

var ErrEmptyQuestion = errors.New("question is empty")
