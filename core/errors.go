// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "errors"

// Domain errors
var (
	// ErrUnknownStrategy indicates a RetrievalStrategy tag outside the closed set.
	// This is a programming error and is the only failure the retrieval core
	// surfaces to its caller.
	ErrUnknownStrategy = errors.New("unknown retrieval strategy")

	// ErrUnknownSourceType indicates a SourceType tag outside the closed set.
	ErrUnknownSourceType = errors.New("unknown source type")

	// ErrNilQuery indicates a nil ProcessedQuery was handed to the core.
	ErrNilQuery = errors.New("processed query cannot be nil")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrInvalidUserMode indicates a UserMode outside doctor/patient.
	ErrInvalidUserMode = errors.New("invalid user mode")
)
