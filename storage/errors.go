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

package storage

import "errors"

var (
	// ErrNotFound indicates that no document or checkpoint exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a corrupt or unreadable record.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates a record shorter than its encoded lengths.
	ErrTruncatedData = errors.New("truncated data")

	// ErrInvalidCheckpoint indicates a checkpoint without a processor type.
	ErrInvalidCheckpoint = errors.New("checkpoint requires a processor type")

	// ErrEmptyVector indicates a similarity search without a query vector.
	ErrEmptyVector = errors.New("query vector is empty")

	// ErrDimensionMismatch marks stored vectors whose length differs from
	// the query vector. Such documents are skipped by similarity search.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
