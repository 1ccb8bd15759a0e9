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

// Package storage provides the storage abstraction layer for medfuse.
//
// This package defines repository interfaces that decouple the corpus store
// from the evidence providers that read it. The dense and sparse providers
// both rank documents from the same DocumentRepository, so a document keeps
// one identity across both rankings.
//
// # Architecture
//
//   - Repository: transaction and lifecycle operations
//   - DocumentRepository: corpus documents, vectors and similarity scan
//   - CheckpointRepository: progress markers for ingestion and re-embedding
//
// # Usage
//
// Open a badger-backed repository:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	docs, err := badger.NewDocumentRepository(backend)
//
// Use in tests with in-memory storage:
//
//	docs, checkpoints, backend, err := badger.NewMemoryRepositories()
//
// # Serialization
//
// Records are encoded with mus-go serializers (see codec.go). Fields are
// written positionally, so appending a field requires re-ingesting the corpus.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
