// Package ingestion loads corpus documents into storage.
//
// The Pipeline type manages the ingestion workflow for documents:
//   - Adding documents to storage
//   - Generating embeddings asynchronously, in batches
//   - Recording a checkpoint after every embedded batch
//
// Embedding runs on a worker pool. Errors during async processing are logged
// but do not fail the ingestion operation; Wait blocks until queued work is done.
package ingestion
