// Package reembed re-embeds every stored corpus document with a new or
// updated embedding model.
//
// This package supports batch processing, concurrent batch workers, progress
// tracking, retry logic with exponential backoff, and vector normalization to
// ensure compatibility with cosine similarity search.
package reembed
