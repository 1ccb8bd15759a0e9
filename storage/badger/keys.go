package badger

import (
	"encoding/binary"

	"github.com/poiesic/medfuse/core"
)

// Key prefixes for different data types
const (
	documentPrefix   = "doc:"
	checkpointPrefix = "chk:"
)

// makeDocumentKey generates a key for a document by ID.
// Format: prefix + 8 byte BigEndian ID, so iteration follows ID order.
func makeDocumentKey(id core.ID) []byte {
	buf := make([]byte, len(documentPrefix)+8)
	offset := copy(buf, documentPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeCheckpointKey generates a key for processor checkpoints.
func makeCheckpointKey(processorType string) []byte {
	return []byte(checkpointPrefix + processorType)
}
