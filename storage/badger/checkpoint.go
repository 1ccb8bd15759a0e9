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

package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/storage"
)

// CheckpointRepository stores one progress marker per processor type.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{backend: backend}
}

// SaveCheckpoint stamps checkpoint.UpdatedAt and replaces any stored
// checkpoint of the same processor type.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if checkpoint == nil || checkpoint.ProcessorType == "" {
		return storage.ErrInvalidCheckpoint
	}
	checkpoint.UpdatedAt = time.Now().UTC()
	encoded := storage.MarshalCheckpoint(checkpoint)
	return r.update(func(tx *badger.Txn) error {
		return tx.Set(makeCheckpointKey(checkpoint.ProcessorType), encoded)
	})
}

// LoadCheckpoint returns nil, nil when processorType has no checkpoint.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error) {
	if processorType == "" {
		return nil, storage.ErrInvalidCheckpoint
	}
	var checkpoint *core.Checkpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeCheckpointKey(processorType))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp, err := storage.UnmarshalCheckpoint(val)
			if err != nil {
				return fmt.Errorf("checkpoint %q: %w", processorType, err)
			}
			checkpoint = cp
			return nil
		})
	}, false)
	return checkpoint, err
}

// DeleteCheckpoint forgets the progress of processorType. Deleting a missing
// checkpoint is not an error.
func (r *CheckpointRepository) DeleteCheckpoint(ctx context.Context, processorType string) error {
	if processorType == "" {
		return storage.ErrInvalidCheckpoint
	}
	return r.update(func(tx *badger.Txn) error {
		return tx.Delete(makeCheckpointKey(processorType))
	})
}

func (r *CheckpointRepository) update(fn func(tx *badger.Txn) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
