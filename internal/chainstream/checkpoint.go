package chainstream

import (
	"context"
	"errors"
)

// ErrNoCheckpointFound is returned by LoadLastHeight when no height has been
// persisted yet.
var ErrNoCheckpointFound = errors.New("no checkpoint found")

// CheckpointStorage persists the height of the last fully processed block so
// the stream resumes after that height across restarts.
type CheckpointStorage interface {
	// SaveLastHeight records the given height, overwriting any previous one.
	SaveLastHeight(ctx context.Context, height uint64) error

	// LoadLastHeight returns the most recently saved height, or
	// ErrNoCheckpointFound when nothing has been saved yet.
	LoadLastHeight(ctx context.Context) (uint64, error)
}

// nopCheckpoint is the default CheckpointStorage: nothing is persisted and
// the stream always starts at the current tip.
type nopCheckpoint struct{}

func (nopCheckpoint) SaveLastHeight(_ context.Context, _ uint64) error {
	return nil
}

func (nopCheckpoint) LoadLastHeight(_ context.Context) (uint64, error) {
	return 0, ErrNoCheckpointFound
}
