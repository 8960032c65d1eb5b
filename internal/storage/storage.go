// Package storage defines the persistence contracts the harvester and
// referral replay depend on. Implementations live in the postgres and
// memory subpackages.
package storage

import (
	"context"
	"errors"

	"dexscope/internal/model"
)

// ErrMissingSchema is returned when a store's backing table has not
// been migrated for a deployment. The harvester treats the stream as
// disabled and skips it instead of failing the update cycle.
var ErrMissingSchema = errors.New("storage: schema not migrated")

// CursorStore persists the last processed block per named event stream.
// Set keeps cursors monotonically non-decreasing.
type CursorStore interface {
	Get(ctx context.Context, key string) (uint64, bool, error)
	Set(ctx context.Context, key string, block uint64) error
}

// EventStore persists decoded event rows per stream.
// (TxIndex, TxHash, LogIndex) is unique within a stream.
type EventStore interface {
	SaveBatch(ctx context.Context, streamKey string, rows []model.EventRow) error
	DeleteAbove(ctx context.Context, streamKey string, block uint64) error
	Query(ctx context.Context, streamKey string, fromBlock, toBlock uint64) ([]model.EventRow, error)
}

// ReferralStore persists referral snapshots and the replay checkpoints
// used to rebuild in-memory state at batch boundaries.
type ReferralStore interface {
	SaveStates(ctx context.Context, states []model.ReferralState) error

	// SaveCheckpoint persists the replay state reached at a batch end.
	SaveCheckpoint(ctx context.Context, chainID uint64, checkpoint model.ReferralCheckpoint) error

	// LoadCheckpoint returns the most recent checkpoint with
	// LastProcessedBlock at or below the given block. A zero-valued
	// checkpoint with found=false means replay starts from scratch.
	LoadCheckpoint(ctx context.Context, chainID uint64, atOrBelow uint64) (model.ReferralCheckpoint, bool, error)

	// DeleteFrom removes states and checkpoints written at or above the
	// given replay cursor, the pre-clear before a batch range is
	// reprocessed.
	DeleteFrom(ctx context.Context, chainID uint64, lastProcessedBlock uint64) error

	TraderInfo(ctx context.Context, chainID uint64, trader string) (model.ReferralState, bool, error)
	ReferralsByOwner(ctx context.Context, chainID uint64, owner string) ([]model.ReferralState, error)
}
