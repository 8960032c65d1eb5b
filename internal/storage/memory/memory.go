// Package memory provides in-memory storage implementations used by
// unit tests and local one-shot runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"dexscope/internal/model"
)

// Store implements the storage contracts with plain maps.
type Store struct {
	mu          sync.RWMutex
	cursors     map[string]uint64
	events      map[string]map[string]model.EventRow
	states      []model.ReferralState
	checkpoints map[uint64][]model.ReferralCheckpoint
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		cursors:     make(map[string]uint64),
		events:      make(map[string]map[string]model.EventRow),
		checkpoints: make(map[uint64][]model.ReferralCheckpoint),
	}
}

func rowKey(row model.EventRow) string {
	return fmt.Sprintf("%d:%s:%d", row.TxIndex, row.TxHash, row.LogIndex)
}

// Get returns the cursor for key.
func (s *Store) Get(_ context.Context, key string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[key]
	return block, ok, nil
}

// Set advances the cursor for key; it never moves backwards.
func (s *Store) Set(_ context.Context, key string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.cursors[key]; !ok || block > current {
		s.cursors[key] = block
	}
	return nil
}

// SaveBatch stores rows for a stream, merging on key collision.
func (s *Store) SaveBatch(_ context.Context, streamKey string, rows []model.EventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.events[streamKey]
	if !ok {
		stream = make(map[string]model.EventRow)
		s.events[streamKey] = stream
	}
	for _, row := range rows {
		key := rowKey(row)
		if existing, ok := stream[key]; ok {
			existing.Merge(row)
			stream[key] = existing
			continue
		}
		stream[key] = row
	}
	return nil
}

// DeleteAbove removes rows of a stream with block number > block.
func (s *Store) DeleteAbove(_ context.Context, streamKey string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.events[streamKey] {
		if row.BlockNumber > block {
			delete(s.events[streamKey], key)
		}
	}
	return nil
}

// Query returns rows of a stream within [fromBlock, toBlock], ordered.
func (s *Store) Query(_ context.Context, streamKey string, fromBlock, toBlock uint64) ([]model.EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]model.EventRow, 0)
	for _, row := range s.events[streamKey] {
		if row.BlockNumber >= fromBlock && row.BlockNumber <= toBlock {
			rows = append(rows, row)
		}
	}
	model.SortRows(rows)
	return rows, nil
}

// SaveStates appends referral snapshots.
func (s *Store) SaveStates(_ context.Context, states []model.ReferralState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, states...)
	return nil
}

// SaveCheckpoint appends a replay checkpoint.
func (s *Store) SaveCheckpoint(_ context.Context, chainID uint64, checkpoint model.ReferralCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[chainID] = append(s.checkpoints[chainID], checkpoint)
	return nil
}

// LoadCheckpoint returns the freshest checkpoint at or below the given block.
func (s *Store) LoadCheckpoint(_ context.Context, chainID uint64, atOrBelow uint64) (model.ReferralCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best model.ReferralCheckpoint
	found := false
	for _, cp := range s.checkpoints[chainID] {
		if cp.LastProcessedBlock > atOrBelow {
			continue
		}
		if !found || cp.LastProcessedBlock >= best.LastProcessedBlock {
			best = cp
			found = true
		}
	}
	return best, found, nil
}

// DeleteFrom removes snapshots and checkpoints written at or above the
// given replay cursor.
func (s *Store) DeleteFrom(_ context.Context, chainID uint64, lastProcessedBlock uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.states[:0]
	for _, state := range s.states {
		if state.ChainID == chainID && state.LastProcessedBlock >= lastProcessedBlock {
			continue
		}
		kept = append(kept, state)
	}
	s.states = kept

	keptCPs := s.checkpoints[chainID][:0]
	for _, cp := range s.checkpoints[chainID] {
		if cp.LastProcessedBlock >= lastProcessedBlock {
			continue
		}
		keptCPs = append(keptCPs, cp)
	}
	s.checkpoints[chainID] = keptCPs
	return nil
}

// TraderInfo returns the latest snapshot for a trader.
func (s *Store) TraderInfo(_ context.Context, chainID uint64, trader string) (model.ReferralState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best model.ReferralState
	found := false
	for _, state := range s.states {
		if state.ChainID != chainID || state.Trader != trader {
			continue
		}
		if !found || state.LastProcessedBlock > best.LastProcessedBlock ||
			(state.LastProcessedBlock == best.LastProcessedBlock && state.BlockNumber >= best.BlockNumber) {
			best = state
			found = true
		}
	}
	return best, found, nil
}

// ReferralsByOwner returns the latest snapshot of every trader whose
// bound code is owned by owner.
func (s *Store) ReferralsByOwner(ctx context.Context, chainID uint64, owner string) ([]model.ReferralState, error) {
	s.mu.RLock()
	traders := make(map[string]struct{})
	for _, state := range s.states {
		if state.ChainID == chainID {
			traders[state.Trader] = struct{}{}
		}
	}
	s.mu.RUnlock()

	out := make([]model.ReferralState, 0)
	for trader := range traders {
		state, ok, err := s.TraderInfo(ctx, chainID, trader)
		if err != nil {
			return nil, err
		}
		if ok && state.Owner == owner {
			out = append(out, state)
		}
	}
	return out, nil
}
