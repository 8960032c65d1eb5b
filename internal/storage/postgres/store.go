// Package postgres implements the storage contracts on pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dexscope/internal/model"
)

// Store provides Postgres persistence for cursors, event rows, and
// referral state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects a store to the given DSN.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Get returns the cursor for key.
func (s *Store) Get(ctx context.Context, key string) (uint64, bool, error) {
	if key == "" {
		return 0, false, fmt.Errorf("cursor key required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT block FROM cursors WHERE stream_key=$1`, key)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// Set advances the cursor for key; GREATEST keeps it non-decreasing.
func (s *Store) Set(ctx context.Context, key string, block uint64) error {
	if key == "" {
		return fmt.Errorf("cursor key required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cursors (stream_key, block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_key) DO UPDATE
		SET block = GREATEST(cursors.block, EXCLUDED.block), updated_at = now()
	`, key, int64(block))
	return err
}

// SaveBatch inserts rows for a stream. A duplicate-key violation makes
// it fall back to row-by-row saves that merge into the existing row.
func (s *Store) SaveBatch(ctx context.Context, streamKey string, rows []model.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		batch.Queue(`
			INSERT INTO event_rows (
				stream_key, blockchain_type, exchange_id, block_number,
				tx_index, tx_hash, log_index, ts, fields, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		`,
			streamKey,
			row.BlockchainType,
			row.ExchangeID,
			int64(row.BlockNumber),
			int64(row.TxIndex),
			row.TxHash,
			int64(row.LogIndex),
			int64(row.Timestamp),
			fields,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	var execErr error
	for range rows {
		if _, err := br.Exec(); err != nil && execErr == nil {
			execErr = err
		}
	}
	if closeErr := br.Close(); execErr == nil {
		execErr = closeErr
	}
	if execErr == nil {
		return nil
	}
	if !IsDuplicateKey(execErr) {
		return classify(execErr)
	}
	return s.saveRowsMerging(ctx, streamKey, rows)
}

func (s *Store) saveRowsMerging(ctx context.Context, streamKey string, rows []model.EventRow) error {
	for _, row := range rows {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO event_rows (
				stream_key, blockchain_type, exchange_id, block_number,
				tx_index, tx_hash, log_index, ts, fields, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (stream_key, tx_index, tx_hash, log_index) DO UPDATE
			SET fields = event_rows.fields || EXCLUDED.fields,
			    ts = CASE WHEN EXCLUDED.ts > 0 THEN EXCLUDED.ts ELSE event_rows.ts END
		`,
			streamKey,
			row.BlockchainType,
			row.ExchangeID,
			int64(row.BlockNumber),
			int64(row.TxIndex),
			row.TxHash,
			int64(row.LogIndex),
			int64(row.Timestamp),
			fields,
		)
		if err != nil {
			return fmt.Errorf("merge row %s/%d/%d: %w", row.TxHash, row.TxIndex, row.LogIndex, err)
		}
	}
	return nil
}

// DeleteAbove removes rows of a stream with block number > block.
func (s *Store) DeleteAbove(ctx context.Context, streamKey string, block uint64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM event_rows WHERE stream_key=$1 AND block_number > $2`,
		streamKey, int64(block))
	return classify(err)
}

// Query returns rows of a stream within [fromBlock, toBlock] in chain order.
func (s *Store) Query(ctx context.Context, streamKey string, fromBlock, toBlock uint64) ([]model.EventRow, error) {
	dbRows, err := s.pool.Query(ctx, `
		SELECT blockchain_type, exchange_id, block_number, tx_index, tx_hash, log_index, ts, fields
		FROM event_rows
		WHERE stream_key=$1 AND block_number BETWEEN $2 AND $3
		ORDER BY block_number, tx_index, log_index
	`, streamKey, int64(fromBlock), int64(toBlock))
	if err != nil {
		return nil, classify(err)
	}
	defer dbRows.Close()

	rows := make([]model.EventRow, 0)
	for dbRows.Next() {
		var row model.EventRow
		var blockNumber, txIndex, logIndex, ts int64
		var fields []byte
		if err := dbRows.Scan(&row.BlockchainType, &row.ExchangeID, &blockNumber, &txIndex, &row.TxHash, &logIndex, &ts, &fields); err != nil {
			return nil, err
		}
		row.BlockNumber = uint64(blockNumber)
		row.TxIndex = uint64(txIndex)
		row.LogIndex = uint64(logIndex)
		row.Timestamp = uint64(ts)
		if err := json.Unmarshal(fields, &row.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, dbRows.Err()
}

// SaveStates persists referral snapshots.
func (s *Store) SaveStates(ctx context.Context, states []model.ReferralState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, state := range states {
		batch.Queue(`
			INSERT INTO referral_states (
				trader, chain_id, code, owner, tier_id, total_rebate,
				discount_share, block_number, ts, last_processed_block, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
			ON CONFLICT (trader, chain_id, last_processed_block) DO UPDATE
			SET code = EXCLUDED.code,
			    owner = EXCLUDED.owner,
			    tier_id = EXCLUDED.tier_id,
			    total_rebate = EXCLUDED.total_rebate,
			    discount_share = EXCLUDED.discount_share,
			    block_number = EXCLUDED.block_number,
			    ts = EXCLUDED.ts
		`,
			state.Trader,
			int64(state.ChainID),
			state.Code,
			state.Owner,
			int64(state.TierID),
			int64(state.TotalRebate),
			int64(state.DiscountShare),
			int64(state.BlockNumber),
			int64(state.Timestamp),
			int64(state.LastProcessedBlock),
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range states {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// SaveCheckpoint persists the replay state reached at a batch end.
func (s *Store) SaveCheckpoint(ctx context.Context, chainID uint64, checkpoint model.ReferralCheckpoint) error {
	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO referral_checkpoints (chain_id, last_processed_block, payload, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (chain_id, last_processed_block) DO UPDATE
		SET payload = EXCLUDED.payload
	`, int64(chainID), int64(checkpoint.LastProcessedBlock), payload)
	return err
}

// LoadCheckpoint returns the freshest checkpoint at or below the given block.
func (s *Store) LoadCheckpoint(ctx context.Context, chainID uint64, atOrBelow uint64) (model.ReferralCheckpoint, bool, error) {
	var payload []byte
	row := s.pool.QueryRow(ctx, `
		SELECT payload FROM referral_checkpoints
		WHERE chain_id=$1 AND last_processed_block <= $2
		ORDER BY last_processed_block DESC
		LIMIT 1
	`, int64(chainID), int64(atOrBelow))
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReferralCheckpoint{}, false, nil
		}
		return model.ReferralCheckpoint{}, false, err
	}
	var checkpoint model.ReferralCheckpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return model.ReferralCheckpoint{}, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return checkpoint, true, nil
}

// DeleteFrom removes snapshots and checkpoints at or above the replay cursor.
func (s *Store) DeleteFrom(ctx context.Context, chainID uint64, lastProcessedBlock uint64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM referral_states WHERE chain_id=$1 AND last_processed_block >= $2`,
		int64(chainID), int64(lastProcessedBlock)); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM referral_checkpoints WHERE chain_id=$1 AND last_processed_block >= $2`,
		int64(chainID), int64(lastProcessedBlock))
	return err
}

// TraderInfo returns the latest snapshot for a trader.
func (s *Store) TraderInfo(ctx context.Context, chainID uint64, trader string) (model.ReferralState, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT trader, chain_id, code, owner, tier_id, total_rebate,
		       discount_share, block_number, ts, last_processed_block
		FROM referral_states
		WHERE chain_id=$1 AND trader=$2
		ORDER BY last_processed_block DESC, block_number DESC
		LIMIT 1
	`, int64(chainID), trader)

	state, err := scanReferralState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ReferralState{}, false, nil
		}
		return model.ReferralState{}, false, err
	}
	return state, true, nil
}

// ReferralsByOwner returns the latest snapshot of every trader whose
// bound code is owned by owner.
func (s *Store) ReferralsByOwner(ctx context.Context, chainID uint64, owner string) ([]model.ReferralState, error) {
	dbRows, err := s.pool.Query(ctx, `
		SELECT trader, chain_id, code, owner, tier_id, total_rebate,
		       discount_share, block_number, ts, last_processed_block
		FROM (
			SELECT DISTINCT ON (trader)
				trader, chain_id, code, owner, tier_id, total_rebate,
				discount_share, block_number, ts, last_processed_block
			FROM referral_states
			WHERE chain_id=$1
			ORDER BY trader, last_processed_block DESC, block_number DESC
		) latest
		WHERE owner=$2
	`, int64(chainID), owner)
	if err != nil {
		return nil, err
	}
	defer dbRows.Close()

	out := make([]model.ReferralState, 0)
	for dbRows.Next() {
		state, err := scanReferralState(dbRows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, dbRows.Err()
}

func scanReferralState(row pgx.Row) (model.ReferralState, error) {
	var state model.ReferralState
	var chainID, tierID, rebate, share, blockNumber, ts, lastBlock int64
	if err := row.Scan(&state.Trader, &chainID, &state.Code, &state.Owner,
		&tierID, &rebate, &share, &blockNumber, &ts, &lastBlock); err != nil {
		return model.ReferralState{}, err
	}
	state.ChainID = uint64(chainID)
	state.TierID = uint64(tierID)
	state.TotalRebate = uint64(rebate)
	state.DiscountShare = uint64(share)
	state.BlockNumber = uint64(blockNumber)
	state.Timestamp = uint64(ts)
	state.LastProcessedBlock = uint64(lastBlock)
	return state, nil
}
