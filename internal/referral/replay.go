package referral

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dexscope/internal/model"
	"dexscope/internal/storage"
)

// DefaultBatchSize is the replay stride in blocks. Replaying the full
// history in fixed-size batches bounds memory and transaction size.
const DefaultBatchSize = 300_000

// Source yields the merged referral event log for a block range.
type Source interface {
	Events(ctx context.Context, fromBlock, toBlock uint64) ([]Event, error)
}

// Replayer rebuilds referral state by replaying the event log from
// persisted checkpoints.
type Replayer struct {
	source  Source
	store   storage.ReferralStore
	cursors storage.CursorStore
	logger  *zap.Logger

	chainID   uint64
	cursorKey string
}

// NewReplayer builds a replayer for one deployment.
func NewReplayer(source Source, store storage.ReferralStore, cursors storage.CursorStore, chainID uint64, cursorKey string, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		source:    source,
		store:     store,
		cursors:   cursors,
		logger:    logger,
		chainID:   chainID,
		cursorKey: cursorKey,
	}
}

// replayState is the in-memory state rebuilt at each batch boundary.
type replayState struct {
	codes         map[string]*model.CodeState
	tiers         map[uint64]model.TierDef
	referrerTiers map[string]uint64
}

func newReplayState(checkpoint model.ReferralCheckpoint) *replayState {
	state := &replayState{
		codes:         make(map[string]*model.CodeState),
		tiers:         make(map[uint64]model.TierDef),
		referrerTiers: make(map[string]uint64),
	}
	for _, code := range checkpoint.Codes {
		c := code
		state.codes[c.Code] = &c
	}
	for _, tier := range checkpoint.Tiers {
		state.tiers[tier.TierID] = tier
	}
	for _, rt := range checkpoint.ReferrerTiers {
		state.referrerTiers[rt.Referrer] = rt.TierID
	}
	return state
}

func (s *replayState) checkpoint(lastProcessedBlock uint64) model.ReferralCheckpoint {
	cp := model.ReferralCheckpoint{LastProcessedBlock: lastProcessedBlock}
	for _, code := range s.codes {
		c := *code
		c.LastProcessedBlock = lastProcessedBlock
		cp.Codes = append(cp.Codes, c)
	}
	for _, tier := range s.tiers {
		cp.Tiers = append(cp.Tiers, tier)
	}
	for referrer, tierID := range s.referrerTiers {
		cp.ReferrerTiers = append(cp.ReferrerTiers, model.ReferrerTier{Referrer: referrer, TierID: tierID})
	}
	return cp
}

// binding records one set_trader_code application. The owner is frozen
// at bind time; tier values resolve against the final per-code state of
// the batch in the emit phase.
type binding struct {
	trader      string
	code        string
	owner       string
	blockNumber uint64
	timestamp   uint64
}

// Replay processes [batchStart, batchEnd] and persists the resulting
// referral snapshots and the batch-end checkpoint. Replaying the same
// log yields the same final mapping regardless of how batch boundaries
// are chosen.
func (r *Replayer) Replay(ctx context.Context, batchStart, batchEnd uint64) error {
	if batchEnd < batchStart {
		return fmt.Errorf("batch end %d before batch start %d", batchEnd, batchStart)
	}

	log := r.logger.With(
		zap.Uint64("chain_id", r.chainID),
		zap.Uint64("batch_start", batchStart),
		zap.Uint64("batch_end", batchEnd),
	)

	// Reprocessing a range discards anything a crashed run may have
	// written for it.
	if err := r.store.DeleteFrom(ctx, r.chainID, batchStart); err != nil {
		return fmt.Errorf("pre-clear referral states: %w", err)
	}

	checkpoint, found, err := r.store.LoadCheckpoint(ctx, r.chainID, batchStart)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	state := newReplayState(checkpoint)
	if found {
		log.Debug("resumed from checkpoint", zap.Uint64("checkpoint_block", checkpoint.LastProcessedBlock))
	}

	events, err := r.source.Events(ctx, batchStart, batchEnd)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	SortEvents(events)

	// Phase one: run every transition to its end state, recording
	// trader bindings on the way.
	bindings := make([]binding, 0)
	for _, event := range events {
		if b, ok := state.apply(event, log); ok {
			bindings = append(bindings, b)
		}
	}

	// Phase two: emit rows from the resolved state. A code's tier
	// values may have changed after the bind; emitting from the final
	// state gives the same result as retroactively patching rows.
	rows := make([]model.ReferralState, 0, len(bindings))
	for _, b := range bindings {
		code, ok := state.codes[b.code]
		if !ok {
			continue
		}
		rows = append(rows, model.ReferralState{
			Trader:             b.trader,
			ChainID:            r.chainID,
			Code:               b.code,
			Owner:              b.owner,
			TierID:             code.TierID,
			TotalRebate:        code.TotalRebate,
			DiscountShare:      code.DiscountShare,
			BlockNumber:        b.blockNumber,
			Timestamp:          b.timestamp,
			LastProcessedBlock: batchEnd,
		})
	}

	for start := 0; start < len(rows); start += DefaultSaveChunkSize {
		end := start + DefaultSaveChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.store.SaveStates(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("save referral states: %w", err)
		}
	}

	if err := r.store.SaveCheckpoint(ctx, r.chainID, state.checkpoint(batchEnd)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	// The cursor advances even when no rows were emitted.
	if err := r.cursors.Set(ctx, r.cursorKey, batchEnd); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	log.Info("replay batch complete", zap.Int("events", len(events)), zap.Int("rows", len(rows)))
	return nil
}

// DefaultSaveChunkSize bounds rows per persistence call.
const DefaultSaveChunkSize = 1000

// apply advances the state by one event. It returns a binding when the
// event bound a trader to a known code.
func (s *replayState) apply(event Event, log *zap.Logger) (binding, bool) {
	switch event.Kind {
	case KindRegisterCode:
		tierID := s.referrerTiers[event.Owner]
		tier := s.tiers[tierID]
		if existing, ok := s.codes[event.Code]; ok {
			// Re-registration claims ownership; tier state follows the
			// new owner.
			existing.Owner = event.Owner
			existing.TierID = tierID
			existing.TotalRebate = tier.TotalRebate
			existing.DiscountShare = tier.DiscountShare
			return binding{}, false
		}
		s.codes[event.Code] = &model.CodeState{
			Code:          event.Code,
			Owner:         event.Owner,
			TierID:        tierID,
			TotalRebate:   tier.TotalRebate,
			DiscountShare: tier.DiscountShare,
		}

	case KindSetTraderCode:
		code, ok := s.codes[event.Code]
		if !ok {
			log.Warn("trader bound to unknown code",
				zap.String("trader", event.Trader),
				zap.String("code", event.Code),
				zap.Uint64("block", event.BlockNumber),
			)
			return binding{}, false
		}
		return binding{
			trader:      event.Trader,
			code:        event.Code,
			owner:       code.Owner,
			blockNumber: event.BlockNumber,
			timestamp:   event.Timestamp,
		}, true

	case KindSetReferrerTier:
		s.referrerTiers[event.Referrer] = event.TierID
		tier := s.tiers[event.TierID]
		for _, code := range s.codes {
			if code.Owner == event.Referrer {
				code.TierID = event.TierID
				code.TotalRebate = tier.TotalRebate
				code.DiscountShare = tier.DiscountShare
			}
		}

	case KindSetTier:
		s.tiers[event.TierID] = model.TierDef{
			TierID:        event.TierID,
			TotalRebate:   event.TotalRebate,
			DiscountShare: event.DiscountShare,
		}
		for _, code := range s.codes {
			if code.TierID == event.TierID {
				code.TotalRebate = event.TotalRebate
				code.DiscountShare = event.DiscountShare
			}
		}
	}
	return binding{}, false
}

// TraderInfo returns the latest persisted snapshot for a trader.
func (r *Replayer) TraderInfo(ctx context.Context, trader string) (model.ReferralState, bool, error) {
	return r.store.TraderInfo(ctx, r.chainID, trader)
}

// ReferralsByOwner returns the latest snapshot of every trader bound to
// a code owned by owner.
func (r *Replayer) ReferralsByOwner(ctx context.Context, owner string) ([]model.ReferralState, error) {
	return r.store.ReferralsByOwner(ctx, r.chainID, owner)
}
