package harvester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dexscope/internal/chain"
	"dexscope/internal/model"
	"dexscope/internal/storage"
)

// DefaultSaveChunkSize bounds how many rows go into one persistence call.
const DefaultSaveChunkSize = 1000

// Harvester pulls contract events and turns them into persisted rows.
type Harvester struct {
	chain   chain.Reader
	cursors storage.CursorStore
	events  storage.EventStore
	logger  *zap.Logger

	saveChunkSize int
	maxRetries    int
	retryBackoff  time.Duration
}

// New builds a Harvester with its dependencies.
func New(chainReader chain.Reader, cursors storage.CursorStore, events storage.EventStore, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		chain:         chainReader,
		cursors:       cursors,
		events:        events,
		logger:        logger,
		saveChunkSize: DefaultSaveChunkSize,
		maxRetries:    3,
		retryBackoff:  500 * time.Millisecond,
	}
}

// LatestBlock returns the chain head the harvester can target.
func (h *Harvester) LatestBlock(ctx context.Context) (uint64, error) {
	return h.chain.LatestBlockNumber(ctx)
}

// ProcessStream harvests spec's event stream up to spec.EndBlock and
// returns the rows persisted in this call. The stream cursor only
// advances past a stride once every chunk of that stride saved, so a
// failed call can be retried over the same range.
func (h *Harvester) ProcessStream(ctx context.Context, spec StreamSpec) ([]model.EventRow, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	log := h.logger.With(zap.String("stream", spec.Key))

	cursor, ok, err := h.cursors.Get(ctx, spec.Key)
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	if !ok {
		cursor = spec.StartBlock
		if err := h.cursors.Set(ctx, spec.Key, cursor); err != nil {
			return nil, fmt.Errorf("init cursor: %w", err)
		}
	}

	if cursor >= spec.EndBlock {
		log.Debug("nothing to harvest", zap.Uint64("cursor", cursor), zap.Uint64("end", spec.EndBlock))
		return nil, nil
	}

	// Anything above the committed cursor may be a partial write from a
	// crashed run; drop and refetch it.
	if !spec.SkipPreClear {
		if err := h.events.DeleteAbove(ctx, spec.Key, cursor); err != nil {
			if errors.Is(err, storage.ErrMissingSchema) {
				log.Warn("stream table not migrated, skipping", zap.Error(err))
				return nil, nil
			}
			return nil, fmt.Errorf("pre-clear: %w", err)
		}
	}

	segments, err := SplitByVersions(cursor+1, spec.EndBlock, spec.Versions)
	if err != nil {
		return nil, err
	}

	pool := pond.NewPool(spec.Concurrency)
	defer pool.StopAndWait()

	all := make([]model.EventRow, 0)
	for _, segment := range segments {
		rows, err := h.processSegment(ctx, pool, spec, segment, log)
		if err != nil {
			if errors.Is(err, storage.ErrMissingSchema) {
				log.Warn("stream table not migrated, skipping", zap.Error(err))
				return all, nil
			}
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

func (h *Harvester) processSegment(
	ctx context.Context,
	pool pond.Pool,
	spec StreamSpec,
	segment VersionedRange,
	log *zap.Logger,
) ([]model.EventRow, error) {
	event, ok := segment.Version.ABI.Events[spec.EventName]
	if !ok {
		return nil, fmt.Errorf("event %s not in contract abi", spec.EventName)
	}
	topic0 := event.ID
	address := segment.Version.Address

	stride := spec.BatchSize * uint64(spec.Concurrency)
	strides, err := SplitRange(segment.Range.From, segment.Range.To, stride)
	if err != nil {
		return nil, err
	}

	all := make([]model.EventRow, 0)
	for _, strideRange := range strides {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		subRanges, err := SplitRange(strideRange.From, strideRange.To, spec.BatchSize)
		if err != nil {
			return nil, err
		}

		log.Info("fetch stride",
			zap.Uint64("from", strideRange.From),
			zap.Uint64("to", strideRange.To),
			zap.Int("sub_ranges", len(subRanges)),
		)

		// Sub-ranges fetch concurrently into their own slots; mapping
		// starts only after the whole stride joined.
		results := make([][]ethtypes.Log, len(subRanges))
		group := pool.NewGroupContext(ctx)
		for i, sub := range subRanges {
			i, sub := i, sub
			group.SubmitErr(func() error {
				logs, err := h.chain.FilterLogs(ctx, sub.From, sub.To,
					[]common.Address{address}, []common.Hash{topic0})
				if err != nil {
					return fmt.Errorf("filter logs [%d, %d]: %w", sub.From, sub.To, err)
				}
				results[i] = logs
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			log.Error("stride fetch failed", zap.Error(err))
			return nil, err
		}

		rows, err := h.mapStride(ctx, spec, segment.Version, results, log)
		if err != nil {
			return nil, err
		}

		for start := 0; start < len(rows); start += h.saveChunkSize {
			end := start + h.saveChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := h.events.SaveBatch(ctx, spec.Key, rows[start:end]); err != nil {
				return nil, fmt.Errorf("save rows: %w", err)
			}
		}

		if err := h.cursors.Set(ctx, spec.Key, strideRange.To); err != nil {
			return nil, fmt.Errorf("advance cursor: %w", err)
		}

		log.Info("stride complete",
			zap.Int("rows", len(rows)),
			zap.Uint64("cursor", strideRange.To),
		)
		all = append(all, rows...)
	}
	return all, nil
}

func (h *Harvester) mapStride(
	ctx context.Context,
	spec StreamSpec,
	version ContractVersion,
	results [][]ethtypes.Log,
	log *zap.Logger,
) ([]model.EventRow, error) {
	events := make([]model.RawEvent, 0)
	for _, logs := range results {
		for _, rawLog := range logs {
			if rawLog.Removed {
				continue
			}
			event, err := decodeLog(version.ABI, spec.EventName, rawLog)
			if err != nil {
				return nil, fmt.Errorf("decode log %s/%d: %w", rawLog.TxHash.Hex(), rawLog.Index, err)
			}
			events = append(events, event)
		}
	}
	model.SortEvents(events)

	rows := make([]model.EventRow, 0, len(events))
	for _, event := range events {
		row, err := mapRow(spec, event)
		if err != nil {
			if errors.Is(err, ErrMissingReference) {
				log.Warn("skipping row with unresolved reference",
					zap.String("tx", event.TxHash),
					zap.Uint64("log_index", event.LogIndex),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}

		if spec.WithTimestamp {
			ts, err := h.blockTimestampWithRetry(ctx, event.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("block timestamp %d: %w", event.BlockNumber, err)
			}
			row.Timestamp = ts
		}

		rows = append(rows, row)
	}
	return rows, nil
}

func (h *Harvester) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := h.withRetry(ctx, "block_timestamp", func(ctx context.Context) error {
		var err error
		ts, err = h.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			h.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func validateSpec(spec StreamSpec) error {
	if spec.Key == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(spec.Versions) == 0 {
		return fmt.Errorf("at least one contract version is required")
	}
	if spec.EventName == "" {
		return fmt.Errorf("event name is required")
	}
	if spec.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if spec.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than zero")
	}
	if spec.EndBlock == 0 {
		return fmt.Errorf("end block is required")
	}
	return nil
}
