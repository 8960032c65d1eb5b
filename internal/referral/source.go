package referral

import (
	"context"
	"fmt"

	"dexscope/internal/storage"
)

// StreamSource reads the referral event kinds from the harvester's
// persisted streams and merges them into one log.
type StreamSource struct {
	events  storage.EventStore
	streams map[Kind]string
}

// NewStreamSource maps each event kind to the stream key the harvester
// persisted it under.
func NewStreamSource(events storage.EventStore, streams map[Kind]string) *StreamSource {
	return &StreamSource{events: events, streams: streams}
}

// Events returns all referral events within [fromBlock, toBlock].
// The caller is responsible for chronological ordering.
func (s *StreamSource) Events(ctx context.Context, fromBlock, toBlock uint64) ([]Event, error) {
	out := make([]Event, 0)
	for kind, streamKey := range s.streams {
		rows, err := s.events.Query(ctx, streamKey, fromBlock, toBlock)
		if err != nil {
			return nil, fmt.Errorf("query stream %s: %w", streamKey, err)
		}
		for _, row := range rows {
			event, err := EventFromRow(kind, row)
			if err != nil {
				return nil, fmt.Errorf("stream %s: %w", streamKey, err)
			}
			out = append(out, event)
		}
	}
	return out, nil
}
