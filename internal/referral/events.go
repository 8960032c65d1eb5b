// Package referral replays the protocol's referral event log into
// point-in-time trader → code → tier snapshots.
package referral

import (
	"fmt"
	"sort"
	"strconv"

	"dexscope/internal/model"
)

// Kind enumerates the event kinds the state machine consumes.
type Kind int

const (
	KindRegisterCode Kind = iota
	KindSetTraderCode
	KindSetReferrerTier
	KindSetTier
)

func (k Kind) String() string {
	switch k {
	case KindRegisterCode:
		return "register_code"
	case KindSetTraderCode:
		return "set_trader_code"
	case KindSetReferrerTier:
		return "set_referrer_tier"
	case KindSetTier:
		return "set_tier"
	default:
		return "unknown"
	}
}

// Event is one referral domain event. Only the fields relevant to its
// kind are set.
type Event struct {
	Kind        Kind
	BlockNumber uint64
	TxIndex     uint64
	LogIndex    uint64
	Timestamp   uint64

	Code          string // register_code, set_trader_code
	Owner         string // register_code
	Trader        string // set_trader_code
	Referrer      string // set_referrer_tier
	TierID        uint64 // set_referrer_tier, set_tier
	TotalRebate   uint64 // set_tier
	DiscountShare uint64 // set_tier
}

// SortEvents merges events into one chronological sequence ordered by
// (block number, tx index, log index). Later events may retroactively
// affect rows emitted earlier in the same batch, so this order is
// applied before any state transition.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})
}

// EventFromRow converts a harvested event row back into a domain event.
func EventFromRow(kind Kind, row model.EventRow) (Event, error) {
	event := Event{
		Kind:        kind,
		BlockNumber: row.BlockNumber,
		TxIndex:     row.TxIndex,
		LogIndex:    row.LogIndex,
		Timestamp:   row.Timestamp,
	}

	var err error
	switch kind {
	case KindRegisterCode:
		if event.Code, err = fieldString(row, "code"); err != nil {
			return Event{}, err
		}
		if event.Owner, err = fieldString(row, "owner"); err != nil {
			return Event{}, err
		}
	case KindSetTraderCode:
		if event.Code, err = fieldString(row, "code"); err != nil {
			return Event{}, err
		}
		if event.Trader, err = fieldString(row, "trader"); err != nil {
			return Event{}, err
		}
	case KindSetReferrerTier:
		if event.Referrer, err = fieldString(row, "referrer"); err != nil {
			return Event{}, err
		}
		if event.TierID, err = fieldUint(row, "tier_id"); err != nil {
			return Event{}, err
		}
	case KindSetTier:
		if event.TierID, err = fieldUint(row, "tier_id"); err != nil {
			return Event{}, err
		}
		if event.TotalRebate, err = fieldUint(row, "total_rebate"); err != nil {
			return Event{}, err
		}
		if event.DiscountShare, err = fieldUint(row, "discount_share"); err != nil {
			return Event{}, err
		}
	default:
		return Event{}, fmt.Errorf("unknown event kind %d", kind)
	}
	return event, nil
}

func fieldString(row model.EventRow, name string) (string, error) {
	value, ok := row.Fields[name]
	if !ok {
		return "", fmt.Errorf("row %s/%d missing field %q", row.TxHash, row.LogIndex, name)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("row field %q is not a string (%T)", name, value)
	}
	return s, nil
}

func fieldUint(row model.EventRow, name string) (uint64, error) {
	value, ok := row.Fields[name]
	if !ok {
		return 0, fmt.Errorf("row %s/%d missing field %q", row.TxHash, row.LogIndex, name)
	}
	switch v := value.(type) {
	case int64:
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64:
		return uint64(v), nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("row field %q: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("row field %q is not numeric (%T)", name, value)
	}
}
