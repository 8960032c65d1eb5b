package model

import "sort"

// RawEvent is a decoded contract event as returned by the chain client.
// ReturnValues holds the ABI-decoded arguments keyed by name.
type RawEvent struct {
	BlockNumber  uint64                 `json:"block_number"`
	TxIndex      uint64                 `json:"tx_index"`
	TxHash       string                 `json:"tx_hash"`
	LogIndex     uint64                 `json:"log_index"`
	Address      string                 `json:"address"`
	EventName    string                 `json:"event_name"`
	ReturnValues map[string]interface{} `json:"return_values"`
}

// Before reports whether e precedes other in chain order.
func (e RawEvent) Before(other RawEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	if e.TxIndex != other.TxIndex {
		return e.TxIndex < other.TxIndex
	}
	return e.LogIndex < other.LogIndex
}

// SortEvents orders events by (block number, tx index, log index).
func SortEvents(events []RawEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}

// EventRow is the persisted projection of a RawEvent for one stream.
// (TxIndex, TxHash, LogIndex) is unique per stream.
type EventRow struct {
	BlockchainType string                 `json:"blockchain_type"`
	ExchangeID     string                 `json:"exchange_id"`
	BlockNumber    uint64                 `json:"block_number"`
	TxIndex        uint64                 `json:"tx_index"`
	TxHash         string                 `json:"tx_hash"`
	LogIndex       uint64                 `json:"log_index"`
	Timestamp      uint64                 `json:"timestamp,omitempty"`
	Fields         map[string]interface{} `json:"fields"`
}

// Merge copies non-key fields from other into the row. Used when a save
// hits an existing row for the same (tx index, tx hash, log index).
func (r *EventRow) Merge(other EventRow) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{}, len(other.Fields))
	}
	for k, v := range other.Fields {
		r.Fields[k] = v
	}
	if other.Timestamp != 0 {
		r.Timestamp = other.Timestamp
	}
}

// SortRows orders rows by (block number, tx index, log index).
func SortRows(rows []EventRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})
}
