// Package harvester fetches contract events for bounded block ranges
// with bounded concurrency, maps them through declarative field rules,
// persists them idempotently, and advances a resumable per-stream cursor.
package harvester

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dexscope/internal/model"
	"dexscope/internal/registry"
)

// ContractVersion is one time-boxed deployment of a contract.
// TerminatesAt == 0 marks the open-ended current version.
type ContractVersion struct {
	Address      common.Address
	ABI          abi.ABI
	TerminatesAt uint64
}

// FieldKind selects how a return value is copied onto the row.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBigNumber
	FieldBool
)

// FieldMapping copies one event argument onto a row field.
type FieldMapping struct {
	Kind FieldKind
	From string
	To   string
}

// Constant injects a fixed value into every row of the stream.
type Constant struct {
	To    string
	Value interface{}
}

// TokenRelation resolves an address argument against the token
// dictionary and writes the token's address/symbol/decimals onto the
// row under the To prefix.
type TokenRelation struct {
	From string
	To   string
}

// PairRelation resolves two address arguments against the pair
// dictionary and writes the pair id onto the row.
type PairRelation struct {
	FromToken0 string
	FromToken1 string
	To         string
}

// TransformContext is the fixed context handed to transform stages.
type TransformContext struct {
	BlockchainType string
	ExchangeID     string
	Tokens         *registry.TokenDictionary
	Pairs          *registry.PairDictionary
	CustomData     map[string]interface{}
}

// TransformStage is one step of the ordered mapping pipeline. Stages
// receive the accumulating row and return the replacement row.
type TransformStage func(row model.EventRow, event model.RawEvent, tctx TransformContext) (model.EventRow, error)

// StreamSpec describes one event stream of a deployment.
type StreamSpec struct {
	Key            string
	BlockchainType string
	ExchangeID     string
	EventName      string
	Versions       []ContractVersion

	EndBlock    uint64
	StartBlock  uint64
	BatchSize   uint64
	Concurrency int

	// SkipPreClear suppresses the delete-above-cursor pass that guards
	// against partially written strides after a crash.
	SkipPreClear  bool
	WithTimestamp bool

	Mappings       []FieldMapping
	Constants      []Constant
	TokenRelations []TokenRelation
	PairRelations  []PairRelation
	Transforms     []TransformStage

	Tokens     *registry.TokenDictionary
	Pairs      *registry.PairDictionary
	CustomData map[string]interface{}
}

func (s StreamSpec) transformContext() TransformContext {
	return TransformContext{
		BlockchainType: s.BlockchainType,
		ExchangeID:     s.ExchangeID,
		Tokens:         s.Tokens,
		Pairs:          s.Pairs,
		CustomData:     s.CustomData,
	}
}
