package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Dialect selects the on-chain aggregate call encoding.
type Dialect string

const (
	// DialectStructArray encodes calls as a (target, callData) tuple array.
	DialectStructArray Dialect = "struct"
	// DialectPositional encodes calls as parallel address[]/bytes[] arrays.
	DialectPositional Dialect = "positional"

	// DefaultChunkSize bounds how many calls go into one aggregate round trip.
	DefaultChunkSize = 100
)

// GasAddress is the pseudo-address protocols use for the chain's native
// token. It has no contract behind it, so it can never be read through
// the multicall contract; callers serve its metadata from deployment
// configuration instead.
var GasAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const structMulticallABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"internalType": "address", "name": "target", "type": "address"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"}
        ],
        "internalType": "struct Multicall.Call[]",
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "aggregate",
    "outputs": [
      {"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
      {"internalType": "bytes[]", "name": "returnData", "type": "bytes[]"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const positionalMulticallABIJSON = `[
  {
    "inputs": [
      {"internalType": "address[]", "name": "targets", "type": "address[]"},
      {"internalType": "bytes[]", "name": "data", "type": "bytes[]"}
    ],
    "name": "aggregate",
    "outputs": [
      {"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
      {"internalType": "bytes[]", "name": "returnData", "type": "bytes[]"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	structABI         abi.ABI
	positionalABI     abi.ABI
	multicallABIOnce  sync.Once
	multicallABIError error
)

func multicallABIs() (abi.ABI, abi.ABI, error) {
	multicallABIOnce.Do(func() {
		structABI, multicallABIError = abi.JSON(strings.NewReader(structMulticallABIJSON))
		if multicallABIError != nil {
			return
		}
		positionalABI, multicallABIError = abi.JSON(strings.NewReader(positionalMulticallABIJSON))
	})
	return structABI, positionalABI, multicallABIError
}

type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// MulticallReader aggregates many read-only contract calls into single
// round trips against a deployed multicall contract.
type MulticallReader struct {
	chain     Reader
	address   common.Address
	dialect   Dialect
	chunkSize int
	logger    *zap.Logger
}

// NewMulticallReader builds a reader for the multicall contract at address.
func NewMulticallReader(chainReader Reader, address common.Address, dialect Dialect, chunkSize int, logger *zap.Logger) *MulticallReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MulticallReader{
		chain:     chainReader,
		address:   address,
		dialect:   dialect,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// ReadMany calls method (with identical args) on every address and
// returns the unpacked results in input order. The gas pseudo-address
// yields a nil result slot; its metadata comes from configuration, not
// from chain.
func (m *MulticallReader) ReadMany(
	ctx context.Context,
	addresses []common.Address,
	contractABI abi.ABI,
	method string,
	args ...interface{},
) ([][]interface{}, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	callData, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	results := make([][]interface{}, len(addresses))

	// Chunk positions, skipping the gas pseudo-address.
	positions := make([]int, 0, len(addresses))
	for i, addr := range addresses {
		if addr == GasAddress {
			continue
		}
		positions = append(positions, i)
	}

	for start := 0; start < len(positions); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(positions) {
			end = len(positions)
		}
		chunk := positions[start:end]

		targets := make([]common.Address, len(chunk))
		for i, pos := range chunk {
			targets[i] = addresses[pos]
		}

		returnData, err := m.aggregate(ctx, targets, callData)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s (%d calls): %w", method, len(targets), err)
		}
		if len(returnData) != len(targets) {
			return nil, fmt.Errorf("aggregate %s: got %d results for %d calls", method, len(returnData), len(targets))
		}

		for i, pos := range chunk {
			values, err := contractABI.Unpack(method, returnData[i])
			if err != nil {
				return nil, fmt.Errorf("unpack %s for %s: %w", method, addresses[pos].Hex(), err)
			}
			results[pos] = values
		}
	}

	return results, nil
}

func (m *MulticallReader) aggregate(ctx context.Context, targets []common.Address, callData []byte) ([][]byte, error) {
	sABI, pABI, err := multicallABIs()
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}

	var packed []byte
	switch m.dialect {
	case DialectPositional:
		data := make([][]byte, len(targets))
		for i := range targets {
			data[i] = callData
		}
		packed, err = pABI.Pack("aggregate", targets, data)
	default:
		calls := make([]aggregateCall, len(targets))
		for i, target := range targets {
			calls[i] = aggregateCall{Target: target, CallData: callData}
		}
		packed, err = sABI.Pack("aggregate", calls)
	}
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	msg := ethereum.CallMsg{To: &m.address, Data: packed}
	resp, err := m.chain.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	mcABI := sABI
	if m.dialect == DialectPositional {
		mcABI = pABI
	}
	values, err := mcABI.Unpack("aggregate", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unpack aggregate: short result")
	}
	returnData, ok := values[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unpack aggregate: unexpected return data type %T", values[1])
	}
	return returnData, nil
}
