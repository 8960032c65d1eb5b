package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const valueABIJSON = `[
  {
    "inputs": [],
    "name": "value",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

// multicallBackend answers aggregate calls for the value() test contract.
// Each target responds with the numeric value of its last address byte.
type multicallBackend struct {
	dialect  Dialect
	valueABI abi.ABI

	mu         sync.Mutex
	callCount  int
	chunkSizes []int
}

func (b *multicallBackend) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	return nil, fmt.Errorf("not implemented")
}

func (b *multicallBackend) BlockTimestamp(context.Context, uint64) (uint64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (b *multicallBackend) LatestBlockNumber(context.Context) (uint64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (b *multicallBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	sABI, pABI, err := multicallABIs()
	if err != nil {
		return nil, err
	}

	var targets []common.Address
	switch b.dialect {
	case DialectPositional:
		values, err := pABI.Methods["aggregate"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		targets = values[0].([]common.Address)
	default:
		values, err := sABI.Methods["aggregate"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		calls := values[0].([]struct {
			Target   common.Address `json:"target"`
			CallData []byte         `json:"callData"`
		})
		for _, call := range calls {
			targets = append(targets, call.Target)
		}
	}

	b.mu.Lock()
	b.callCount++
	b.chunkSizes = append(b.chunkSizes, len(targets))
	b.mu.Unlock()

	returnData := make([][]byte, len(targets))
	for i, target := range targets {
		packed, err := b.valueABI.Methods["value"].Outputs.Pack(big.NewInt(int64(target[19])))
		if err != nil {
			return nil, err
		}
		returnData[i] = packed
	}

	mcABI := sABI
	if b.dialect == DialectPositional {
		mcABI = pABI
	}
	return mcABI.Methods["aggregate"].Outputs.Pack(big.NewInt(1), returnData)
}

func testAddresses(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}
	return out
}

func TestReadManyPreservesInputOrderAcrossChunks(t *testing.T) {
	valueABI, err := abi.JSON(strings.NewReader(valueABIJSON))
	require.NoError(t, err)

	for _, dialect := range []Dialect{DialectStructArray, DialectPositional} {
		for _, chunkSize := range []int{1, 3, 100} {
			backend := &multicallBackend{dialect: dialect, valueABI: valueABI}
			reader := NewMulticallReader(backend, common.HexToAddress("0xff"), dialect, chunkSize, nil)

			addresses := testAddresses(7)
			results, err := reader.ReadMany(context.Background(), addresses, valueABI, "value")
			require.NoError(t, err, "dialect=%s chunk=%d", dialect, chunkSize)
			require.Len(t, results, len(addresses))

			for i := range addresses {
				require.Len(t, results[i], 1, "dialect=%s chunk=%d slot=%d", dialect, chunkSize, i)
				got := results[i][0].(*big.Int)
				assert.Equal(t, int64(i+1), got.Int64(), "dialect=%s chunk=%d slot=%d", dialect, chunkSize, i)
			}

			for _, size := range backend.chunkSizes {
				assert.LessOrEqual(t, size, chunkSize)
			}
		}
	}
}

func TestReadManySkipsGasPseudoAddress(t *testing.T) {
	valueABI, err := abi.JSON(strings.NewReader(valueABIJSON))
	require.NoError(t, err)

	backend := &multicallBackend{dialect: DialectStructArray, valueABI: valueABI}
	reader := NewMulticallReader(backend, common.HexToAddress("0xff"), DialectStructArray, 2, nil)

	addresses := testAddresses(4)
	addresses[2] = GasAddress

	results, err := reader.ReadMany(context.Background(), addresses, valueABI, "value")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Nil(t, results[2], "gas pseudo-address must not be read from chain")
	for _, i := range []int{0, 1, 3} {
		require.Len(t, results[i], 1)
	}
}

func TestReadManyEmptyInput(t *testing.T) {
	valueABI, err := abi.JSON(strings.NewReader(valueABIJSON))
	require.NoError(t, err)

	backend := &multicallBackend{dialect: DialectStructArray, valueABI: valueABI}
	reader := NewMulticallReader(backend, common.HexToAddress("0xff"), DialectStructArray, 2, nil)

	results, err := reader.ReadMany(context.Background(), nil, valueABI, "value")
	require.NoError(t, err)
	assert.Nil(t, results)
}
