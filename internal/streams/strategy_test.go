package streams

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexscope/internal/config"
	"dexscope/internal/harvester"
	"dexscope/internal/model"
	"dexscope/internal/referral"
)

// orderTuple mirrors the anonymous struct the abi decoder produces for
// packed order tuples.
type orderTuple struct {
	Y *big.Int `json:"y"`
	Z *big.Int `json:"z"`
	A *big.Int `json:"a"`
	B *big.Int `json:"b"`
}

func newRow(fields map[string]interface{}) model.EventRow {
	return model.EventRow{Fields: fields}
}

func TestDecodeOrdersStage(t *testing.T) {
	// A = 0, B packed as mantissa 1 / exponent 48 decodes to sqrt rate
	// 2^48, the unit of the sqrt scale, so the flat rate is exactly 1;
	// equal decimals keep it at 1.
	unit := new(big.Int).Add(big.NewInt(1), new(big.Int).Lsh(big.NewInt(48), 48))
	event := model.RawEvent{
		EventName: "StrategyCreated",
		ReturnValues: map[string]interface{}{
			"order0": orderTuple{Y: big.NewInt(1e18), Z: big.NewInt(1e18), A: big.NewInt(0), B: unit},
			"order1": orderTuple{Y: big.NewInt(0), Z: big.NewInt(0), A: big.NewInt(0), B: big.NewInt(0)},
		},
	}
	row := newRow(map[string]interface{}{
		"token0_decimals": int64(18),
		"token1_decimals": int64(18),
	})

	out, err := decodeOrdersStage(row, event, harvester.TransformContext{})
	require.NoError(t, err)

	assert.Equal(t, "1", out.Fields["order0_liquidity"])
	assert.Equal(t, "1", out.Fields["order0_marginal_rate"])
	assert.Equal(t, "0", out.Fields["order1_liquidity"])
	assert.Equal(t, "0", out.Fields["order1_marginal_rate"])
}

func TestDecodeOrdersStageMissingDecimals(t *testing.T) {
	event := model.RawEvent{ReturnValues: map[string]interface{}{}}
	row := newRow(map[string]interface{}{"token0_decimals": int64(18)})

	_, err := decodeOrdersStage(row, event, harvester.TransformContext{})
	assert.Error(t, err)
}

func TestNormalizeTradeStage(t *testing.T) {
	row := newRow(map[string]interface{}{
		"source_token_decimals": int64(6),
		"target_token_decimals": int64(18),
		"source_amount_raw":     "2500000",
		"target_amount_raw":     "1000000000000000000",
		"trading_fee_raw":       "5000000000000000",
		"by_target_amount":      true,
	})

	out, err := normalizeTradeStage(row, model.RawEvent{}, harvester.TransformContext{})
	require.NoError(t, err)

	assert.Equal(t, "2.5", out.Fields["source_amount"])
	assert.Equal(t, "1", out.Fields["target_amount"])
	assert.Equal(t, "0.005", out.Fields["trading_fee"])
	// Fee charged against the target token, so the target amount is the
	// attribution divisor.
	assert.Equal(t, "1", out.Fields["fee_divisor"])
}

func TestNormalizeTradeStageFeeInSourceToken(t *testing.T) {
	row := newRow(map[string]interface{}{
		"source_token_decimals": int64(6),
		"target_token_decimals": int64(18),
		"source_amount_raw":     "2000000",
		"target_amount_raw":     "1000000000000000000",
		"trading_fee_raw":       "4000",
		"by_target_amount":      false,
	})

	out, err := normalizeTradeStage(row, model.RawEvent{}, harvester.TransformContext{})
	require.NoError(t, err)

	assert.Equal(t, "0.004", out.Fields["trading_fee"])
	assert.Equal(t, "2", out.Fields["fee_divisor"])
}

const referralABIFixture = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "account", "type": "address"},
    {"indexed": false, "name": "code", "type": "bytes32"}
  ], "name": "RegisterCode", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "account", "type": "address"},
    {"indexed": false, "name": "code", "type": "bytes32"}
  ], "name": "SetTraderReferralCode", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": false, "name": "referrer", "type": "address"},
    {"indexed": false, "name": "tierId", "type": "uint256"}
  ], "name": "SetReferrerTier", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": false, "name": "tierId", "type": "uint256"},
    {"indexed": false, "name": "totalRebate", "type": "uint256"},
    {"indexed": false, "name": "discountShare", "type": "uint256"}
  ], "name": "SetTier", "type": "event"}
]`

func TestReferralStreams(t *testing.T) {
	abiPath := filepath.Join(t.TempDir(), "referral.json")
	require.NoError(t, os.WriteFile(abiPath, []byte(referralABIFixture), 0o644))

	dep := config.Deployment{
		BlockchainType: "chain-1",
		ExchangeID:     "exchange-x",
		BatchSize:      2000,
		Concurrency:    10,
		Contracts: map[string][]config.ContractVersionConfig{
			ContractReferralStorage: {
				{Address: "0x1000000000000000000000000000000000000001", ABIPath: abiPath},
			},
		},
	}

	specs, kinds, err := Referral(dep)
	require.NoError(t, err)
	require.Len(t, specs, 4)
	require.Len(t, kinds, 4)

	byKey := make(map[string]harvester.StreamSpec)
	for _, spec := range specs {
		byKey[spec.Key] = spec
	}

	bindKey := kinds[referral.KindSetTraderCode]
	require.Contains(t, byKey, bindKey)
	assert.True(t, byKey[bindKey].WithTimestamp, "bindings need block timestamps")
	assert.Equal(t, "SetTraderReferralCode", byKey[bindKey].EventName)

	for _, spec := range specs {
		require.Len(t, spec.Versions, 1)
		assert.Equal(t, uint64(2000), spec.BatchSize)
		assert.Contains(t, spec.Versions[0].ABI.Events, spec.EventName)
	}
}

func TestReferralStreamsMissingContract(t *testing.T) {
	dep := config.Deployment{BlockchainType: "chain-1", ExchangeID: "exchange-x"}
	_, _, err := Referral(dep)
	assert.Error(t, err)
}
