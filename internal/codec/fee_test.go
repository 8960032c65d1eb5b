package codec

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStrategyFeeShareBySourceAmount(t *testing.T) {
	trade := TradeSummary{
		SourceAmount:   decimal.NewFromInt(1000),
		TargetAmount:   decimal.NewFromInt(500),
		TradingFee:     decimal.NewFromInt(10),
		ByTargetAmount: false,
	}

	// Strategy contributed 250 of the fee-inclusive 1000 source units.
	share := StrategyFeeShare(trade, decimal.NewFromInt(250))
	assert.True(t, share.Equal(decimal.NewFromFloat(2.5)), "got %s", share)
}

func TestStrategyFeeShareByTargetAmount(t *testing.T) {
	trade := TradeSummary{
		SourceAmount:   decimal.NewFromInt(1000),
		TargetAmount:   decimal.NewFromInt(500),
		TradingFee:     decimal.NewFromInt(10),
		ByTargetAmount: true,
	}

	// Divisor switches to the fee-exclusive target amount.
	share := StrategyFeeShare(trade, decimal.NewFromInt(250))
	assert.True(t, share.Equal(decimal.NewFromInt(5)), "got %s", share)
}

func TestStrategyFeeShareNegativeDelta(t *testing.T) {
	trade := TradeSummary{
		SourceAmount: decimal.NewFromInt(100),
		TradingFee:   decimal.NewFromInt(4),
	}

	share := StrategyFeeShare(trade, decimal.NewFromInt(-50))
	assert.True(t, share.Equal(decimal.NewFromInt(2)), "got %s", share)
}

func TestStrategyFeeShareZeroDivisor(t *testing.T) {
	share := StrategyFeeShare(TradeSummary{TradingFee: decimal.NewFromInt(1)}, decimal.NewFromInt(5))
	assert.True(t, share.IsZero())
}

func TestWholeTradeFeeIsAttributedAcrossStrategies(t *testing.T) {
	trade := TradeSummary{
		SourceAmount: decimal.NewFromInt(900),
		TradingFee:   decimal.NewFromInt(9),
	}

	total := decimal.Zero
	for _, delta := range []int64{300, 450, 150} {
		total = total.Add(StrategyFeeShare(trade, decimal.NewFromInt(delta)))
	}
	assert.True(t, total.Equal(trade.TradingFee), "got %s", total)
}
