package codec

import "github.com/shopspring/decimal"

// TradeSummary describes one executed trade for fee attribution.
// ByTargetAmount mirrors the protocol flag: when set, the trader fixed
// the target amount and the fee was charged against the target token;
// otherwise the fee is already included in the source amount.
type TradeSummary struct {
	SourceAmount   decimal.Decimal
	TargetAmount   decimal.Decimal
	TradingFee     decimal.Decimal
	ByTargetAmount bool
}

// FeeDivisor returns the total trade delta the fee is apportioned over:
// the fee-exclusive target amount when the fee is charged against the
// target, the fee-inclusive source amount otherwise.
func (t TradeSummary) FeeDivisor() decimal.Decimal {
	if t.ByTargetAmount {
		return t.TargetAmount
	}
	return t.SourceAmount
}

// StrategyFeeShare attributes a strategy's proportional share of a
// multi-strategy trade's fee: totalFee * |strategyDelta| / divisor.
// strategyDelta is the strategy's delta in the fee token; its sign is
// ignored. A zero divisor yields zero.
func StrategyFeeShare(trade TradeSummary, strategyDelta decimal.Decimal) decimal.Decimal {
	divisor := trade.FeeDivisor()
	if divisor.IsZero() {
		return decimal.Zero
	}
	return trade.TradingFee.Mul(strategyDelta.Abs()).DivRound(divisor, ratePrecision)
}
