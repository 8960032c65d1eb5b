package streams

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/shopspring/decimal"

	"dexscope/internal/codec"
	"dexscope/internal/config"
	"dexscope/internal/harvester"
	"dexscope/internal/model"
	"dexscope/internal/registry"
)

// Strategy builds the strategy lifecycle and trade stream specs for the
// controller contract. Rows carry decoded order rates and normalized
// trade amounts; unresolved tokens skip the row, not the batch.
func Strategy(dep config.Deployment, tokens *registry.TokenDictionary, pairs *registry.PairDictionary) ([]harvester.StreamSpec, error) {
	versions, err := loadVersions(dep, ContractController)
	if err != nil {
		return nil, err
	}

	specs := make([]harvester.StreamSpec, 0, 4)
	for name, eventName := range map[string]string{
		"strategy_created": "StrategyCreated",
		"strategy_updated": "StrategyUpdated",
		"strategy_deleted": "StrategyDeleted",
	} {
		spec := baseSpec(dep, name, eventName, versions)
		spec.WithTimestamp = true
		spec.Tokens = tokens
		spec.Pairs = pairs
		spec.Mappings = []harvester.FieldMapping{
			{Kind: harvester.FieldBigNumber, From: "id", To: "strategy_id"},
			{Kind: harvester.FieldString, From: "owner", To: "owner"},
		}
		spec.TokenRelations = []harvester.TokenRelation{
			{From: "token0", To: "token0"},
			{From: "token1", To: "token1"},
		}
		spec.PairRelations = []harvester.PairRelation{
			{FromToken0: "token0", FromToken1: "token1", To: "pair_id"},
		}
		spec.Transforms = []harvester.TransformStage{decodeOrdersStage}
		specs = append(specs, spec)
	}

	trades := baseSpec(dep, "tokens_traded", "TokensTraded", versions)
	trades.WithTimestamp = true
	trades.Tokens = tokens
	trades.Pairs = pairs
	trades.Mappings = []harvester.FieldMapping{
		{Kind: harvester.FieldString, From: "trader", To: "trader"},
		{Kind: harvester.FieldBigNumber, From: "sourceAmount", To: "source_amount_raw"},
		{Kind: harvester.FieldBigNumber, From: "targetAmount", To: "target_amount_raw"},
		{Kind: harvester.FieldBigNumber, From: "tradingFeeAmount", To: "trading_fee_raw"},
		{Kind: harvester.FieldBool, From: "byTargetAmount", To: "by_target_amount"},
	}
	trades.TokenRelations = []harvester.TokenRelation{
		{From: "sourceToken", To: "source_token"},
		{From: "targetToken", To: "target_token"},
	}
	trades.Transforms = []harvester.TransformStage{normalizeTradeStage}
	specs = append(specs, trades)

	return specs, nil
}

// decodeOrdersStage decodes the two packed orders of a strategy event
// into liquidity and rate fields. order0 holds token0 and quotes in
// token1 terms; order1 is the opposite.
func decodeOrdersStage(row model.EventRow, event model.RawEvent, _ harvester.TransformContext) (model.EventRow, error) {
	decimals0, err := fieldDecimals(row, "token0_decimals")
	if err != nil {
		return model.EventRow{}, err
	}
	decimals1, err := fieldDecimals(row, "token1_decimals")
	if err != nil {
		return model.EventRow{}, err
	}

	order0, err := encodedOrderArg(event, "order0")
	if err != nil {
		return model.EventRow{}, err
	}
	order1, err := encodedOrderArg(event, "order1")
	if err != nil {
		return model.EventRow{}, err
	}

	decoded0, err := codec.DecodeOrder(order0, codec.SideSell, decimals0, decimals1)
	if err != nil {
		return model.EventRow{}, fmt.Errorf("decode order0: %w", err)
	}
	decoded1, err := codec.DecodeOrder(order1, codec.SideBuy, decimals1, decimals0)
	if err != nil {
		return model.EventRow{}, fmt.Errorf("decode order1: %w", err)
	}

	writeOrderFields(row, "order0", decoded0)
	writeOrderFields(row, "order1", decoded1)
	return row, nil
}

func writeOrderFields(row model.EventRow, prefix string, order codec.DecodedOrder) {
	row.Fields[prefix+"_liquidity"] = order.Liquidity.String()
	row.Fields[prefix+"_lowest_rate"] = order.LowestRate.String()
	row.Fields[prefix+"_highest_rate"] = order.HighestRate.String()
	row.Fields[prefix+"_marginal_rate"] = order.MarginalRate.String()
}

// normalizeTradeStage converts raw trade amounts to token units and
// records the fee divisor used for per-strategy fee attribution.
func normalizeTradeStage(row model.EventRow, _ model.RawEvent, _ harvester.TransformContext) (model.EventRow, error) {
	sourceDecimals, err := fieldDecimals(row, "source_token_decimals")
	if err != nil {
		return model.EventRow{}, err
	}
	targetDecimals, err := fieldDecimals(row, "target_token_decimals")
	if err != nil {
		return model.EventRow{}, err
	}

	source, err := fieldDecimal(row, "source_amount_raw", sourceDecimals)
	if err != nil {
		return model.EventRow{}, err
	}
	target, err := fieldDecimal(row, "target_amount_raw", targetDecimals)
	if err != nil {
		return model.EventRow{}, err
	}

	byTarget, _ := row.Fields["by_target_amount"].(bool)
	feeDecimals := sourceDecimals
	if byTarget {
		feeDecimals = targetDecimals
	}
	fee, err := fieldDecimal(row, "trading_fee_raw", feeDecimals)
	if err != nil {
		return model.EventRow{}, err
	}

	trade := codec.TradeSummary{
		SourceAmount:   source,
		TargetAmount:   target,
		TradingFee:     fee,
		ByTargetAmount: byTarget,
	}

	row.Fields["source_amount"] = source.String()
	row.Fields["target_amount"] = target.String()
	row.Fields["trading_fee"] = fee.String()
	row.Fields["fee_divisor"] = trade.FeeDivisor().String()
	return row, nil
}

func fieldDecimals(row model.EventRow, name string) (uint8, error) {
	value, ok := row.Fields[name].(int64)
	if !ok {
		return 0, fmt.Errorf("row missing decimals field %q", name)
	}
	if value < 0 || value > 255 {
		return 0, fmt.Errorf("field %q out of decimals range: %d", name, value)
	}
	return uint8(value), nil
}

func fieldDecimal(row model.EventRow, name string, decimals uint8) (decimal.Decimal, error) {
	raw, ok := row.Fields[name].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("row missing amount field %q", name)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("field %q is not an integer: %s", name, raw)
	}
	return decimal.NewFromBigInt(value, 0).Shift(-int32(decimals)), nil
}

// encodedOrderArg pulls a packed order tuple out of the decoded event.
// The abi decoder materializes tuples as anonymous structs, so the
// fields are read by name through reflection.
func encodedOrderArg(event model.RawEvent, name string) (codec.EncodedOrder, error) {
	value, ok := event.ReturnValues[name]
	if !ok {
		return codec.EncodedOrder{}, fmt.Errorf("event %s has no argument %q", event.EventName, name)
	}

	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return codec.EncodedOrder{}, fmt.Errorf("argument %q is not an order tuple (%T)", name, value)
	}

	order := codec.EncodedOrder{}
	for field, dst := range map[string]**big.Int{
		"Y": &order.Y,
		"Z": &order.Z,
		"A": &order.A,
		"B": &order.B,
	} {
		fv := v.FieldByName(field)
		if !fv.IsValid() {
			return codec.EncodedOrder{}, fmt.Errorf("order tuple %q has no field %s", name, field)
		}
		n, ok := fv.Interface().(*big.Int)
		if !ok || n == nil {
			return codec.EncodedOrder{}, fmt.Errorf("order tuple %q field %s is not a big.Int", name, field)
		}
		*dst = n
	}
	return order, nil
}
