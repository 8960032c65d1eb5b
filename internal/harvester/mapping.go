package harvester

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"dexscope/internal/model"
)

// ErrMissingReference marks an event referencing a token or pair the
// dictionaries do not know yet. The row is skipped, not the batch.
var ErrMissingReference = errors.New("harvester: unresolved token/pair reference")

// decodeLog turns a raw chain log into a RawEvent with named arguments.
func decodeLog(contractABI abi.ABI, eventName string, log types.Log) (model.RawEvent, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return model.RawEvent{}, fmt.Errorf("event %s not in abi", eventName)
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return model.RawEvent{}, fmt.Errorf("log topic0 does not match event %s", eventName)
	}

	values := make(map[string]interface{})
	if len(log.Data) > 0 {
		if err := contractABI.UnpackIntoMap(values, eventName, log.Data); err != nil {
			return model.RawEvent{}, fmt.Errorf("unpack %s data: %w", eventName, err)
		}
	}

	indexed := make([]abi.Argument, 0)
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return model.RawEvent{}, fmt.Errorf("parse %s topics: %w", eventName, err)
		}
	}

	return model.RawEvent{
		BlockNumber:  log.BlockNumber,
		TxIndex:      uint64(log.TxIndex),
		TxHash:       log.TxHash.Hex(),
		LogIndex:     uint64(log.Index),
		Address:      strings.ToLower(log.Address.Hex()),
		EventName:    eventName,
		ReturnValues: values,
	}, nil
}

// mapRow projects a RawEvent into an EventRow by applying the stream's
// field mappings, constants, relations, and transform stages in order.
func mapRow(spec StreamSpec, event model.RawEvent) (model.EventRow, error) {
	row := model.EventRow{
		BlockchainType: spec.BlockchainType,
		ExchangeID:     spec.ExchangeID,
		BlockNumber:    event.BlockNumber,
		TxIndex:        event.TxIndex,
		TxHash:         event.TxHash,
		LogIndex:       event.LogIndex,
		Fields:         make(map[string]interface{}),
	}

	for _, constant := range spec.Constants {
		row.Fields[constant.To] = constant.Value
	}

	for _, mapping := range spec.Mappings {
		value, ok := event.ReturnValues[mapping.From]
		if !ok {
			return model.EventRow{}, fmt.Errorf("event %s has no argument %q", spec.EventName, mapping.From)
		}
		converted, err := convertField(mapping.Kind, value)
		if err != nil {
			return model.EventRow{}, fmt.Errorf("field %q: %w", mapping.From, err)
		}
		row.Fields[mapping.To] = converted
	}

	for _, relation := range spec.TokenRelations {
		address, err := addressArg(event, relation.From)
		if err != nil {
			return model.EventRow{}, err
		}
		token, ok := spec.Tokens.Get(address)
		if !ok {
			return model.EventRow{}, fmt.Errorf("%w: token %s", ErrMissingReference, address)
		}
		row.Fields[relation.To] = token.Address
		row.Fields[relation.To+"_symbol"] = token.Symbol
		row.Fields[relation.To+"_decimals"] = int64(token.Decimals)
	}

	for _, relation := range spec.PairRelations {
		token0, err := addressArg(event, relation.FromToken0)
		if err != nil {
			return model.EventRow{}, err
		}
		token1, err := addressArg(event, relation.FromToken1)
		if err != nil {
			return model.EventRow{}, err
		}
		pair, ok := spec.Pairs.Get(token0, token1)
		if !ok {
			return model.EventRow{}, fmt.Errorf("%w: pair %s/%s", ErrMissingReference, token0, token1)
		}
		row.Fields[relation.To] = int64(pair.ID)
	}

	tctx := spec.transformContext()
	for _, stage := range spec.Transforms {
		transformed, err := stage(row, event, tctx)
		if err != nil {
			return model.EventRow{}, fmt.Errorf("transform stage: %w", err)
		}
		row = transformed
	}

	return row, nil
}

func addressArg(event model.RawEvent, name string) (string, error) {
	value, ok := event.ReturnValues[name]
	if !ok {
		return "", fmt.Errorf("event %s has no argument %q", event.EventName, name)
	}
	switch v := value.(type) {
	case common.Address:
		return strings.ToLower(v.Hex()), nil
	case string:
		return strings.ToLower(v), nil
	default:
		return "", fmt.Errorf("argument %q is not an address (%T)", name, value)
	}
}

func convertField(kind FieldKind, value interface{}) (interface{}, error) {
	switch kind {
	case FieldString:
		switch v := value.(type) {
		case string:
			return v, nil
		case common.Address:
			return strings.ToLower(v.Hex()), nil
		case common.Hash:
			return v.Hex(), nil
		case [32]byte:
			return hexutil.Encode(v[:]), nil
		case []byte:
			return hexutil.Encode(v), nil
		default:
			return nil, fmt.Errorf("cannot map %T to string", value)
		}
	case FieldNumber:
		switch v := value.(type) {
		case *big.Int:
			if !v.IsInt64() {
				return nil, fmt.Errorf("number %s overflows int64", v)
			}
			return v.Int64(), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint64:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		default:
			return nil, fmt.Errorf("cannot map %T to number", value)
		}
	case FieldBigNumber:
		switch v := value.(type) {
		case *big.Int:
			return v.String(), nil
		case uint64:
			return new(big.Int).SetUint64(v).String(), nil
		default:
			return nil, fmt.Errorf("cannot map %T to bignumber", value)
		}
	case FieldBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot map %T to bool", value)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown field kind %d", kind)
	}
}
