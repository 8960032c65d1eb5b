package harvester

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dexscope/internal/model"
	"dexscope/internal/registry"
)

func TestConvertField(t *testing.T) {
	addr := common.HexToAddress("0xAbCd000000000000000000000000000000000001")

	cases := []struct {
		name  string
		kind  FieldKind
		value interface{}
		want  interface{}
	}{
		{"address to lowercase string", FieldString, addr, "0xabcd000000000000000000000000000000000001"},
		{"bytes32 to hex", FieldString, [32]byte{0xbe, 0xef}, "0xbeef000000000000000000000000000000000000000000000000000000000000"},
		{"big int to number", FieldNumber, big.NewInt(42), int64(42)},
		{"uint8 to number", FieldNumber, uint8(7), int64(7)},
		{"big int to bignumber string", FieldBigNumber, new(big.Int).Lsh(big.NewInt(1), 100), "1267650600228229401496703205376"},
		{"bool", FieldBool, true, true},
	}

	for _, tc := range cases {
		got, err := convertField(tc.kind, tc.value)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: got %v (%T), want %v (%T)", tc.name, got, got, tc.want, tc.want)
		}
	}
}

func TestConvertFieldRejectsOverflowAndMismatch(t *testing.T) {
	overflow := new(big.Int).Lsh(big.NewInt(1), 80)
	if _, err := convertField(FieldNumber, overflow); err == nil {
		t.Fatalf("expected overflow error for %s", overflow)
	}
	if _, err := convertField(FieldBool, "yes"); err == nil {
		t.Fatalf("expected type error for string as bool")
	}
	if _, err := convertField(FieldString, 3.14); err == nil {
		t.Fatalf("expected type error for float as string")
	}
}

func TestMapRowAppliesConstantsAndMappings(t *testing.T) {
	event := model.RawEvent{
		BlockNumber: 12,
		TxIndex:     3,
		TxHash:      "0xabc",
		LogIndex:    1,
		EventName:   "CodeRegistered",
		ReturnValues: map[string]interface{}{
			"code":   [32]byte{0x01},
			"tierId": big.NewInt(5),
		},
	}

	spec := StreamSpec{
		BlockchainType: "chain-1",
		ExchangeID:     "exchange-x",
		EventName:      "CodeRegistered",
		Constants:      []Constant{{To: "exchange", Value: "exchange-x"}},
		Mappings: []FieldMapping{
			{Kind: FieldString, From: "code", To: "code"},
			{Kind: FieldNumber, From: "tierId", To: "tier_id"},
		},
	}

	row, err := mapRow(spec, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if row.BlockNumber != 12 || row.TxIndex != 3 || row.LogIndex != 1 {
		t.Fatalf("row position mismatch: %+v", row)
	}
	if row.Fields["exchange"] != "exchange-x" {
		t.Fatalf("constant not applied: %+v", row.Fields)
	}
	if row.Fields["tier_id"] != int64(5) {
		t.Fatalf("mapping not applied: %+v", row.Fields)
	}
}

func TestMapRowMissingArgument(t *testing.T) {
	event := model.RawEvent{ReturnValues: map[string]interface{}{}}
	spec := StreamSpec{
		EventName: "CodeRegistered",
		Mappings:  []FieldMapping{{Kind: FieldString, From: "code", To: "code"}},
	}

	if _, err := mapRow(spec, event); err == nil {
		t.Fatalf("expected error for missing argument")
	}
}

func TestMapRowUnknownTokenIsMissingReference(t *testing.T) {
	event := model.RawEvent{
		ReturnValues: map[string]interface{}{
			"token": common.HexToAddress("0x9000000000000000000000000000000000000009"),
		},
	}
	spec := StreamSpec{
		EventName:      "CodeRegistered",
		Tokens:         registry.NewTokenDictionary(),
		TokenRelations: []TokenRelation{{From: "token", To: "token"}},
	}

	_, err := mapRow(spec, event)
	if !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}
