package harvester

import (
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestSplitByVersions(t *testing.T) {
	v1 := ContractVersion{TerminatesAt: 150}
	v2 := ContractVersion{}

	got, err := SplitByVersions(100, 200, []ContractVersion{v1, v2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []VersionedRange{
		{Version: v1, Range: BlockRange{From: 100, To: 150}},
		{Version: v2, Range: BlockRange{From: 151, To: 200}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments mismatch: %+v != %+v", got, want)
	}
}

func TestSplitByVersionsSkipsTerminatedVersions(t *testing.T) {
	v1 := ContractVersion{TerminatesAt: 50}
	v2 := ContractVersion{}

	got, err := SplitByVersions(100, 200, []ContractVersion{v1, v2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []VersionedRange{
		{Version: v2, Range: BlockRange{From: 100, To: 200}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("segments mismatch: %+v != %+v", got, want)
	}
}

func TestSplitByVersionsSingleVersionWindow(t *testing.T) {
	v1 := ContractVersion{TerminatesAt: 150}
	v2 := ContractVersion{TerminatesAt: 300}

	got, err := SplitByVersions(120, 140, []ContractVersion{v1, v2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Range != (BlockRange{From: 120, To: 140}) {
		t.Fatalf("unexpected segments: %+v", got)
	}
}

func TestSplitByVersionsUncoveredRange(t *testing.T) {
	v1 := ContractVersion{TerminatesAt: 150}
	if _, err := SplitByVersions(100, 200, []ContractVersion{v1}); err == nil {
		t.Fatalf("expected error for range above last version")
	}
}

func TestSplitByVersionsEmptyRange(t *testing.T) {
	got, err := SplitByVersions(10, 5, []ContractVersion{{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no segments, got %+v", got)
	}
}
