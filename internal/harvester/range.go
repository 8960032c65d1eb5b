package harvester

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0)
	start := from
	for start <= to {
		remaining := to - start + 1
		var end uint64
		if remaining <= batchSize {
			end = to
		} else {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return ranges, nil
}

// VersionedRange is a block range bound to one contract version.
type VersionedRange struct {
	Version ContractVersion
	Range   BlockRange
}

// SplitByVersions pre-splits [from, to] at contract version boundaries
// so each version is only queried within its valid window. Versions
// must be ordered; TerminatesAt == 0 marks the open-ended last version.
func SplitByVersions(from, to uint64, versions []ContractVersion) ([]VersionedRange, error) {
	if len(versions) == 0 {
		return nil, fmt.Errorf("at least one contract version is required")
	}
	if to < from {
		return nil, nil
	}

	out := make([]VersionedRange, 0, len(versions))
	start := from
	for i, version := range versions {
		if start > to {
			break
		}
		end := to
		if version.TerminatesAt != 0 && version.TerminatesAt < end {
			end = version.TerminatesAt
		}
		if version.TerminatesAt != 0 && version.TerminatesAt < start {
			continue
		}
		if i == len(versions)-1 && version.TerminatesAt != 0 && to > version.TerminatesAt {
			return nil, fmt.Errorf("no contract version covers blocks above %d", version.TerminatesAt)
		}
		out = append(out, VersionedRange{Version: version, Range: BlockRange{From: start, To: end}})
		start = end + 1
	}
	return out, nil
}
