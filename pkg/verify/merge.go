package verify

import (
	"fmt"

	"github.com/Workiva/go-datastructures/bitarray"
)

// Report is what a consumer hands back to the orchestrator.
type Report struct {
	Consumer uint32 `json:"consumer"`
	Stats    Stats  `json:"stats"`
	// Seen is the marshalled bit array of (producer, seq) slots this
	// consumer accepted.
	Seen []byte `json:"seen"`
}

// Summary is the run-wide view over every consumer report.
type Summary struct {
	Totals   Stats  `json:"totals"`
	Expected uint64 `json:"expected"`
	// Unique is the number of distinct (producer, seq) slots accepted.
	Unique uint64 `json:"unique"`
	// CrossDuplicates counts slots accepted by more than one consumer.
	CrossDuplicates uint64 `json:"cross_duplicates"`
	Missing         uint64 `json:"missing"`
}

// Complete reports whether every message arrived exactly once, intact.
func (s Summary) Complete() bool {
	return s.Missing == 0 && s.CrossDuplicates == 0 && s.Totals.Clean()
}

// Merge combines consumer reports for a run of producers × messages frames.
func Merge(reports []Report, producers, messages uint32) (Summary, error) {
	expected := uint64(producers) * uint64(messages)
	sum := Summary{Expected: expected}
	union := bitarray.NewBitArray(slots(producers, messages))

	var accepted uint64
	for _, r := range reports {
		sum.Totals.Add(r.Stats)
		if len(r.Seen) == 0 {
			continue
		}
		seen, err := bitarray.Unmarshal(r.Seen)
		if err != nil {
			return Summary{}, fmt.Errorf("consumer %d: unmarshal seen set: %w", r.Consumer, err)
		}
		if seen.Capacity() != union.Capacity() {
			return Summary{}, fmt.Errorf("consumer %d: seen set holds %d slots, want %d",
				r.Consumer, seen.Capacity(), union.Capacity())
		}
		accepted += uint64(seen.Count())
		union = union.Or(seen)
	}

	sum.Unique = uint64(union.Count())
	if expected == 0 {
		sum.Unique = 0
	}
	sum.CrossDuplicates = accepted - sum.Unique
	sum.Missing = expected - sum.Unique
	return sum, nil
}
