package verify

import "fmt"

// Stats are one consumer's classification counters.
type Stats struct {
	// TotalReceived counts well-formed frames, including duplicates and
	// out-of-range ones.
	TotalReceived uint64 `json:"total_received"`
	Duplicates    uint64 `json:"duplicates"`
	OutOfRange    uint64 `json:"out_of_range"`
	Malformed     uint64 `json:"malformed"`
	// Corrupted counts checksum mismatches; always zero with checksums off.
	Corrupted uint64 `json:"corrupted"`
	// Reordered counts fresh frames older than one already seen from the
	// same producer.
	Reordered uint64 `json:"reordered"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.TotalReceived += o.TotalReceived
	s.Duplicates += o.Duplicates
	s.OutOfRange += o.OutOfRange
	s.Malformed += o.Malformed
	s.Corrupted += o.Corrupted
	s.Reordered += o.Reordered
}

// Clean reports whether no anomaly was counted.
func (s Stats) Clean() bool {
	return s.Duplicates == 0 && s.OutOfRange == 0 && s.Malformed == 0 && s.Corrupted == 0
}

func (s Stats) String() string {
	return fmt.Sprintf("total=%d dup=%d oor=%d malformed=%d corrupted=%d reordered=%d",
		s.TotalReceived, s.Duplicates, s.OutOfRange, s.Malformed, s.Corrupted, s.Reordered)
}
