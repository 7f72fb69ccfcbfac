// Package verify classifies received frames and merges the per-consumer
// results into a run-wide completeness check.
//
// Each consumer owns a Verifier and a private seen set, so the receive path
// takes no shared lock. Duplicates split across two consumers are therefore
// invisible to either one; Merge recovers them after the run by intersecting
// the consumers' seen sets.
package verify

import (
	"fmt"

	"github.com/Workiva/go-datastructures/bitarray"

	"github.com/srediag/ipcbench/pkg/message"
)

// Class is the outcome of observing one frame.
type Class int

const (
	Accepted Class = iota
	// AcceptedReordered is a fresh frame that arrived after a later frame of
	// the same producer.
	AcceptedReordered
	Duplicate
	OutOfRange
	Malformed
	Corrupted
)

var classNames = [...]string{"accepted", "reordered", "duplicate", "out_of_range", "malformed", "corrupted"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Verifier classifies the frames seen by one consumer.
type Verifier struct {
	producers uint32
	messages  uint32
	msgSize   uint32
	checksum  bool

	seen    bitarray.BitArray
	lastSeq []int64
	stats   Stats
}

// NewVerifier returns a verifier for a run of producers × messages frames.
func NewVerifier(producers, messages, msgSize uint32, checksum bool) *Verifier {
	lastSeq := make([]int64, producers)
	for i := range lastSeq {
		lastSeq[i] = -1
	}
	return &Verifier{
		producers: producers,
		messages:  messages,
		msgSize:   msgSize,
		checksum:  checksum,
		seen:      bitarray.NewBitArray(slots(producers, messages)),
		lastSeq:   lastSeq,
	}
}

func slots(producers, messages uint32) uint64 {
	// A zero-capacity bit array cannot be marshalled.
	return max(uint64(producers)*uint64(messages), 1)
}

// Observe classifies frame and updates the counters. Malformed frames are
// not counted as received.
func (v *Verifier) Observe(frame []byte) Class {
	h, payload, err := message.Decode(frame, v.msgSize)
	if err != nil {
		v.stats.Malformed++
		return Malformed
	}
	v.stats.TotalReceived++

	if v.checksum && message.Checksum(payload) != h.Checksum {
		v.stats.Corrupted++
		return Corrupted
	}
	if h.ProducerID >= v.producers || h.Seq >= v.messages {
		v.stats.OutOfRange++
		return OutOfRange
	}

	idx := uint64(h.ProducerID)*uint64(v.messages) + uint64(h.Seq)
	// idx is in range, so the bit array cannot fail.
	if dup, _ := v.seen.GetBit(idx); dup {
		v.stats.Duplicates++
		return Duplicate
	}
	_ = v.seen.SetBit(idx)

	class := Accepted
	if int64(h.Seq) < v.lastSeq[h.ProducerID] {
		v.stats.Reordered++
		class = AcceptedReordered
	} else {
		v.lastSeq[h.ProducerID] = int64(h.Seq)
	}
	return class
}

// Stats returns the counters so far.
func (v *Verifier) Stats() Stats {
	return v.stats
}

// Report packages the counters and the serialized seen set for consumer id.
func (v *Verifier) Report(id uint32) (Report, error) {
	seen, err := bitarray.Marshal(v.seen)
	if err != nil {
		return Report{}, fmt.Errorf("marshal seen set: %w", err)
	}
	return Report{Consumer: id, Stats: v.stats, Seen: seen}, nil
}
