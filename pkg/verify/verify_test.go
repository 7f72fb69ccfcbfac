package verify

import (
	"runtime"
	"testing"

	"github.com/Workiva/go-datastructures/bitarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/ipcbench/pkg/message"
)

func frame(producer, seq, msgSize uint32, checksum bool) []byte {
	payload := make([]byte, msgSize)
	message.FillPayload(payload, producer)
	h := message.Header{ProducerID: producer, Seq: seq, PayloadLen: msgSize}
	if checksum {
		h.Checksum = message.Checksum(payload)
	}
	buf := make([]byte, message.FrameSize(msgSize))
	_, _ = message.Encode(buf, h, payload)
	return buf
}

func TestObserveCleanRun(t *testing.T) {
	v := NewVerifier(2, 50, 32, false)
	for p := uint32(0); p < 2; p++ {
		for s := uint32(0); s < 50; s++ {
			assert.Equal(t, Accepted, v.Observe(frame(p, s, 32, false)))
		}
	}
	st := v.Stats()
	assert.Equal(t, uint64(100), st.TotalReceived)
	assert.True(t, st.Clean())
	assert.Zero(t, st.Reordered)
}

func TestObserveDuplicate(t *testing.T) {
	v := NewVerifier(1, 10, 16, false)
	for s := uint32(0); s < 10; s++ {
		v.Observe(frame(0, s, 16, false))
	}
	assert.Equal(t, Duplicate, v.Observe(frame(0, 5, 16, false)))

	st := v.Stats()
	assert.Equal(t, uint64(11), st.TotalReceived)
	assert.Equal(t, uint64(1), st.Duplicates)
	assert.Zero(t, st.Reordered)
}

func TestObserveOutOfRange(t *testing.T) {
	v := NewVerifier(2, 10, 16, false)
	assert.Equal(t, OutOfRange, v.Observe(frame(2, 0, 16, false)))
	assert.Equal(t, OutOfRange, v.Observe(frame(0, 10, 16, false)))

	st := v.Stats()
	assert.Equal(t, uint64(2), st.TotalReceived)
	assert.Equal(t, uint64(2), st.OutOfRange)
	assert.Zero(t, st.Duplicates)
}

func TestObserveMalformed(t *testing.T) {
	v := NewVerifier(1, 10, 16, false)
	bad := frame(0, 1, 16, false)
	message.PutHeader(bad, message.Header{ProducerID: 0, Seq: 1, PayloadLen: 15})

	assert.Equal(t, Malformed, v.Observe(bad))
	assert.Equal(t, Malformed, v.Observe(bad[:8]))
	assert.Equal(t, Accepted, v.Observe(frame(0, 1, 16, false)))

	st := v.Stats()
	assert.Equal(t, uint64(2), st.Malformed)
	assert.Equal(t, uint64(1), st.TotalReceived)
}

func TestObserveChecksum(t *testing.T) {
	v := NewVerifier(1, 4, 16, true)
	assert.Equal(t, Accepted, v.Observe(frame(0, 0, 16, true)))

	bad := frame(0, 1, 16, true)
	bad[message.HeaderSize] ^= 0xff
	assert.Equal(t, Corrupted, v.Observe(bad))

	st := v.Stats()
	assert.Equal(t, uint64(1), st.Corrupted)
	assert.Equal(t, uint64(2), st.TotalReceived)
	assert.False(t, st.Clean())

	// Checksums off ignores the field entirely.
	off := NewVerifier(1, 4, 16, false)
	assert.Equal(t, Accepted, off.Observe(bad))
}

func TestObserveReordered(t *testing.T) {
	v := NewVerifier(1, 10, 8, false)
	assert.Equal(t, Accepted, v.Observe(frame(0, 3, 8, false)))
	assert.Equal(t, AcceptedReordered, v.Observe(frame(0, 1, 8, false)))
	assert.Equal(t, Accepted, v.Observe(frame(0, 4, 8, false)))
	assert.Equal(t, uint64(1), v.Stats().Reordered)
	assert.True(t, v.Stats().Clean())
}

func TestStatsAdd(t *testing.T) {
	a := Stats{TotalReceived: 3, Duplicates: 1, Malformed: 2}
	a.Add(Stats{TotalReceived: 4, OutOfRange: 1, Corrupted: 1, Reordered: 5})
	assert.Equal(t, Stats{TotalReceived: 7, Duplicates: 1, OutOfRange: 1, Malformed: 2, Corrupted: 1, Reordered: 5}, a)
}

func TestMergeDisjointConsumers(t *testing.T) {
	const producers, messages = 2, 100
	a := NewVerifier(producers, messages, 8, false)
	b := NewVerifier(producers, messages, 8, false)
	for p := uint32(0); p < producers; p++ {
		for s := uint32(0); s < messages; s++ {
			if s%2 == 0 {
				a.Observe(frame(p, s, 8, false))
			} else {
				b.Observe(frame(p, s, 8, false))
			}
		}
	}
	ra, err := a.Report(0)
	require.NoError(t, err)
	rb, err := b.Report(1)
	require.NoError(t, err)

	sum, err := Merge([]Report{ra, rb}, producers, messages)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), sum.Expected)
	assert.Equal(t, uint64(200), sum.Unique)
	assert.Equal(t, uint64(200), sum.Totals.TotalReceived)
	assert.Zero(t, sum.CrossDuplicates)
	assert.Zero(t, sum.Missing)
	assert.True(t, sum.Complete())
}

func TestMergeFindsCrossConsumerDuplicatesAndGaps(t *testing.T) {
	a := NewVerifier(1, 10, 8, false)
	b := NewVerifier(1, 10, 8, false)
	for s := uint32(0); s < 6; s++ {
		a.Observe(frame(0, s, 8, false))
	}
	// seq 5 delivered to both consumers; 8 and 9 never delivered.
	for s := uint32(5); s < 8; s++ {
		b.Observe(frame(0, s, 8, false))
	}
	ra, err := a.Report(0)
	require.NoError(t, err)
	rb, err := b.Report(1)
	require.NoError(t, err)

	sum, err := Merge([]Report{ra, rb}, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, sum.Totals.Duplicates)
	assert.Equal(t, uint64(1), sum.CrossDuplicates)
	assert.Equal(t, uint64(8), sum.Unique)
	assert.Equal(t, uint64(2), sum.Missing)
	assert.False(t, sum.Complete())
}

func TestMergeRejectsForeignSeenSet(t *testing.T) {
	small := NewVerifier(1, 10, 8, false)
	r, err := small.Report(0)
	require.NoError(t, err)

	_, err = Merge([]Report{r}, 100, 100)
	assert.Error(t, err)

	_, err = Merge([]Report{{Consumer: 1, Seen: []byte{0x01}}}, 1, 10)
	assert.Error(t, err)
}

func TestMergeLargeRunAllocatesBitmapsOnly(t *testing.T) {
	const producers, messages = 256, 1 << 16
	full := bitarray.NewBitArray(uint64(producers)*messages, true)
	seen, err := bitarray.Marshal(full)
	require.NoError(t, err)
	reports := []Report{{Consumer: 0, Seen: seen}, {Consumer: 1, Seen: seen}}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	sum, err := Merge(reports, producers, messages)
	runtime.ReadMemStats(&after)
	require.NoError(t, err)

	assert.Equal(t, uint64(producers)*messages, sum.Unique)
	assert.Equal(t, uint64(producers)*messages, sum.CrossDuplicates)
	assert.Zero(t, sum.Missing)
	// Each bitmap is 2 MiB. Materializing the set bits would cost 128 MiB
	// per array.
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(32<<20))
}
