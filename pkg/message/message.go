// Package message defines the fixed-size frame exchanged between producers
// and consumers: a 16-byte header followed by msg_size payload bytes.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

// SentinelProducerID marks the end-of-stream frame on the shared-memory ring.
// It is outside every valid producer range.
const SentinelProducerID uint32 = 0xFFFFFFFF

const (
	producerIDOffset = 0
	seqOffset        = producerIDOffset + 4
	payloadLenOffset = seqOffset + 4
	checksumOffset   = payloadLenOffset + 4
)

// ErrMalformedFrame is returned by Decode when the declared payload length
// does not match the run's message size.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrShortBuffer is returned by Encode when dst cannot hold the frame.
var ErrShortBuffer = errors.New("frame buffer too small")

// Header is the fixed message header. Fields are encoded little-endian in
// declaration order.
type Header struct {
	ProducerID uint32
	Seq        uint32
	PayloadLen uint32
	Checksum   uint32
}

// IsSentinel reports whether h marks end of stream.
func (h Header) IsSentinel() bool {
	return h.ProducerID == SentinelProducerID
}

// FrameSize returns the size of a frame carrying msgSize payload bytes.
func FrameSize(msgSize uint32) int {
	return HeaderSize + int(msgSize)
}

// PutHeader writes h into the first HeaderSize bytes of b.
func PutHeader(b []byte, h Header) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint32(b[producerIDOffset:], h.ProducerID)
	binary.LittleEndian.PutUint32(b[seqOffset:], h.Seq)
	binary.LittleEndian.PutUint32(b[payloadLenOffset:], h.PayloadLen)
	binary.LittleEndian.PutUint32(b[checksumOffset:], h.Checksum)
}

// ReadHeader parses the first HeaderSize bytes of b.
func ReadHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		ProducerID: binary.LittleEndian.Uint32(b[producerIDOffset:]),
		Seq:        binary.LittleEndian.Uint32(b[seqOffset:]),
		PayloadLen: binary.LittleEndian.Uint32(b[payloadLenOffset:]),
		Checksum:   binary.LittleEndian.Uint32(b[checksumOffset:]),
	}
}

// SetSeq rewrites only the sequence number of an encoded frame. Producers use
// it to reuse one frame buffer for the whole run.
func SetSeq(frame []byte, seq uint32) {
	binary.LittleEndian.PutUint32(frame[seqOffset:], seq)
}

// Encode writes h followed by payload into dst and returns the number of
// bytes written. h.PayloadLen is written as given, so callers can build
// deliberately malformed frames.
func Encode(dst []byte, h Header, payload []byte) (int, error) {
	n := HeaderSize + len(payload)
	if len(dst) < n {
		return 0, fmt.Errorf("encode %d bytes into %d: %w", n, len(dst), ErrShortBuffer)
	}
	PutHeader(dst, h)
	copy(dst[HeaderSize:], payload)
	return n, nil
}

// Decode parses a frame for a run configured with msgSize. The returned
// payload aliases frame. The header is returned even for malformed frames as
// long as the frame holds one.
func Decode(frame []byte, msgSize uint32) (Header, []byte, error) {
	if len(frame) < HeaderSize {
		return Header{}, nil, ErrMalformedFrame
	}
	h := ReadHeader(frame)
	if h.PayloadLen != msgSize {
		return h, nil, ErrMalformedFrame
	}
	if len(frame)-HeaderSize < int(msgSize) {
		return h, nil, ErrMalformedFrame
	}
	return h, frame[HeaderSize : HeaderSize+int(msgSize)], nil
}

// FillPayload writes the deterministic per-producer pattern into buf.
func FillPayload(buf []byte, producerID uint32) {
	c := byte('A' + producerID%26)
	for i := range buf {
		buf[i] = c
	}
}

// Checksum is xxhash64 of payload folded to 32 bits.
func Checksum(payload []byte) uint32 {
	sum := xxhash.Sum64(payload)
	return uint32(sum) ^ uint32(sum>>32)
}

// Sentinel returns the end-of-stream frame for a run configured with msgSize.
func Sentinel(msgSize uint32) []byte {
	frame := make([]byte, FrameSize(msgSize))
	PutHeader(frame, Header{ProducerID: SentinelProducerID, PayloadLen: msgSize})
	return frame
}
