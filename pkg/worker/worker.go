// Package worker contains the producer and consumer loops. The loops only
// see api.Sender and api.Receiver, so the same code runs in a child process
// (see Main) or on a goroutine of the orchestrator.
package worker

import (
	"errors"
	"fmt"

	"github.com/srediag/ipcbench/api"
	"github.com/srediag/ipcbench/internal/config"
	"github.com/srediag/ipcbench/internal/logging"
	"github.com/srediag/ipcbench/pkg/message"
	"github.com/srediag/ipcbench/pkg/verify"
)

var internalLogger = logging.Named("worker")

// Role is the kind of worker.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// RunProducer sends cfg.Messages frames with ascending seq numbers and
// closes s. Any send failure is fatal.
func RunProducer(id uint32, cfg *config.Config, s api.Sender) (err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: producer %d: close: %w", api.ErrIO, id, cerr)
		}
	}()

	payload := make([]byte, cfg.MsgSize)
	message.FillPayload(payload, id)
	h := message.Header{ProducerID: id, PayloadLen: cfg.MsgSize}
	if cfg.Checksum {
		h.Checksum = message.Checksum(payload)
	}
	frame := make([]byte, message.FrameSize(cfg.MsgSize))
	if _, err := message.Encode(frame, h, payload); err != nil {
		return fmt.Errorf("%w: producer %d: %w", api.ErrSetup, id, err)
	}

	for seq := uint32(0); seq < cfg.Messages; seq++ {
		message.SetSeq(frame, seq)
		if err := s.Send(frame); err != nil {
			return fmt.Errorf("producer %d seq %d: %w", id, seq, err)
		}
	}
	internalLogger.Debugf("producer %d sent %d messages", id, cfg.Messages)
	return nil
}

// RunConsumer receives until end of stream, classifying every frame, and
// returns the consumer's report. r is closed on return.
func RunConsumer(id uint32, cfg *config.Config, r api.Receiver) (verify.Report, error) {
	defer r.Close()

	v := verify.NewVerifier(cfg.Producers, cfg.Messages, cfg.MsgSize, cfg.Checksum)
	frame := make([]byte, message.FrameSize(cfg.MsgSize))
	for {
		err := r.Receive(frame)
		if errors.Is(err, api.ErrEndOfStream) {
			break
		}
		if err != nil {
			return verify.Report{}, fmt.Errorf("consumer %d after %d frames: %w", id, v.Stats().TotalReceived, err)
		}
		if c := v.Observe(frame); c != verify.Accepted && logging.DebugMode() {
			h := message.ReadHeader(frame)
			internalLogger.Debugf("consumer %d: %s frame producer:%d seq:%d", id, c, h.ProducerID, h.Seq)
		}
	}

	rep, err := v.Report(id)
	if err != nil {
		return verify.Report{}, fmt.Errorf("consumer %d: %w", id, err)
	}
	internalLogger.Debugf("consumer %d done: %s", id, rep.Stats)
	return rep, nil
}
