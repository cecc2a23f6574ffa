package beam

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

// videoPacketSource adapts the encoder's output mailbox to the transport
// send stream: each batch is the parts of one encoded slice, newest
// frame wins.
type videoPacketSource struct {
	ch *flow.Latest[[]data.VideoPacket]
}

func (s videoPacketSource) Next(timeout time.Duration) ([][]byte, error) {
	packets, err := s.ch.Recv(timeout)
	if err != nil {
		return nil, err
	}

	batch := make([][]byte, 0, len(packets))
	for _, packet := range packets {
		raw, err := packet.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode video packet: %w", err)
		}
		batch = append(batch, raw)
	}
	return batch, nil
}

// audioPacketSource adapts the recorder's keyed channel to the transport
// send stream, draining packets in arrival order. The capture sequence
// travels inside the payload so the client reorders independently of the
// datagram sequence.
type audioPacketSource struct {
	ch *flow.Keyed[uint64, data.AudioPacket]
}

func (s audioPacketSource) Next(timeout time.Duration) ([][]byte, error) {
	packet, err := s.ch.RecvAny(timeout)
	if err != nil {
		return nil, err
	}

	raw, err := packet.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode audio packet: %w", err)
	}
	return [][]byte{raw}, nil
}

// audioPacketSink adapts the microphone receive stream to the player's
// keyed channel, keyed by the capture sequence recovered from the
// payload.
type audioPacketSink struct {
	logger *zap.SugaredLogger
	ch     *flow.Keyed[uint64, data.AudioPacket]
}

func (s audioPacketSink) Deliver(seq uint64, payload []byte) {
	var packet data.AudioPacket
	if err := packet.UnmarshalBinary(payload); err != nil {
		s.logger.Debugw("Skipping malformed audio packet", "streamSeq", seq, "error", err)
		return
	}
	s.ch.Send(packet.Sequence, packet)
}
