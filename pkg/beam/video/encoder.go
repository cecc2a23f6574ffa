package video

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

// encoderPollInterval bounds every blocking wait inside the encode loop,
// so a stop request is honored within one interval even if nobody closes
// the input channel.
const encoderPollInterval = 500 * time.Millisecond

// maxParts is the ceiling PartCount can express on the wire.
const maxParts = 255

// Encoder is the per-slice encode worker. It takes the freshest frame
// from its input mailbox (skipping any it fell behind on), encodes it and
// hands the resulting packet parts to the transport send stream via the
// output mailbox.
type Encoder struct {
	logger        *zap.SugaredLogger
	slice         int
	codec         Codec
	maxPacketSize int
	in            *flow.Latest[data.VideoFrame]
	out           *flow.Latest[[]data.VideoPacket]

	stopRequested atomic.Bool
	done          chan struct{}
	encoded       atomic.Uint64
}

// StartEncoder launches the encode worker for one slice. The encoder owns
// the codec and closes it when the worker exits.
func StartEncoder(
	logger *zap.SugaredLogger,
	slice int,
	codec Codec,
	maxPacketSize int,
	in *flow.Latest[data.VideoFrame],
	out *flow.Latest[[]data.VideoPacket],
) *Encoder {
	e := &Encoder{
		logger:        logger.Named("encoder"),
		slice:         slice,
		codec:         codec,
		maxPacketSize: maxPacketSize,
		in:            in,
		out:           out,
		done:          make(chan struct{}),
	}

	e.logger.Debugw("Encoder started", "slice", slice)

	go e.run()

	return e
}

func (e *Encoder) run() {
	defer close(e.done)

	for {
		if e.stopRequested.Load() {
			return
		}

		frame, err := e.in.Recv(encoderPollInterval)
		if errors.Is(err, flow.ErrTimeout) {
			continue
		}
		if errors.Is(err, flow.ErrClosed) {
			e.logger.Debugw("Encoder input closed", "slice", e.slice)
			return
		}

		encoded, err := e.codec.EncodeFrame(frame)
		if err != nil {
			// one bad frame shouldn't kill the slice; skip ahead
			e.logger.Warnw("Failed to encode frame",
				"slice", e.slice,
				"frameIndex", frame.FrameIndex,
				"error", err)
			continue
		}

		packets, err := splitEncodedSlice(frame, encoded, e.maxPacketSize)
		if err != nil {
			e.logger.Warnw("Dropping oversized encoded frame",
				"slice", e.slice,
				"frameIndex", frame.FrameIndex,
				"error", err)
			continue
		}

		e.out.Send(packets)
		e.encoded.Add(1)
	}
}

// splitEncodedSlice splits one encoded slice into packets no larger than
// maxPacketSize, numbered so the client can reassemble them by
// (FrameIndex, PartIndex).
func splitEncodedSlice(frame data.VideoFrame, encoded []byte, maxPacketSize int) ([]data.VideoPacket, error) {
	partCount := (len(encoded) + maxPacketSize - 1) / maxPacketSize
	if partCount == 0 {
		partCount = 1
	}
	if partCount > maxParts {
		return nil, fmt.Errorf("encoded slice needs %d parts, wire maximum is %d", partCount, maxParts)
	}

	packets := make([]data.VideoPacket, 0, partCount)
	for part := 0; part < partCount; part++ {
		start := part * maxPacketSize
		end := start + maxPacketSize
		if end > len(encoded) {
			end = len(encoded)
		}
		packets = append(packets, data.VideoPacket{
			Header: data.VideoPacketHeader{
				FrameIndex: frame.FrameIndex,
				SliceIndex: uint8(frame.SliceIndex),
				PartIndex:  uint8(part),
				PartCount:  uint8(partCount),
				Pose:       frame.Pose,
			},
			Payload: encoded[start:end],
		})
	}
	return packets, nil
}

// Encoded returns how many frames this worker has encoded.
func (e *Encoder) Encoded() uint64 {
	return e.encoded.Load()
}

// RequestStop asks the worker to exit without waiting for it. Safe to
// call more than once.
func (e *Encoder) RequestStop() {
	e.stopRequested.Store(true)
}

// Close stops the worker, waits for it and releases the codec.
func (e *Encoder) Close() error {
	e.RequestStop()
	<-e.done
	return e.codec.Close()
}
