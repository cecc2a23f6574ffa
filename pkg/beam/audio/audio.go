// Package audio runs the optional audio pipelines: a recorder that
// captures host playback into sequenced packets, and a player that feeds
// the client's microphone stream into a host output device. Both sit
// behind small device interfaces so the OS backends (WASAPI, PulseAudio)
// stay replaceable in tests.
package audio

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

// CaptureDevice yields raw sample chunks from a host audio source. Read
// blocks until a chunk is available; after Close it returns an error,
// which is how a blocked recorder is released.
type CaptureDevice interface {
	Read() ([]byte, error)
	Close() error
}

// PlaybackDevice consumes raw sample chunks into a host audio output.
type PlaybackDevice interface {
	Write(chunk []byte) error
	Close() error
}

// Recorder captures host playback and produces sequenced packets into a
// keyed channel drained by the transport send stream.
type Recorder struct {
	logger        *zap.SugaredLogger
	dev           CaptureDevice
	out           *flow.Keyed[uint64, data.AudioPacket]
	maxPacketSize int

	stopRequested atomic.Bool
	done          chan struct{}
	captured      atomic.Uint64
}

// StartRecorder launches the capture worker. The recorder owns the
// device and closes it when the worker exits.
func StartRecorder(
	logger *zap.SugaredLogger,
	dev CaptureDevice,
	maxPacketSize int,
	out *flow.Keyed[uint64, data.AudioPacket],
) *Recorder {
	r := &Recorder{
		logger:        logger.Named("recorder"),
		dev:           dev,
		out:           out,
		maxPacketSize: maxPacketSize,
		done:          make(chan struct{}),
	}

	r.logger.Debug("Audio recorder started")

	go r.run()

	return r
}

func (r *Recorder) run() {
	defer close(r.done)

	var seq uint64
	for {
		if r.stopRequested.Load() {
			return
		}

		chunk, err := r.dev.Read()
		if err != nil {
			if !r.stopRequested.Load() {
				r.logger.Warnw("Audio capture failed, stopping recorder", "error", err)
			}
			return
		}
		if len(chunk) == 0 {
			continue
		}

		// large capture buffers are split so every packet fits a datagram
		for start := 0; start < len(chunk); start += r.maxPacketSize {
			end := start + r.maxPacketSize
			if end > len(chunk) {
				end = len(chunk)
			}
			r.out.Send(seq, data.AudioPacket{
				Sequence: seq,
				Data:     append([]byte(nil), chunk[start:end]...),
			})
			seq++
			r.captured.Add(1)
		}
	}
}

// Captured returns how many packets this recorder has produced.
func (r *Recorder) Captured() uint64 {
	return r.captured.Load()
}

// RequestStop asks the worker to exit without waiting for it. Closing
// the device releases a Read in flight.
func (r *Recorder) RequestStop() {
	if r.stopRequested.CompareAndSwap(false, true) {
		_ = r.dev.Close()
	}
}

// Close stops the worker and waits for it.
func (r *Recorder) Close() error {
	r.RequestStop()
	<-r.done
	return nil
}

// immediateRecv is the deadline used when probing a channel for an
// already-buffered entry.
const immediateRecv = time.Millisecond

// Player drains the client's microphone packets in sequence order and
// writes them to a playback device. A packet that never arrives delays
// playback at most one per-packet timeout; the player then resumes at the
// oldest packet still buffered.
type Player struct {
	logger           *zap.SugaredLogger
	in               *flow.Keyed[uint64, data.AudioPacket]
	dev              PlaybackDevice
	perPacketTimeout time.Duration

	stopRequested atomic.Bool
	done          chan struct{}
	played        atomic.Uint64
	skipped       atomic.Uint64
}

// StartPlayer launches the playback worker. The player owns the device
// and closes it when the worker exits.
func StartPlayer(
	logger *zap.SugaredLogger,
	in *flow.Keyed[uint64, data.AudioPacket],
	dev PlaybackDevice,
	perPacketTimeout time.Duration,
) *Player {
	p := &Player{
		logger:           logger.Named("player"),
		in:               in,
		dev:              dev,
		perPacketTimeout: perPacketTimeout,
		done:             make(chan struct{}),
	}

	p.logger.Debug("Audio player started")

	go p.run()

	return p
}

func (p *Player) run() {
	defer close(p.done)
	defer func() { _ = p.dev.Close() }()

	var next uint64
	for {
		if p.stopRequested.Load() {
			return
		}

		pkt, err := p.in.Recv(next, p.perPacketTimeout)
		if errors.Is(err, flow.ErrClosed) {
			return
		}
		if errors.Is(err, flow.ErrTimeout) {
			// the expected packet is late or lost; resume at the oldest
			// one buffered, if any, instead of waiting forever
			pkt, err = p.in.RecvAny(immediateRecv)
			if err != nil {
				if errors.Is(err, flow.ErrClosed) {
					return
				}
				continue
			}
			if pkt.Sequence > next {
				p.skipped.Add(pkt.Sequence - next)
			}
		}

		next = pkt.Sequence + 1

		if err := p.dev.Write(pkt.Data); err != nil {
			if !p.stopRequested.Load() {
				p.logger.Warnw("Audio playback failed, stopping player", "error", err)
			}
			return
		}
		p.played.Add(1)
	}
}

// Played returns how many packets reached the device.
func (p *Player) Played() uint64 {
	return p.played.Load()
}

// Skipped returns how many sequence numbers were given up on.
func (p *Player) Skipped() uint64 {
	return p.skipped.Load()
}

// RequestStop asks the worker to exit without waiting for it.
func (p *Player) RequestStop() {
	p.stopRequested.Store(true)
}

// Close stops the worker and waits for it.
func (p *Player) Close() error {
	p.RequestStop()
	<-p.done
	return nil
}
