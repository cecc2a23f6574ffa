package hostdrv

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

// simSlicePayload is the size of one synthetic slice. Small on purpose;
// the pipeline's behavior doesn't depend on realistic frame sizes.
const simSlicePayload = 1024

// Sim is a synthetic backend: one frame pump per slice generating frames
// at the negotiated rate, posed from the latest client update.
type Sim struct {
	logger *zap.SugaredLogger

	mu         sync.Mutex
	lastUpdate *data.ClientUpdate
	hapticSink func(data.HapticPulse)
	pumps      []*framePump
}

// NewSim returns an idle sim backend.
func NewSim(logger *zap.SugaredLogger) *Sim {
	return &Sim{logger: logger.Named("hostdrv")}
}

// UpdateInput records the client's state; subsequent frames carry its
// head pose.
func (s *Sim) UpdateInput(update *data.ClientUpdate) {
	s.mu.Lock()
	s.lastUpdate = update
	s.mu.Unlock()
}

// LastUpdate returns the most recent client state report, or nil.
func (s *Sim) LastUpdate() *data.ClientUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// SetHapticSink routes haptic events to the current session's client.
func (s *Sim) SetHapticSink(sink func(data.HapticPulse)) {
	s.mu.Lock()
	s.hapticSink = sink
	s.mu.Unlock()
}

// EmitHaptic raises one haptic pulse toward the connected client, if any.
func (s *Sim) EmitHaptic(pulse data.HapticPulse) {
	s.mu.Lock()
	sink := s.hapticSink
	s.mu.Unlock()
	if sink != nil {
		sink(pulse)
	}
}

// RequestRestartOrInitialize starts one frame pump per slice producer at
// the display rate resolved from the persisted session record.
func (s *Sim) RequestRestartOrInitialize(settings data.Settings, record data.SessionRecord, handles PipelineHandles) error {
	params := record.ResolveDisplayParams()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopPumpsLocked()

	interval := time.Second / time.Duration(params.FPS)
	for slice, producer := range handles.SliceProducers {
		pump := newFramePump(s, slice, producer, interval)
		s.pumps = append(s.pumps, pump)
		go pump.run()
	}

	s.logger.Infow("Sim backend initialized",
		"slices", len(handles.SliceProducers),
		"fps", params.FPS,
		"eyeResolution", params.EyeResolution)

	return nil
}

// DeinitializeForClient stops all frame pumps.
func (s *Sim) DeinitializeForClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPumpsLocked()
}

func (s *Sim) stopPumpsLocked() {
	// stop is requested on every pump before joining any of them
	for _, pump := range s.pumps {
		pump.requestStop()
	}
	for _, pump := range s.pumps {
		pump.join()
	}
	if len(s.pumps) > 0 {
		s.logger.Debug("Sim frame pumps stopped")
	}
	s.pumps = nil
}

// framePump generates synthetic frames for one slice.
type framePump struct {
	sim      *Sim
	slice    int
	producer *flow.Latest[data.VideoFrame]
	interval time.Duration

	stopRequested atomic.Bool
	done          chan struct{}
}

func newFramePump(sim *Sim, slice int, producer *flow.Latest[data.VideoFrame], interval time.Duration) *framePump {
	return &framePump{
		sim:      sim,
		slice:    slice,
		producer: producer,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (p *framePump) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var frameIndex uint64
	for range ticker.C {
		if p.stopRequested.Load() {
			return
		}

		var pose data.Pose
		if update := p.sim.LastUpdate(); update != nil {
			pose = update.HeadMotion.Pose
		}

		payload := make([]byte, simSlicePayload)
		binary.BigEndian.PutUint64(payload, frameIndex)
		payload[8] = byte(p.slice)

		p.producer.Send(data.VideoFrame{
			SliceIndex: p.slice,
			FrameIndex: frameIndex,
			Pose:       pose,
			Data:       payload,
			CapturedAt: time.Now(),
		})
		frameIndex++
	}
}

func (p *framePump) requestStop() {
	p.stopRequested.Store(true)
}

func (p *framePump) join() {
	<-p.done
}
