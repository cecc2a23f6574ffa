package hostdrv

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

func startSim(t *testing.T, slices int) (*Sim, []*flow.Latest[data.VideoFrame]) {
	t.Helper()

	sim := NewSim(zaptest.NewLogger(t).Sugar())

	producers := make([]*flow.Latest[data.VideoFrame], slices)
	for i := range producers {
		producers[i] = flow.NewLatest[data.VideoFrame]()
	}

	record := data.SessionRecord{
		LastHandshake: &data.ClientHandshake{
			NativeEyeResolution: [2]uint32{1440, 1600},
			FPS:                 90,
		},
	}
	if err := sim.RequestRestartOrInitialize(data.DefaultSettings(), record, PipelineHandles{SliceProducers: producers}); err != nil {
		t.Fatalf("RequestRestartOrInitialize() error: %v", err)
	}
	t.Cleanup(sim.DeinitializeForClient)

	return sim, producers
}

func TestSimPumpsFramesPerSlice(t *testing.T) {
	_, producers := startSim(t, 2)

	for slice, producer := range producers {
		frame, err := producer.Recv(2 * time.Second)
		if err != nil {
			t.Fatalf("slice %d: Recv() error: %v", slice, err)
		}
		if frame.SliceIndex != slice {
			t.Errorf("slice %d: frame carries SliceIndex %d", slice, frame.SliceIndex)
		}
		if len(frame.Data) == 0 {
			t.Errorf("slice %d: frame has no payload", slice)
		}
	}
}

func TestSimFramesCarryLatestPose(t *testing.T) {
	sim, producers := startSim(t, 1)

	pose := data.Pose{Position: [3]float32{1, 2, 3}, Orientation: [4]float32{0, 0, 0, 1}}
	sim.UpdateInput(&data.ClientUpdate{HeadMotion: data.MotionDesc{Pose: pose}})

	// the pose reaches the pump on its next tick; allow a few frames
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := producers[0].Recv(time.Second)
		if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
		if frame.Pose == pose {
			return
		}
	}
	t.Fatal("frames never picked up the updated head pose")
}

func TestSimDeinitializeStopsPumps(t *testing.T) {
	sim, producers := startSim(t, 1)

	sim.DeinitializeForClient()

	// drain whatever was in flight, then expect silence
	_, _ = producers[0].Recv(50 * time.Millisecond)
	if _, err := producers[0].Recv(100 * time.Millisecond); !errors.Is(err, flow.ErrTimeout) {
		t.Errorf("Recv() after deinitialize = %v, want ErrTimeout", err)
	}

	// a second deinitialize is harmless
	sim.DeinitializeForClient()
}

func TestSimHapticSinkRouting(t *testing.T) {
	sim := NewSim(zaptest.NewLogger(t).Sugar())

	var got []data.HapticPulse
	sim.SetHapticSink(func(p data.HapticPulse) { got = append(got, p) })

	pulse := data.HapticPulse{Hand: data.HandLeft, DurationSeconds: 0.2, Frequency: 160, Amplitude: 1}
	sim.EmitHaptic(pulse)

	if len(got) != 1 || got[0] != pulse {
		t.Errorf("haptic sink saw %v, want the emitted pulse", got)
	}

	// nil sink drops pulses instead of panicking
	sim.SetHapticSink(nil)
	sim.EmitHaptic(pulse)
}

func TestRuntimeRunningWithNoNames(t *testing.T) {
	if !RuntimeRunning() {
		t.Error("RuntimeRunning() with no names = false, want true")
	}
	if RuntimeRunning("definitely-not-a-real-process-name-zzz") {
		t.Error("RuntimeRunning() found a process that cannot exist")
	}
}
