// Package hostdrv is the seam to the VR runtime side of the host: the
// component that composites frames, consumes tracking input and raises
// haptic feedback. The real runtime adapter is host-ABI bound and lives
// outside this repository; Sim stands in for it so the whole pipeline
// runs without a headset runtime installed.
package hostdrv

import (
	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

// PipelineHandles are the producer ends of the session's video pipeline,
// handed to the backend so it can feed composited slices to the encoders.
type PipelineHandles struct {
	SliceProducers []*flow.Latest[data.VideoFrame]
}

// Backend is the host-runtime contract the session orchestrator drives.
// Implementations are constructed once at process start and passed by
// reference to every component that needs them; nothing in this package
// is process-global.
type Backend interface {
	// UpdateInput feeds the client's periodic state report into the
	// runtime's tracking state.
	UpdateInput(update *data.ClientUpdate)

	// RequestRestartOrInitialize (re)configures the virtual display for
	// a freshly negotiated session and starts feeding the pipeline
	// handles. Errors abort the connection attempt, not the process.
	RequestRestartOrInitialize(settings data.Settings, record data.SessionRecord, handles PipelineHandles) error

	// DeinitializeForClient stops feeding the pipeline. Called after
	// every connection attempt, successful or not; extra calls are
	// harmless.
	DeinitializeForClient()

	// SetHapticSink routes runtime haptic events to the current client,
	// or to nowhere when sink is nil.
	SetHapticSink(sink func(data.HapticPulse))
}
