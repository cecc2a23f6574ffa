package beam

// ShutdownSignal names the reasons a running session can be torn down.
// Any component that detects termination raises one on the session's
// signal bus; the heartbeat loop consumes it exactly once.
type ShutdownSignal int

const (
	// SignalClientDisconnected means the client went away, politely or
	// not. The discovery loop gets a fresh reconnect deadline.
	SignalClientDisconnected ShutdownSignal = iota

	// SignalBackendShutdown means the host side is going down: OS
	// signal, tray quit, or the VR runtime disappearing. The streamer
	// exits after draining.
	SignalBackendShutdown
)

func (s ShutdownSignal) String() string {
	switch s {
	case SignalClientDisconnected:
		return "client disconnected"
	case SignalBackendShutdown:
		return "backend shutdown"
	default:
		return "unknown"
	}
}
