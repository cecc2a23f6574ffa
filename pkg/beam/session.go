package beam

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/audio"
	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
	"github.com/beamvr/beam/pkg/beam/hostdrv"
	"github.com/beamvr/beam/pkg/beam/transport"
	"github.com/beamvr/beam/pkg/beam/video"
)

const (
	// discoverInterval is one discovery wait; the outer loop retries
	// until the reconnect deadline.
	discoverInterval = time.Second

	// heartbeatInterval paces the statistics/shutdown-wait loop, the
	// orchestrator's only blocking point during steady state.
	heartbeatInterval = time.Second

	controlDialTimeout = 2 * time.Second
)

// sessionOutcome is how one connection attempt ended.
type sessionOutcome int

const (
	// outcomeRetry: the attempt was aborted (discovery timeout, version
	// mismatch, startup failure); rediscover without touching the
	// reconnect deadline.
	outcomeRetry sessionOutcome = iota

	// outcomeClientDisconnected: a streaming session ended because the
	// client went away; the reconnect deadline resets.
	outcomeClientDisconnected

	// outcomeBackendShutdown: the host is going down; the serve loop
	// exits permanently.
	outcomeBackendShutdown
)

// sessionComponent is a pipeline worker with two-phase shutdown:
// RequestStop is non-blocking and idempotent, Close joins.
type sessionComponent interface {
	RequestStop()
	Close() error
}

// session owns everything built for one connected client: the channel
// endpoints, the transport handles and the workers it must stop on
// teardown. The component list is appended to during construction and
// iterated during drain, never mutated from worker goroutines.
type session struct {
	logger *zap.SugaredLogger
	id     string
	bus    *flow.SignalBus[ShutdownSignal]
	stats  *Statistics

	components     []sessionComponent
	channelClosers []func()

	conn          *transport.Conn
	encoders      []*video.Encoder
	videoStreams  []*transport.SendStream
	audioSend     *transport.SendStream
	audioRecv     *transport.ReceiveStream
	frameChannels []*flow.Latest[data.VideoFrame]
	audioOut      *flow.Keyed[uint64, data.AudioPacket]
	micIn         *flow.Keyed[uint64, data.AudioPacket]
}

// serve runs the streamer's outer loop until the host shuts down or the
// reconnect deadline passes with no client.
func (s *Streamer) serve() {
	defer s.recoverFromPanic()
	defer close(s.serveDone)

	settings := s.configMan.Current()

	discovery, err := transport.NewDiscovery(s.logger, settings.Connection.DiscoveryPort)
	if err != nil {
		s.logger.Errorw("Failed to bind discovery, cannot serve", "error", err)
		s.notifier.Notify("Beam cannot start", "The discovery port could not be bound. See logs for details.")
		s.signalStop()
		return
	}
	defer discovery.Close()

	s.serveLoop(discovery)
	s.signalStop()
}

func (s *Streamer) serveLoop(discovery *transport.Discovery) {
	reconnect := func() time.Duration {
		return time.Duration(s.configMan.Current().Host.ReconnectTimeoutSeconds) * time.Second
	}

	deadline := time.Now().Add(reconnect())
	for time.Now().Before(deadline) {
		if s.stopRequested.Load() {
			return
		}

		outcome, err := s.runSession(discovery)
		s.backend.DeinitializeForClient()

		if err != nil {
			s.logger.Warnw("Connection attempt failed", "error", err)
		}

		switch outcome {
		case outcomeClientDisconnected:
			s.logger.Info("Client disconnected, waiting for it to come back")
			s.notifier.Notify("Client disconnected", "Waiting for the headset to reconnect.")
			deadline = time.Now().Add(reconnect())
		case outcomeBackendShutdown:
			return
		}
	}

	s.logger.Info("No client connected within the reconnect deadline, giving up")
}

// runSession is one pass through the session state machine: discover a
// client, gate its protocol version, build the pipeline, run the
// heartbeat loop, drain. Setup errors are recovered here; they abort the
// attempt, never the process.
func (s *Streamer) runSession(discovery *transport.Discovery) (sessionOutcome, error) {
	settings := s.configMan.Current()

	handshake, clientAddr, err := discovery.Discover(settings.Connection.ClientAddr, discoverInterval)
	if errors.Is(err, transport.ErrDiscoveryTimeout) {
		return outcomeRetry, nil
	}
	if err != nil {
		return outcomeRetry, fmt.Errorf("discover client: %w", err)
	}

	if handshake.Version.Less(data.MinClientVersion) {
		s.logger.Warnw("Rejecting client with unsupported protocol version",
			"client", handshake.Name,
			"offered", handshake.Version,
			"required", data.MinClientVersion)
		return outcomeRetry, nil
	}

	sess := &session{
		logger: s.logger.Named("session"),
		id:     uuid.NewString(),
		bus:    flow.NewSignalBus[ShutdownSignal](),
	}
	sess.stats = NewStatistics(s.logger, sess.id, settings.Bitrate.HistorySeconds)

	// the host-side stop path (OS signal, tray quit) reaches the
	// session through this bus
	s.setActiveBus(sess.bus)
	defer s.setActiveBus(nil)

	negotiated := sess.stats.SuggestedBitrateMbps(settings.Bitrate)
	if err := s.store.Update(func(r *data.SessionRecord) {
		hs := handshake
		r.LastHandshake = &hs
		r.NegotiatedBitrateMbps = &negotiated
		if cache, err := json.Marshal(settings); err == nil {
			r.SettingsCache = cache
		}
	}); err != nil {
		s.logger.Warnw("Failed to persist session record", "error", err)
	}

	sess.logger.Infow("Client accepted",
		"session", sess.id,
		"client", handshake.Name,
		"version", handshake.Version,
		"from", clientAddr)
	s.notifier.Notify("Client connected", fmt.Sprintf("Streaming to %s.", handshake.Name))

	if err := s.buildPipeline(sess, settings, handshake, clientAddr); err != nil {
		s.drain(sess)

		// a host-side stop that raced the failed startup must still
		// terminate the serve loop, not trigger a rediscovery
		if signal, busErr := sess.bus.TryRecv(); errors.Is(busErr, flow.ErrClosed) ||
			(busErr == nil && signal == SignalBackendShutdown) {
			return outcomeBackendShutdown, err
		}
		return outcomeRetry, err
	}

	signal := s.heartbeat(sess, settings)

	if signal == SignalBackendShutdown {
		// best-effort goodbye before the link is torn down
		if err := sess.conn.SendReliable(&data.ServerMessage{Kind: data.ServerMessageShutdown}); err != nil {
			sess.logger.Debugw("Failed to send shutdown notice", "error", err)
		}
	}

	s.drain(sess)

	if signal == SignalBackendShutdown {
		return outcomeBackendShutdown, nil
	}
	return outcomeClientDisconnected, nil
}

// buildPipeline wires the per-session graph: control link, one encode
// worker and send stream per slice, and the optional audio pipelines.
// Every started component lands on the session's stop-list. On error the
// caller drains whatever was already started.
func (s *Streamer) buildPipeline(
	sess *session,
	settings data.Settings,
	handshake data.ClientHandshake,
	clientAddr *net.UDPAddr,
) error {
	serverHandshake := &data.ServerHandshake{
		Version:             data.ProtocolVersion,
		Settings:            settings,
		TargetEyeResolution: data.TargetEyeResolution(settings.Video, handshake.NativeEyeResolution),
	}

	handler := func(msg *data.ClientMessage) {
		switch msg.Kind {
		case data.ClientMessageUpdate:
			if msg.Update != nil {
				s.backend.UpdateInput(msg.Update)
			}
		case data.ClientMessageStatistics:
			if msg.Statistics != nil {
				sess.stats.RecordClientStats(*msg.Statistics)
			}
		case data.ClientMessageDisconnected:
			sess.bus.Send(SignalClientDisconnected)
		}
	}

	conn, err := transport.Connect(s.logger, clientAddr, handshake.ControlPort, serverHandshake, handler, controlDialTimeout)
	if err != nil {
		return fmt.Errorf("establish control link: %w", err)
	}
	sess.conn = conn
	sess.components = append(sess.components, conn)

	s.backend.SetHapticSink(func(pulse data.HapticPulse) {
		if err := conn.SendUnreliable(&data.ServerMessage{Kind: data.ServerMessageHaptic, Haptic: &pulse}); err != nil {
			sess.logger.Debugw("Failed to send haptic pulse", "error", err)
		}
	})

	basePort := settings.Connection.StartingStreamPort

	for i := 0; i < settings.Video.SliceCount; i++ {
		frameCh := flow.NewLatest[data.VideoFrame]()
		packetCh := flow.NewLatest[[]data.VideoPacket]()
		sess.frameChannels = append(sess.frameChannels, frameCh)
		sess.channelClosers = append(sess.channelClosers, frameCh.Close, packetCh.Close)

		codec, err := video.NewCodec(settings.Video.Encoder)
		if err != nil {
			return fmt.Errorf("create codec for slice %d: %w", i, err)
		}

		encoder := video.StartEncoder(s.logger, i, codec, settings.Video.MaxPacketSize, frameCh, packetCh)
		sess.encoders = append(sess.encoders, encoder)
		sess.components = append(sess.components, encoder)

		stream, err := transport.OpenSendStream(s.logger,
			fmt.Sprintf("video-%d", i), clientAddr.IP, basePort+uint16(i),
			videoPacketSource{packetCh})
		if err != nil {
			return fmt.Errorf("open video stream %d: %w", i, err)
		}
		sess.videoStreams = append(sess.videoStreams, stream)
		sess.components = append(sess.components, stream)
	}

	// slice and audio channels keep independent eviction timeouts
	audioTimeout := time.Duration(settings.Audio.ChannelTimeoutMs) * time.Millisecond

	if settings.Audio.Loopback != nil {
		dev, err := audio.OpenCaptureDevice(s.logger, settings.Audio.Loopback.Device)
		if err != nil {
			return fmt.Errorf("open loopback capture: %w", err)
		}

		out := flow.NewKeyed[uint64, data.AudioPacket](audioTimeout)
		sess.audioOut = out
		sess.channelClosers = append(sess.channelClosers, out.Close)

		recorder := audio.StartRecorder(s.logger, dev, settings.Audio.MaxPacketSize, out)
		sess.components = append(sess.components, recorder)

		stream, err := transport.OpenSendStream(s.logger,
			"audio", clientAddr.IP, basePort+uint16(settings.Video.SliceCount),
			audioPacketSource{out})
		if err != nil {
			return fmt.Errorf("open audio stream: %w", err)
		}
		sess.audioSend = stream
		sess.components = append(sess.components, stream)
	}

	if settings.Audio.Microphone != nil {
		dev, err := audio.OpenPlaybackDevice(s.logger, settings.Audio.Microphone.Device)
		if err != nil {
			return fmt.Errorf("open microphone playback: %w", err)
		}

		in := flow.NewKeyed[uint64, data.AudioPacket](audioTimeout)
		sess.micIn = in
		sess.channelClosers = append(sess.channelClosers, in.Close)

		recv, err := transport.OpenReceiveStream(s.logger,
			"microphone", basePort+uint16(settings.Video.SliceCount)+1,
			audioPacketSink{logger: sess.logger, ch: in})
		if err != nil {
			_ = dev.Close()
			return fmt.Errorf("open microphone stream: %w", err)
		}
		sess.audioRecv = recv
		sess.components = append(sess.components, recv)

		player := audio.StartPlayer(s.logger, in, dev, audioTimeout)
		sess.components = append(sess.components, player)
	}

	if err := s.backend.RequestRestartOrInitialize(settings, s.store.Record(),
		hostdrv.PipelineHandles{SliceProducers: sess.frameChannels}); err != nil {
		return fmt.Errorf("initialize host backend: %w", err)
	}

	return nil
}

// heartbeat alternates emitting statistics and waiting on the shutdown
// bus until a termination trigger arrives.
func (s *Streamer) heartbeat(sess *session, settings data.Settings) ShutdownSignal {
	for {
		sess.stats.Observe(s.collectTotals(sess))
		sess.stats.LogSummary()

		if names := settings.Host.RuntimeProcessNames; len(names) > 0 && !hostdrv.RuntimeRunning(names...) {
			sess.logger.Warn("VR runtime processes gone, shutting the session down")
			sess.bus.Send(SignalBackendShutdown)
		}

		signal, err := sess.bus.Recv(heartbeatInterval)
		if errors.Is(err, flow.ErrTimeout) {
			continue
		}
		if errors.Is(err, flow.ErrClosed) {
			// all signal producers gone reads as the host going down
			return SignalBackendShutdown
		}

		sess.logger.Infow("Session shutdown signal received",
			"session", sess.id,
			"signal", signal.String())
		return signal
	}
}

func (s *Streamer) collectTotals(sess *session) PipelineTotals {
	var totals PipelineTotals

	for i, encoder := range sess.encoders {
		totals.FramesEncoded += encoder.Encoded()
		totals.FrameDrops += sess.frameChannels[i].Drops()
	}
	for _, stream := range sess.videoStreams {
		totals.VideoPacketsSent += stream.Sent()
	}
	if sess.audioSend != nil {
		totals.AudioPacketsSent = sess.audioSend.Sent()
	}
	if sess.audioRecv != nil {
		totals.AudioPacketsReceived = sess.audioRecv.Received()
	}
	if sess.audioOut != nil {
		totals.ExpiredPackets += sess.audioOut.Expired()
	}
	if sess.micIn != nil {
		totals.ExpiredPackets += sess.micIn.Expired()
	}

	return totals
}

// drain tears the session down in two phases: first a non-blocking stop
// request to every tracked component and a close on every channel, only
// then the joins. Pre-signaling everything makes total teardown latency
// the maximum of the component timeouts instead of their sum.
func (s *Streamer) drain(sess *session) {
	start := time.Now()

	s.backend.SetHapticSink(nil)

	for _, component := range sess.components {
		component.RequestStop()
	}
	for _, closeChannel := range sess.channelClosers {
		closeChannel()
	}

	for _, component := range sess.components {
		if err := component.Close(); err != nil {
			sess.logger.Debugw("Component close reported an error", "error", err)
		}
	}

	sess.logger.Infow("Session drained",
		"session", sess.id,
		"components", len(sess.components),
		"took", time.Since(start))
}
