package beam

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
)

// PipelineTotals are the cumulative pipeline counters gathered from the
// live components on each heartbeat.
type PipelineTotals struct {
	FramesEncoded        uint64
	VideoPacketsSent     uint64
	AudioPacketsSent     uint64
	AudioPacketsReceived uint64
	FrameDrops           uint64
	ExpiredPackets       uint64
}

// beatSample is one heartbeat's worth of counters, kept in the sliding
// window.
type beatSample struct {
	at     time.Time
	totals PipelineTotals
	client data.ClientStats
}

// Statistics collects per-session stream health: cumulative totals, a
// sliding window of heartbeat samples sized by the bitrate history
// setting, and the client's latest self-report.
type Statistics struct {
	logger    *zap.SugaredLogger
	sessionID string

	mu     sync.Mutex
	window *queue.Queue
	span   time.Duration
	totals PipelineTotals
	client data.ClientStats
}

// NewStatistics builds the collector for one session. historySeconds
// bounds the sliding window.
func NewStatistics(logger *zap.SugaredLogger, sessionID string, historySeconds int) *Statistics {
	if historySeconds < 1 {
		historySeconds = 1
	}
	return &Statistics{
		logger:    logger.Named("stats"),
		sessionID: sessionID,
		window:    queue.New(),
		span:      time.Duration(historySeconds) * time.Second,
	}
}

// RecordClientStats folds in the client's latest self-report.
func (st *Statistics) RecordClientStats(client data.ClientStats) {
	st.mu.Lock()
	st.client = client
	st.mu.Unlock()
}

// Observe records one heartbeat's cumulative totals and trims the window
// to its configured span.
func (st *Statistics) Observe(totals PipelineTotals) {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.totals = totals
	st.window.Add(beatSample{at: now, totals: totals, client: st.client})

	for st.window.Length() > 1 && now.Sub(st.window.Peek().(beatSample).at) > st.span {
		st.window.Remove()
	}
}

// WindowVideoPacketRate returns video packets per second over the
// sliding window, or zero while the window has a single sample.
func (st *Statistics) WindowVideoPacketRate() float64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	oldest, newest, ok := st.windowEdgesLocked()
	if !ok {
		return 0
	}
	elapsed := newest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(newest.totals.VideoPacketsSent-oldest.totals.VideoPacketsSent) / elapsed
}

// SuggestedBitrateMbps derives the session bitrate from the settings:
// the configured value in manual mode, otherwise the default scaled down
// by the client-observed packet loss over the window. This is the window
// arithmetic only; applying it to an encoder is the codec backend's job.
func (st *Statistics) SuggestedBitrateMbps(bitrate data.BitrateSettings) uint32 {
	if bitrate.Mode == data.ModeManual {
		return bitrate.Mbps
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	suggested := bitrate.DefaultMbps

	oldest, newest, ok := st.windowEdgesLocked()
	if !ok {
		return suggested
	}

	received := newest.client.ReceivedVideoPackets - oldest.client.ReceivedVideoPackets
	lost := newest.client.LostVideoPackets - oldest.client.LostVideoPackets
	if received+lost == 0 {
		return suggested
	}

	lossRatio := float32(lost) / float32(received+lost)
	scaled := float32(suggested) * (1 - bitrate.PacketLossFactor*lossRatio)
	if scaled < 1 {
		scaled = 1
	}
	return uint32(scaled)
}

func (st *Statistics) windowEdgesLocked() (oldest, newest beatSample, ok bool) {
	if st.window.Length() < 2 {
		return beatSample{}, beatSample{}, false
	}
	return st.window.Peek().(beatSample), st.window.Get(st.window.Length() - 1).(beatSample), true
}

// LogSummary emits one heartbeat's worth of stream health.
func (st *Statistics) LogSummary() {
	st.mu.Lock()
	totals := st.totals
	client := st.client
	st.mu.Unlock()

	st.logger.Infow("Session statistics",
		"session", st.sessionID,
		"framesEncoded", totals.FramesEncoded,
		"videoPacketsSent", totals.VideoPacketsSent,
		"audioPacketsSent", totals.AudioPacketsSent,
		"audioPacketsReceived", totals.AudioPacketsReceived,
		"frameDrops", totals.FrameDrops,
		"expiredPackets", totals.ExpiredPackets,
		"videoPacketRate", st.WindowVideoPacketRate(),
		"clientReceived", client.ReceivedVideoPackets,
		"clientLost", client.LostVideoPackets,
		"clientDecodeMs", client.AverageDecodeMs)
}
