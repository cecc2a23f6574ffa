package beam

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/data"
)

func newTestStatistics(t *testing.T, historySeconds int) *Statistics {
	t.Helper()
	return NewStatistics(zaptest.NewLogger(t).Sugar(), "stats-test", historySeconds)
}

func TestWindowVideoPacketRate(t *testing.T) {
	st := newTestStatistics(t, 10)

	if rate := st.WindowVideoPacketRate(); rate != 0 {
		t.Errorf("rate with empty window = %v, want 0", rate)
	}

	st.Observe(PipelineTotals{VideoPacketsSent: 100})
	time.Sleep(50 * time.Millisecond)
	st.Observe(PipelineTotals{VideoPacketsSent: 200})

	rate := st.WindowVideoPacketRate()
	if rate <= 0 {
		t.Fatalf("rate = %v, want > 0", rate)
	}

	// 100 packets over ~50ms is on the order of 2000/s; leave slack for
	// scheduling jitter
	if rate < 500 || rate > 5000 {
		t.Errorf("rate = %v, want roughly 2000", rate)
	}
}

func TestWindowTrimsToSpan(t *testing.T) {
	st := newTestStatistics(t, 1)

	st.Observe(PipelineTotals{VideoPacketsSent: 1})
	st.window.Remove() // rewind to inject an artificially old sample
	st.window.Add(beatSample{at: time.Now().Add(-5 * time.Second), totals: PipelineTotals{VideoPacketsSent: 1}})

	st.Observe(PipelineTotals{VideoPacketsSent: 2})
	st.Observe(PipelineTotals{VideoPacketsSent: 3})

	st.mu.Lock()
	length := st.window.Length()
	oldest := st.window.Peek().(beatSample)
	st.mu.Unlock()

	if length != 2 {
		t.Errorf("window length = %d, want 2 after trimming", length)
	}
	if time.Since(oldest.at) > time.Second {
		t.Error("trim left a sample older than the window span")
	}
}

func TestSuggestedBitrateManualMode(t *testing.T) {
	st := newTestStatistics(t, 10)

	got := st.SuggestedBitrateMbps(data.BitrateSettings{Mode: data.ModeManual, Mbps: 55, DefaultMbps: 30})
	if got != 55 {
		t.Errorf("SuggestedBitrateMbps() = %d, want the manual value 55", got)
	}
}

func TestSuggestedBitrateScalesWithLoss(t *testing.T) {
	st := newTestStatistics(t, 10)
	bitrate := data.BitrateSettings{Mode: data.ModeAutomatic, DefaultMbps: 30, PacketLossFactor: 0.8}

	// no window yet: default
	if got := st.SuggestedBitrateMbps(bitrate); got != 30 {
		t.Errorf("SuggestedBitrateMbps() without samples = %d, want 30", got)
	}

	st.RecordClientStats(data.ClientStats{ReceivedVideoPackets: 0, LostVideoPackets: 0})
	st.Observe(PipelineTotals{})
	st.RecordClientStats(data.ClientStats{ReceivedVideoPackets: 75, LostVideoPackets: 25})
	st.Observe(PipelineTotals{})

	// 25% loss at factor 0.8 scales 30 down by a fifth; the truncation
	// to whole Mbps may land one below
	got := st.SuggestedBitrateMbps(bitrate)
	if got < 23 || got > 24 {
		t.Errorf("SuggestedBitrateMbps() with 25%% loss = %d, want about 24", got)
	}
}

func TestSuggestedBitrateNeverDropsBelowOne(t *testing.T) {
	st := newTestStatistics(t, 10)
	bitrate := data.BitrateSettings{Mode: data.ModeAutomatic, DefaultMbps: 2, PacketLossFactor: 5}

	st.RecordClientStats(data.ClientStats{})
	st.Observe(PipelineTotals{})
	st.RecordClientStats(data.ClientStats{ReceivedVideoPackets: 1, LostVideoPackets: 99})
	st.Observe(PipelineTotals{})

	if got := st.SuggestedBitrateMbps(bitrate); got < 1 {
		t.Errorf("SuggestedBitrateMbps() = %d, want at least 1", got)
	}
}
