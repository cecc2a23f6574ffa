package video

import (
	"bytes"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/flow"
)

func TestNewCodecUnknownName(t *testing.T) {
	if _, err := NewCodec("definitely-not-an-encoder"); err == nil {
		t.Fatal("NewCodec() accepted an unknown encoder name")
	}
	if _, err := NewCodec("raw"); err != nil {
		t.Fatalf("NewCodec(raw) error: %v", err)
	}
}

func startTestEncoder(t *testing.T, maxPacketSize int) (*Encoder, *flow.Latest[data.VideoFrame], *flow.Latest[[]data.VideoPacket]) {
	t.Helper()

	codec, err := NewCodec("raw")
	if err != nil {
		t.Fatalf("NewCodec(raw) error: %v", err)
	}

	in := flow.NewLatest[data.VideoFrame]()
	out := flow.NewLatest[[]data.VideoPacket]()
	enc := StartEncoder(zaptest.NewLogger(t).Sugar(), 1, codec, maxPacketSize, in, out)
	t.Cleanup(func() { _ = enc.Close() })

	return enc, in, out
}

func TestEncoderForwardsSmallFrameAsOnePart(t *testing.T) {
	_, in, out := startTestEncoder(t, 1400)

	payload := []byte("one small slice")
	in.Send(data.VideoFrame{SliceIndex: 1, FrameIndex: 42, Data: payload})

	packets, err := out.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d parts, want 1", len(packets))
	}
	p := packets[0]
	if p.Header.FrameIndex != 42 || p.Header.SliceIndex != 1 {
		t.Errorf("header = %+v, want frame 42 slice 1", p.Header)
	}
	if p.Header.PartIndex != 0 || p.Header.PartCount != 1 {
		t.Errorf("part numbering = %d/%d, want 0/1", p.Header.PartIndex, p.Header.PartCount)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Errorf("payload = %q, want %q", p.Payload, payload)
	}
}

func TestEncoderSplitsLargeFrameIntoParts(t *testing.T) {
	const maxPacketSize = 256
	_, in, out := startTestEncoder(t, maxPacketSize)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	in.Send(data.VideoFrame{SliceIndex: 0, FrameIndex: 7, Data: payload})

	packets, err := out.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if len(packets) != 4 {
		t.Fatalf("got %d parts, want 4", len(packets))
	}

	var reassembled []byte
	for i, p := range packets {
		if int(p.Header.PartIndex) != i {
			t.Errorf("part %d has PartIndex %d", i, p.Header.PartIndex)
		}
		if p.Header.PartCount != 4 {
			t.Errorf("part %d has PartCount %d, want 4", i, p.Header.PartCount)
		}
		if len(p.Payload) > maxPacketSize {
			t.Errorf("part %d is %d bytes, exceeds %d", i, len(p.Payload), maxPacketSize)
		}
		reassembled = append(reassembled, p.Payload...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Error("reassembled parts differ from the original payload")
	}
}

func TestEncoderCountsFramesAndStopsPromptly(t *testing.T) {
	enc, in, out := startTestEncoder(t, 1400)

	in.Send(data.VideoFrame{FrameIndex: 1, Data: []byte("a")})
	if _, err := out.Recv(2 * time.Second); err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if got := enc.Encoded(); got != 1 {
		t.Errorf("Encoded() = %d, want 1", got)
	}

	enc.RequestStop()
	start := time.Now()
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close() took %v after a requested stop", elapsed)
	}
}
