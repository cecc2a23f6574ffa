package transport

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/flow"
)

// queueSource hands out one batch per Next call, then times out until
// closed.
type queueSource struct {
	mu      sync.Mutex
	batches [][][]byte
	closed  bool
}

func (s *queueSource) push(batch [][]byte) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
}

func (s *queueSource) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *queueSource) Next(timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if len(s.batches) > 0 {
			batch := s.batches[0]
			s.batches = s.batches[1:]
			s.mu.Unlock()
			return batch, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, flow.ErrClosed
		}
		if time.Now().After(deadline) {
			return nil, flow.ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	seqs     []uint64
	payloads [][]byte
}

func (s *recordingSink) Deliver(seq uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, seq)
	s.payloads = append(s.payloads, payload)
}

func (s *recordingSink) snapshot() ([]uint64, [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...), append([][]byte(nil), s.payloads...)
}

func TestSendStreamSequencesDatagrams(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen receiver: %v", err)
	}
	defer receiver.Close()
	port := uint16(receiver.LocalAddr().(*net.UDPAddr).Port)

	src := &queueSource{}
	src.push([][]byte{[]byte("alpha"), []byte("beta")})
	src.push([][]byte{[]byte("gamma")})

	stream, err := OpenSendStream(logger, "test", net.IPv4(127, 0, 0, 1), port, src)
	if err != nil {
		t.Fatalf("OpenSendStream() error = %v", err)
	}

	want := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	buf := make([]byte, 64<<10)
	for i, expected := range want {
		_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := receiver.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read datagram %d: %v", i, err)
		}
		seq, payload, err := DecodeDatagram(buf[:n])
		if err != nil {
			t.Fatalf("decode datagram %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Errorf("datagram %d sequence = %d, want %d", i, seq, i)
		}
		if !bytes.Equal(payload, expected) {
			t.Errorf("datagram %d payload = %q, want %q", i, payload, expected)
		}
	}

	if got := stream.Sent(); got != 3 {
		t.Errorf("Sent() = %d, want 3", got)
	}

	src.close()
	stream.RequestStop()
	if err := stream.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestReceiveStreamDeliversPayloads(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	sink := &recordingSink{}
	stream, err := OpenReceiveStream(logger, "test", 0, sink)
	if err != nil {
		t.Fatalf("OpenReceiveStream() error = %v", err)
	}
	defer stream.Close()

	sender, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(stream.Port())})
	if err != nil {
		t.Fatalf("dial stream port: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write(EncodeDatagram(4, []byte("mic-data"))); err != nil {
		t.Fatalf("send datagram: %v", err)
	}
	// short datagrams are dropped without poisoning the stream
	if _, err := sender.Write([]byte{0x01}); err != nil {
		t.Fatalf("send runt datagram: %v", err)
	}
	if _, err := sender.Write(EncodeDatagram(5, []byte("more"))); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		seqs, _ := sink.snapshot()
		if len(seqs) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for delivered datagrams")
		}
		time.Sleep(5 * time.Millisecond)
	}

	seqs, payloads := sink.snapshot()
	if seqs[0] != 4 || !bytes.Equal(payloads[0], []byte("mic-data")) {
		t.Errorf("first delivery = (%d, %q), want (4, %q)", seqs[0], payloads[0], "mic-data")
	}
	if seqs[1] != 5 || !bytes.Equal(payloads[1], []byte("more")) {
		t.Errorf("second delivery = (%d, %q), want (5, %q)", seqs[1], payloads[1], "more")
	}
	if got := stream.Received(); got != 2 {
		t.Errorf("Received() = %d, want 2", got)
	}

	stream.RequestStop()
	if err := stream.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
