package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/flow"
)

// streamPollInterval bounds every blocking wait inside a stream worker, so
// a stop request is honored within one interval even if nobody closes the
// underlying channel.
const streamPollInterval = 500 * time.Millisecond

// StreamSource yields the next batch of outbound datagram payloads. The
// channel adapters behind it return flow.ErrTimeout when nothing is ready
// yet and flow.ErrClosed when the stream is over.
type StreamSource interface {
	Next(timeout time.Duration) ([][]byte, error)
}

// StreamSink receives inbound datagram payloads keyed by their stream
// sequence number.
type StreamSink interface {
	Deliver(seq uint64, payload []byte)
}

// SendStream drains a StreamSource and writes each payload as a sequenced
// datagram to one client port. One instance runs per video slice and per
// outbound audio stream.
type SendStream struct {
	logger *zap.SugaredLogger
	name   string
	conn   *net.UDPConn
	src    StreamSource

	stopRequested atomic.Bool
	done          chan struct{}
	sent          atomic.Uint64
}

// OpenSendStream connects a UDP socket to clientIP:port and starts the
// send worker.
func OpenSendStream(logger *zap.SugaredLogger, name string, clientIP net.IP, port uint16, src StreamSource) (*SendStream, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: clientIP, Port: int(port)})
	if err != nil {
		logger.Warnw("Failed to open send stream", "stream", name, "port", port, "error", err)
		return nil, fmt.Errorf("open send stream %s: %w", name, err)
	}

	s := &SendStream{
		logger: logger.Named("stream"),
		name:   name,
		conn:   conn,
		src:    src,
		done:   make(chan struct{}),
	}

	s.logger.Debugw("Send stream open", "stream", name, "target", conn.RemoteAddr())

	go s.run()

	return s, nil
}

func (s *SendStream) run() {
	defer close(s.done)

	var seq uint64
	for {
		if s.stopRequested.Load() {
			return
		}

		batch, err := s.src.Next(streamPollInterval)
		if errors.Is(err, flow.ErrTimeout) {
			continue
		}
		if errors.Is(err, flow.ErrClosed) {
			s.logger.Debugw("Send stream source closed", "stream", s.name)
			return
		}
		if err != nil {
			s.logger.Warnw("Send stream source failed", "stream", s.name, "error", err)
			return
		}

		for _, payload := range batch {
			if _, err := s.conn.Write(EncodeDatagram(seq, payload)); err != nil {
				// unreliable by design; drop and keep the stream alive
				s.logger.Debugw("Dropping outbound datagram", "stream", s.name, "error", err)
			} else {
				s.sent.Add(1)
			}
			seq++
		}
	}
}

// Sent returns how many datagrams left this stream.
func (s *SendStream) Sent() uint64 {
	return s.sent.Load()
}

// RequestStop asks the worker to exit without waiting for it.
func (s *SendStream) RequestStop() {
	s.stopRequested.Store(true)
}

// Close stops the worker, waits for it and releases the socket.
func (s *SendStream) Close() error {
	s.RequestStop()
	<-s.done
	return s.conn.Close()
}

// ReceiveStream reads sequenced datagrams from one local port and hands
// them to a StreamSink. One instance runs per inbound audio stream.
type ReceiveStream struct {
	logger *zap.SugaredLogger
	name   string
	conn   *net.UDPConn
	sink   StreamSink

	stopRequested atomic.Bool
	done          chan struct{}
	received      atomic.Uint64
}

// OpenReceiveStream binds the local port (0 for ephemeral) and starts the
// receive worker.
func OpenReceiveStream(logger *zap.SugaredLogger, name string, port uint16, sink StreamSink) (*ReceiveStream, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		logger.Warnw("Failed to open receive stream", "stream", name, "port", port, "error", err)
		return nil, fmt.Errorf("open receive stream %s: %w", name, err)
	}

	r := &ReceiveStream{
		logger: logger.Named("stream"),
		name:   name,
		conn:   conn,
		sink:   sink,
		done:   make(chan struct{}),
	}

	r.logger.Debugw("Receive stream open", "stream", name, "addr", conn.LocalAddr())

	go r.run()

	return r, nil
}

func (r *ReceiveStream) run() {
	defer close(r.done)

	buf := make([]byte, 64<<10)
	for {
		if r.stopRequested.Load() {
			return
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(streamPollInterval))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !r.stopRequested.Load() {
				r.logger.Warnw("Receive stream read failed", "stream", r.name, "error", err)
			}
			return
		}

		seq, payload, err := DecodeDatagram(buf[:n])
		if err != nil {
			r.logger.Debugw("Skipping malformed datagram", "stream", r.name, "error", err)
			continue
		}

		// the read buffer is reused; the sink keeps the payload
		r.sink.Deliver(seq, append([]byte(nil), payload...))
		r.received.Add(1)
	}
}

// Port returns the actual bound port.
func (r *ReceiveStream) Port() uint16 {
	return uint16(r.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Received returns how many datagrams arrived on this stream.
func (r *ReceiveStream) Received() uint64 {
	return r.received.Load()
}

// RequestStop asks the worker to exit without waiting for it.
func (r *ReceiveStream) RequestStop() {
	r.stopRequested.Store(true)
}

// Close stops the worker, waits for it and releases the socket.
func (r *ReceiveStream) Close() error {
	r.RequestStop()
	<-r.done
	return r.conn.Close()
}
