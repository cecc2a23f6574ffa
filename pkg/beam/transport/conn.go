package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
)

const (
	// clientIdleTimeout bounds how long the control pump waits for the
	// next client message. Clients report pose at display rate, so a
	// silent link this long is a dead link.
	clientIdleTimeout = 10 * time.Second

	controlWriteTimeout = 2 * time.Second
)

// Conn is the reliable control link to one connected client. It sends the
// server handshake on connect, then pumps incoming client messages to a
// handler until the client disconnects or the session stops. Read failures
// and idle timeouts are reported to the handler as a disconnect, per the
// transport error policy.
type Conn struct {
	logger  *zap.SugaredLogger
	tcp     net.Conn
	udp     *net.UDPConn
	handler func(*data.ClientMessage)

	writeMu       sync.Mutex
	stopRequested atomic.Bool
	pumpDone      chan struct{}
}

// Connect dials the client's control port, transmits the server handshake
// and starts the message pump. clientAddr is the source address of the
// client's announcement; the unreliable side sends datagrams back to it.
func Connect(
	logger *zap.SugaredLogger,
	clientAddr *net.UDPAddr,
	controlPort uint16,
	handshake *data.ServerHandshake,
	handler func(*data.ClientMessage),
	timeout time.Duration,
) (*Conn, error) {
	logger = logger.Named("control")

	target := net.JoinHostPort(clientAddr.IP.String(), strconv.Itoa(int(controlPort)))
	tcp, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		logger.Warnw("Failed to dial control link", "target", target, "error", err)
		return nil, fmt.Errorf("dial control link: %w", err)
	}

	udp, err := net.DialUDP("udp", nil, clientAddr)
	if err != nil {
		_ = tcp.Close()
		logger.Warnw("Failed to open unreliable side", "target", clientAddr, "error", err)
		return nil, fmt.Errorf("open unreliable side: %w", err)
	}

	c := &Conn{
		logger:   logger,
		tcp:      tcp,
		udp:      udp,
		handler:  handler,
		pumpDone: make(chan struct{}),
	}

	payload, err := json.Marshal(handshake)
	if err != nil {
		c.closeSockets()
		return nil, fmt.Errorf("encode server handshake: %w", err)
	}
	if err := c.writeFrame(payload); err != nil {
		c.closeSockets()
		logger.Warnw("Failed to send server handshake", "error", err)
		return nil, fmt.Errorf("send server handshake: %w", err)
	}

	logger.Infow("Control link established", "client", target)

	go c.pump()

	return c, nil
}

// pump reads client messages until disconnect or stop. Every exit except a
// requested stop reports a disconnect through the handler, so the session
// learns about dead links the same way it learns about polite goodbyes.
func (c *Conn) pump() {
	defer close(c.pumpDone)

	for {
		if c.stopRequested.Load() {
			return
		}

		_ = c.tcp.SetReadDeadline(time.Now().Add(clientIdleTimeout))

		payload, err := ReadFrame(c.tcp, MaxControlFrameSize)
		if err != nil {
			if c.stopRequested.Load() {
				return
			}
			c.logger.Warnw("Control link lost", "error", err)
			c.handler(&data.ClientMessage{Kind: data.ClientMessageDisconnected})
			return
		}

		var msg data.ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debugw("Dropping malformed control message", "error", err)
			continue
		}

		c.handler(&msg)

		if msg.Kind == data.ClientMessageDisconnected {
			c.logger.Info("Client sent disconnect notice")
			return
		}
	}
}

// SendReliable transmits msg over the control link. Writes from different
// goroutines are serialized.
func (c *Conn) SendReliable(msg *data.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode server message: %w", err)
	}
	if err := c.writeFrame(payload); err != nil {
		return fmt.Errorf("send server message: %w", err)
	}
	return nil
}

// SendUnreliable transmits msg as a single datagram to the client's
// announcement address. Loss is acceptable by contract.
func (c *Conn) SendUnreliable(msg *data.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode server message: %w", err)
	}
	if _, err := c.udp.Write(payload); err != nil {
		return fmt.Errorf("send unreliable message: %w", err)
	}
	return nil
}

func (c *Conn) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.tcp.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	return WriteFrame(c.tcp, payload)
}

// RequestStop asks the pump to exit without waiting for it. Safe to call
// more than once, and from any goroutine.
func (c *Conn) RequestStop() {
	if c.stopRequested.CompareAndSwap(false, true) {
		// yank any read in flight; the pump sees the flag and exits
		// without reporting a disconnect
		_ = c.tcp.SetReadDeadline(time.Now())
	}
}

// Close stops the pump, waits for it to exit and releases both sockets.
func (c *Conn) Close() error {
	c.RequestStop()
	<-c.pumpDone
	c.closeSockets()
	c.logger.Debug("Control link closed")
	return nil
}

func (c *Conn) closeSockets() {
	if err := c.tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debugw("Failed to close control socket", "error", err)
	}
	_ = c.udp.Close()
}
