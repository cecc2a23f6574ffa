package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
)

// ErrDiscoveryTimeout is returned when no valid client announcement
// arrives within the discovery window.
var ErrDiscoveryTimeout = errors.New("transport: no client announcement received")

// Discovery listens for headset clients announcing themselves. A client
// broadcasts its handshake packet as a JSON datagram on the discovery
// port; the host answers by dialing the control link back.
type Discovery struct {
	logger *zap.SugaredLogger
	conn   *net.UDPConn
}

// NewDiscovery binds the discovery listener. Port 0 binds an ephemeral
// port, which Port reports.
func NewDiscovery(logger *zap.SugaredLogger, port uint16) (*Discovery, error) {
	logger = logger.Named("discovery")

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
	if err != nil {
		logger.Warnw("Failed to bind discovery listener", "port", port, "error", err)
		return nil, fmt.Errorf("bind discovery listener: %w", err)
	}

	logger.Debugw("Discovery listener bound", "addr", conn.LocalAddr())

	return &Discovery{logger: logger, conn: conn}, nil
}

// Port returns the actual bound discovery port.
func (d *Discovery) Port() uint16 {
	return uint16(d.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Discover waits for the first valid announcement and returns the client's
// handshake and address. A non-empty scopeFilter restricts discovery to
// announcements from that IP; datagrams from anyone else, and malformed
// datagrams, are skipped without ending the wait.
func (d *Discovery) Discover(scopeFilter string, timeout time.Duration) (data.ClientHandshake, *net.UDPAddr, error) {
	var handshake data.ClientHandshake

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64<<10)

	for {
		if err := d.conn.SetReadDeadline(deadline); err != nil {
			return handshake, nil, fmt.Errorf("arm discovery deadline: %w", err)
		}

		n, raddr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return handshake, nil, ErrDiscoveryTimeout
			}
			return handshake, nil, fmt.Errorf("read announcement: %w", err)
		}

		if scopeFilter != "" && raddr.IP.String() != scopeFilter {
			d.logger.Debugw("Ignoring announcement outside configured scope",
				"from", raddr.IP, "scope", scopeFilter)
			continue
		}

		if err := json.Unmarshal(buf[:n], &handshake); err != nil {
			d.logger.Debugw("Skipping malformed announcement", "from", raddr, "error", err)
			continue
		}

		d.logger.Infow("Client announcement received",
			"name", handshake.Name,
			"version", handshake.Version,
			"from", raddr)

		return handshake, raddr, nil
	}
}

// Close releases the discovery socket.
func (d *Discovery) Close() error {
	return d.conn.Close()
}
