package transport

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/data"
)

func announceRaw(t *testing.T, port uint16, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		t.Errorf("dial discovery port: %v", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Errorf("send raw announcement: %v", err)
	}
}

func announce(t *testing.T, port uint16, hs data.ClientHandshake) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		t.Errorf("dial discovery port: %v", err)
		return
	}
	defer conn.Close()

	payload, err := json.Marshal(hs)
	if err != nil {
		t.Errorf("marshal handshake: %v", err)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		t.Errorf("send announcement: %v", err)
	}
}

func TestDiscoverReturnsAnnouncedHandshake(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	d, err := NewDiscovery(logger, 0)
	if err != nil {
		t.Fatalf("NewDiscovery() error: %v", err)
	}
	defer d.Close()

	want := data.ClientHandshake{
		Name:                "quest-test",
		Version:             data.ProtocolVersion,
		NativeEyeResolution: [2]uint32{1440, 1600},
		FPS:                 72,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		announce(t, d.Port(), want)
	}()

	hs, addr, err := d.Discover("", 2*time.Second)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if hs.Name != want.Name || hs.NativeEyeResolution != want.NativeEyeResolution || hs.FPS != want.FPS {
		t.Errorf("Discover() = %+v, want %+v", hs, want)
	}
	if addr == nil || !addr.IP.IsLoopback() {
		t.Errorf("client address = %v, want loopback", addr)
	}
}

func TestDiscoverTimesOutWithoutAnnouncement(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	d, err := NewDiscovery(logger, 0)
	if err != nil {
		t.Fatalf("NewDiscovery() error: %v", err)
	}
	defer d.Close()

	start := time.Now()
	_, _, err = d.Discover("", 100*time.Millisecond)
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("Discover() error = %v, want ErrDiscoveryTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Discover() gave up after %v, before the deadline", elapsed)
	}
}

func TestDiscoverIgnoresOutOfScopeAnnouncements(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	d, err := NewDiscovery(logger, 0)
	if err != nil {
		t.Fatalf("NewDiscovery() error: %v", err)
	}
	defer d.Close()

	// announcement arrives from loopback, but the scope filter wants a
	// different client
	go announce(t, d.Port(), data.ClientHandshake{Name: "stranger"})

	_, _, err = d.Discover("192.0.2.1", 200*time.Millisecond)
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Errorf("Discover() error = %v, want ErrDiscoveryTimeout for filtered source", err)
	}
}

func TestDiscoverSkipsMalformedAnnouncements(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	d, err := NewDiscovery(logger, 0)
	if err != nil {
		t.Fatalf("NewDiscovery() error: %v", err)
	}
	defer d.Close()

	go func() {
		announceRaw(t, d.Port(), []byte("{not json"))
		time.Sleep(20 * time.Millisecond)
		announce(t, d.Port(), data.ClientHandshake{Name: "valid-after-junk"})
	}()

	hs, _, err := d.Discover("", 2*time.Second)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if hs.Name != "valid-after-junk" {
		t.Errorf("Discover() name = %q, want valid-after-junk", hs.Name)
	}
}
