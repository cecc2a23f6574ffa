package beam

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/beamvr/beam/pkg/beam/data"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(t.TempDir(), "state", "session.json")

	store := LoadSessionStore(logger, path)
	if record := store.Record(); record.LastHandshake != nil {
		t.Fatal("fresh store should start with an empty record")
	}

	bitrate := uint32(42)
	err := store.Update(func(r *data.SessionRecord) {
		r.NegotiatedBitrateMbps = &bitrate
		r.LastHandshake = &data.ClientHandshake{
			Name:                "roundtrip-headset",
			Version:             data.ProtocolVersion,
			NativeEyeResolution: [2]uint32{1920, 1920},
			FPS:                 72,
		}
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded := LoadSessionStore(logger, path).Record()
	if reloaded.LastHandshake == nil {
		t.Fatal("reloaded record lost the handshake")
	}
	if reloaded.LastHandshake.Name != "roundtrip-headset" {
		t.Errorf("reloaded client name = %q, want %q", reloaded.LastHandshake.Name, "roundtrip-headset")
	}
	if reloaded.LastHandshake.FPS != 72 {
		t.Errorf("reloaded FPS = %d, want 72", reloaded.LastHandshake.FPS)
	}
	if reloaded.NegotiatedBitrateMbps == nil || *reloaded.NegotiatedBitrateMbps != 42 {
		t.Error("reloaded record lost the negotiated bitrate")
	}
}

func TestSessionStoreCorruptFileStartsFresh(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(t.TempDir(), "session.json")

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	store := LoadSessionStore(logger, path)
	if record := store.Record(); record.LastHandshake != nil || record.NegotiatedBitrateMbps != nil {
		t.Error("corrupt file should yield the zero record")
	}

	// the store must still be writable afterwards
	if err := store.Update(func(r *data.SessionRecord) {
		r.LastHandshake = &data.ClientHandshake{Name: "recovered"}
	}); err != nil {
		t.Fatalf("Update() after corrupt load error = %v", err)
	}
	if got := LoadSessionStore(logger, path).Record().LastHandshake; got == nil || got.Name != "recovered" {
		t.Error("store did not recover from a corrupt file")
	}
}

func TestResolveDisplayParamsPrefersPersistedHandshake(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	path := filepath.Join(t.TempDir(), "session.json")

	store := LoadSessionStore(logger, path)

	// with no history the defaults drive the virtual display
	record := store.Record()
	params := record.ResolveDisplayParams()
	if params.FPS == 0 || params.EyeResolution[0] == 0 {
		t.Fatal("default display params must be usable")
	}

	if err := store.Update(func(r *data.SessionRecord) {
		r.LastHandshake = &data.ClientHandshake{
			NativeEyeResolution: [2]uint32{2880, 1700},
			FPS:                 120,
		}
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	record = store.Record()
	params = record.ResolveDisplayParams()
	if params.EyeResolution != [2]uint32{2880, 1700} {
		t.Errorf("EyeResolution = %v, want the persisted native resolution", params.EyeResolution)
	}
	if params.FPS != 120 {
		t.Errorf("FPS = %d, want the persisted 120", params.FPS)
	}
}
