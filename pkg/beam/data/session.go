package data

import "encoding/json"

// SessionRecord is the state persisted between host runs: the negotiated
// bitrate, the last client that handshook, and a cache of the settings the
// session ran with. A missing or corrupt record is replaced by the zero
// value with a warning, never an error.
type SessionRecord struct {
	NegotiatedBitrateMbps *uint32          `json:"negotiated_bitrate_mbps,omitempty"`
	LastHandshake         *ClientHandshake `json:"last_handshake,omitempty"`
	SettingsCache         json.RawMessage  `json:"settings_cache,omitempty"`
}

// DisplayParams are the session parameter fallbacks resolved against the
// record: the last handshake when one exists, the built-in defaults
// otherwise. The backend initializes its virtual display from these.
type DisplayParams struct {
	EyeResolution [2]uint32
	Fov           [2]Fov
	FPS           uint32
}

// ResolveDisplayParams merges the persisted handshake (if any) with the
// built-in defaults.
func (r *SessionRecord) ResolveDisplayParams() DisplayParams {
	params := DisplayParams{
		EyeResolution: DefaultEyeResolution,
		Fov:           DefaultFov,
		FPS:           DefaultFPS,
	}
	if r != nil && r.LastHandshake != nil {
		params.EyeResolution = r.LastHandshake.NativeEyeResolution
		params.Fov = r.LastHandshake.Fov
		if r.LastHandshake.FPS > 0 {
			params.FPS = r.LastHandshake.FPS
		}
	}
	return params
}
