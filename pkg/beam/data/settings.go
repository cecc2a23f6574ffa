package data

import (
	"fmt"

	"github.com/thoas/go-funk"
)

// Tuning mode names shared by the latency and bitrate sections.
const (
	ModeAutomatic = "automatic"
	ModeManual    = "manual"
)

// Session parameter fallbacks, used when no client handshake has ever been
// persisted. They describe a plausible headset so the backend can start in
// a sane state.
var (
	DefaultEyeResolution = [2]uint32{640, 720}
	DefaultFov           = [2]Fov{
		{Left: 45, Top: 45, Right: 45, Bottom: 45},
		{Left: 45, Top: 45, Right: 45, Bottom: 45},
	}
)

const DefaultFPS uint32 = 60

// Settings is the full host configuration tree, loaded from beam.yaml.
// Field tags carry both the viper (mapstructure) key and the JSON key used
// when the tree is embedded in handshakes and the session record.
type Settings struct {
	Connection ConnectionSettings `mapstructure:"connection" json:"connection"`
	Latency    LatencySettings    `mapstructure:"latency" json:"latency"`
	Bitrate    BitrateSettings    `mapstructure:"bitrate" json:"bitrate"`
	Video      VideoSettings      `mapstructure:"video" json:"video"`
	Audio      AudioSettings      `mapstructure:"audio" json:"audio"`
	Host       HostSettings       `mapstructure:"host" json:"host"`
}

type ConnectionSettings struct {
	// ClientAddr restricts discovery to one client IP; empty accepts the
	// first announcement from anyone.
	ClientAddr         string `mapstructure:"client_addr" json:"client_addr"`
	DiscoveryPort      uint16 `mapstructure:"discovery_port" json:"discovery_port"`
	StartingStreamPort uint16 `mapstructure:"starting_stream_port" json:"starting_stream_port"`
}

type LatencySettings struct {
	Mode                       string `mapstructure:"mode" json:"mode"`
	Ms                         uint32 `mapstructure:"ms" json:"ms"`
	HistoryMeanLifetimeSeconds uint32 `mapstructure:"history_mean_lifetime_seconds" json:"history_mean_lifetime_seconds"`
}

type BitrateSettings struct {
	Mode             string  `mapstructure:"mode" json:"mode"`
	Mbps             uint32  `mapstructure:"mbps" json:"mbps"`
	DefaultMbps      uint32  `mapstructure:"default_mbps" json:"default_mbps"`
	HistorySeconds   int     `mapstructure:"history_seconds" json:"history_seconds"`
	PacketLossFactor float32 `mapstructure:"packet_loss_factor" json:"packet_loss_factor"`
}

type VideoSettings struct {
	// FrameScale sizes the encoded frame relative to the client's native
	// eye resolution. AbsoluteFrameSize, when set, wins over the scale.
	FrameScale        float32    `mapstructure:"frame_scale" json:"frame_scale"`
	AbsoluteFrameSize *[2]uint32 `mapstructure:"absolute_frame_size" json:"absolute_frame_size,omitempty"`
	SliceCount        int        `mapstructure:"slice_count" json:"slice_count"`
	Encoder           string     `mapstructure:"encoder" json:"encoder"`
	MaxPacketSize     int        `mapstructure:"max_packet_size" json:"max_packet_size"`
	ChannelTimeoutMs  int        `mapstructure:"channel_timeout_ms" json:"channel_timeout_ms"`
}

// AudioSettings enables the two optional audio pipelines. A nil section
// pointer means that pipeline is off.
type AudioSettings struct {
	Loopback         *LoopbackSettings   `mapstructure:"loopback" json:"loopback,omitempty"`
	Microphone       *MicrophoneSettings `mapstructure:"microphone" json:"microphone,omitempty"`
	MaxPacketSize    int                 `mapstructure:"max_packet_size" json:"max_packet_size"`
	ChannelTimeoutMs int                 `mapstructure:"channel_timeout_ms" json:"channel_timeout_ms"`
}

type LoopbackSettings struct {
	// Device selects the output whose playback is captured; empty means
	// the default output device.
	Device string `mapstructure:"device" json:"device"`
}

type MicrophoneSettings struct {
	// Device selects the playback target for the client's microphone;
	// empty means the default output device.
	Device string `mapstructure:"device" json:"device"`
}

type HostSettings struct {
	ReconnectTimeoutSeconds int  `mapstructure:"reconnect_timeout_seconds" json:"reconnect_timeout_seconds"`
	DisableTray             bool `mapstructure:"disable_tray" json:"disable_tray"`
	BlockStandby            bool `mapstructure:"block_standby" json:"block_standby"`

	// RuntimeProcessNames, when non-empty, makes the host treat the
	// disappearance of all named processes as a backend shutdown.
	RuntimeProcessNames []string `mapstructure:"runtime_process_names" json:"runtime_process_names"`
}

// DefaultSettings returns the built-in configuration the host degrades to
// when beam.yaml is missing or unreadable.
func DefaultSettings() Settings {
	return Settings{
		Connection: ConnectionSettings{
			DiscoveryPort:      9943,
			StartingStreamPort: 9944,
		},
		Latency: LatencySettings{
			Mode:                       ModeAutomatic,
			Ms:                         30,
			HistoryMeanLifetimeSeconds: 300,
		},
		Bitrate: BitrateSettings{
			Mode:             ModeAutomatic,
			Mbps:             30,
			DefaultMbps:      30,
			HistorySeconds:   10,
			PacketLossFactor: 0.8,
		},
		Video: VideoSettings{
			FrameScale:       1.0,
			SliceCount:       2,
			Encoder:          "raw",
			MaxPacketSize:    1400,
			ChannelTimeoutMs: 500,
		},
		Audio: AudioSettings{
			MaxPacketSize:    1400,
			ChannelTimeoutMs: 100,
		},
		Host: HostSettings{
			ReconnectTimeoutSeconds: 30,
		},
	}
}

var tuningModes = []string{ModeAutomatic, ModeManual}

// Validate rejects configurations the pipeline cannot run with. It keeps
// to structural checks; device or encoder availability is only known at
// session setup.
func (s *Settings) Validate() error {
	if s.Connection.DiscoveryPort == 0 {
		return fmt.Errorf("connection.discovery_port must not be 0")
	}
	if s.Connection.StartingStreamPort == 0 {
		return fmt.Errorf("connection.starting_stream_port must not be 0")
	}
	if !funk.ContainsString(tuningModes, s.Latency.Mode) {
		return fmt.Errorf("latency.mode %q not one of %v", s.Latency.Mode, tuningModes)
	}
	if !funk.ContainsString(tuningModes, s.Bitrate.Mode) {
		return fmt.Errorf("bitrate.mode %q not one of %v", s.Bitrate.Mode, tuningModes)
	}
	if s.Video.SliceCount < 1 || s.Video.SliceCount > 16 {
		return fmt.Errorf("video.slice_count %d out of range 1..16", s.Video.SliceCount)
	}
	if s.Video.AbsoluteFrameSize == nil && (s.Video.FrameScale <= 0 || s.Video.FrameScale > 2) {
		return fmt.Errorf("video.frame_scale %v out of range (0, 2]", s.Video.FrameScale)
	}
	if s.Video.AbsoluteFrameSize != nil &&
		(s.Video.AbsoluteFrameSize[0] == 0 || s.Video.AbsoluteFrameSize[1] == 0) {
		return fmt.Errorf("video.absolute_frame_size has a zero dimension")
	}
	if s.Video.MaxPacketSize < 256 {
		return fmt.Errorf("video.max_packet_size %d below minimum 256", s.Video.MaxPacketSize)
	}
	if s.Audio.MaxPacketSize < 256 {
		return fmt.Errorf("audio.max_packet_size %d below minimum 256", s.Audio.MaxPacketSize)
	}
	if s.Host.ReconnectTimeoutSeconds < 1 {
		return fmt.Errorf("host.reconnect_timeout_seconds %d below minimum 1", s.Host.ReconnectTimeoutSeconds)
	}
	return nil
}

// TargetEyeResolution negotiates the per-eye encode size: an absolute size
// from configuration wins, otherwise the client's native resolution is
// scaled by frame_scale.
func TargetEyeResolution(video VideoSettings, native [2]uint32) [2]uint32 {
	if video.AbsoluteFrameSize != nil {
		return *video.AbsoluteFrameSize
	}
	scale := video.FrameScale
	if scale <= 0 {
		scale = 1
	}
	return [2]uint32{
		uint32(float32(native[0]) * scale),
		uint32(float32(native[1]) * scale),
	}
}
