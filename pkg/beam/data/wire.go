package data

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Hand indexes the two-element per-hand arrays used throughout the model.
const (
	HandLeft  = 0
	HandRight = 1
)

// Fov describes one eye's field of view, in degrees per side.
type Fov struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

// Pose is a position plus an orientation quaternion (x, y, z, w).
type Pose struct {
	Position    [3]float32 `json:"position"`
	Orientation [4]float32 `json:"orientation"`
}

// MotionDesc is a pose with its first derivatives.
type MotionDesc struct {
	Pose            Pose       `json:"pose"`
	LinearVelocity  [3]float32 `json:"linear_velocity"`
	AngularVelocity [3]float32 `json:"angular_velocity"`
}

// InputSnapshot carries the full controller state for both hands. The
// initial snapshot in the handshake tells the host which input devices the
// client has before any update arrives.
type InputSnapshot struct {
	Buttons     uint32        `json:"buttons"`
	Thumbsticks [2][2]float32 `json:"thumbsticks"`
	Triggers    [2]float32    `json:"triggers"`
	Grips       [2]float32    `json:"grips"`
}

// HapticPulse asks one controller to vibrate.
type HapticPulse struct {
	Hand            uint8   `json:"hand"`
	DurationSeconds float32 `json:"duration_seconds"`
	Frequency       float32 `json:"frequency"`
	Amplitude       float32 `json:"amplitude"`
}

// ClientHandshake is broadcast by a headset looking for a host. It is also
// persisted in the session record so the host can come up with sensible
// display parameters before the next client connects.
type ClientHandshake struct {
	Name                string        `json:"name"`
	Version             Version       `json:"version"`
	ControlPort         uint16        `json:"control_port"`
	NativeEyeResolution [2]uint32     `json:"native_eye_resolution"`
	Fov                 [2]Fov        `json:"fov"`
	FPS                 uint32        `json:"fps"`
	InitialInput        InputSnapshot `json:"initial_input"`
}

// ServerHandshake is the host's reply that seals the negotiation.
type ServerHandshake struct {
	Version             Version   `json:"version"`
	Settings            Settings  `json:"settings"`
	TargetEyeResolution [2]uint32 `json:"target_eye_resolution"`
}

// ClientUpdate is the periodic client->host state report driving the
// backend's tracking input.
type ClientUpdate struct {
	PoseTimeOffsetNs  uint64        `json:"pose_time_offset_ns"`
	HeadMotion        MotionDesc    `json:"head_motion"`
	ControllerMotions [2]MotionDesc `json:"controller_motions"`
	Input             InputSnapshot `json:"input"`
	VsyncOffsetNs     int32         `json:"vsync_offset_ns"`
}

// ClientStats is the client's view of stream health, folded into the
// host-side statistics each heartbeat.
type ClientStats struct {
	ReceivedVideoPackets uint64  `json:"received_video_packets"`
	LostVideoPackets     uint64  `json:"lost_video_packets"`
	ReceivedAudioPackets uint64  `json:"received_audio_packets"`
	AverageDecodeMs      float32 `json:"average_decode_ms"`
}

// Control message kinds. Control messages travel as length-prefixed JSON
// over the reliable link; the Kind tag selects which payload pointer is set.
const (
	ClientMessageUpdate       = "update"
	ClientMessageStatistics   = "statistics"
	ClientMessageDisconnected = "disconnected"

	ServerMessageHaptic   = "haptic"
	ServerMessageShutdown = "shutdown"
)

// ClientMessage is the client->host control envelope.
type ClientMessage struct {
	Kind       string        `json:"kind"`
	Update     *ClientUpdate `json:"update,omitempty"`
	Statistics *ClientStats  `json:"statistics,omitempty"`
}

// ServerMessage is the host->client control envelope.
type ServerMessage struct {
	Kind   string       `json:"kind"`
	Haptic *HapticPulse `json:"haptic,omitempty"`
}

// VideoFrame is one slice of a composited frame on its way to an encoder.
// It never crosses the network as-is.
type VideoFrame struct {
	SliceIndex int
	FrameIndex uint64
	Pose       Pose
	Data       []byte
	CapturedAt time.Time
}

// VideoPacketHeader prefixes every video datagram. Encoded slices larger
// than the configured packet size are split into PartCount parts that the
// client reassembles by (FrameIndex, PartIndex).
type VideoPacketHeader struct {
	FrameIndex uint64
	SliceIndex uint8
	PartIndex  uint8
	PartCount  uint8
	Pose       Pose
}

// VideoPacket is one transmittable part of an encoded slice.
type VideoPacket struct {
	Header  VideoPacketHeader
	Payload []byte
}

// videoHeaderSize is the fixed wire size of VideoPacketHeader: the frame
// index, three part bytes and seven pose floats.
const videoHeaderSize = 8 + 3 + 7*4

// MarshalBinary encodes the packet as a big-endian header followed by the
// raw payload.
func (p VideoPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, videoHeaderSize+len(p.Payload))
	binary.BigEndian.PutUint64(out[0:], p.Header.FrameIndex)
	out[8] = p.Header.SliceIndex
	out[9] = p.Header.PartIndex
	out[10] = p.Header.PartCount
	off := 11
	for _, f := range p.Header.Pose.Position {
		binary.BigEndian.PutUint32(out[off:], math.Float32bits(f))
		off += 4
	}
	for _, f := range p.Header.Pose.Orientation {
		binary.BigEndian.PutUint32(out[off:], math.Float32bits(f))
		off += 4
	}
	copy(out[off:], p.Payload)
	return out, nil
}

// UnmarshalBinary decodes a packet previously produced by MarshalBinary.
func (p *VideoPacket) UnmarshalBinary(raw []byte) error {
	if len(raw) < videoHeaderSize {
		return fmt.Errorf("video packet too short: %d bytes", len(raw))
	}
	p.Header.FrameIndex = binary.BigEndian.Uint64(raw[0:])
	p.Header.SliceIndex = raw[8]
	p.Header.PartIndex = raw[9]
	p.Header.PartCount = raw[10]
	off := 11
	for i := range p.Header.Pose.Position {
		p.Header.Pose.Position[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[off:]))
		off += 4
	}
	for i := range p.Header.Pose.Orientation {
		p.Header.Pose.Orientation[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[off:]))
		off += 4
	}
	p.Payload = append(p.Payload[:0], raw[off:]...)
	return nil
}

// AudioPacket is one sequenced chunk of captured or played audio.
type AudioPacket struct {
	Sequence uint64
	Data     []byte
}

// MarshalBinary encodes the packet as a big-endian sequence number
// followed by the raw samples.
func (p AudioPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8+len(p.Data))
	binary.BigEndian.PutUint64(out, p.Sequence)
	copy(out[8:], p.Data)
	return out, nil
}

// UnmarshalBinary decodes a packet previously produced by MarshalBinary.
func (p *AudioPacket) UnmarshalBinary(raw []byte) error {
	if len(raw) < 8 {
		return fmt.Errorf("audio packet too short: %d bytes", len(raw))
	}
	p.Sequence = binary.BigEndian.Uint64(raw)
	p.Data = append(p.Data[:0], raw[8:]...)
	return nil
}
