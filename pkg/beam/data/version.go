// Package data holds the wire and configuration model shared by the host
// and the headset client: protocol versions, handshake packets, streaming
// messages, settings and the persisted session record.
package data

import "fmt"

// Version identifies a protocol revision. Wire compatibility is gated on
// the client offering at least MinClientVersion during the handshake.
type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Patch uint16 `json:"patch"`
}

var (
	// ProtocolVersion is the version this host speaks.
	ProtocolVersion = Version{Major: 0, Minor: 4, Patch: 0}

	// MinClientVersion is the oldest client protocol accepted during the
	// handshake. Anything older is rejected without starting a pipeline.
	MinClientVersion = Version{Major: 0, Minor: 3, Patch: 0}
)

// Less reports whether v precedes other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
