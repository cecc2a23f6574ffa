// Package transport carries the negotiated session over the network: UDP
// discovery of announcing clients, a reliable TCP control link for
// handshake and control messages, and per-stream UDP sockets for video and
// audio packets.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxControlFrameSize caps a single control frame. Control messages are
// small; anything bigger is a corrupt or hostile peer.
const MaxControlFrameSize = 1 << 20 // 1 MiB

// datagramHeaderSize is the sequence number prefixed to every stream
// datagram.
const datagramHeaderSize = 8

// WriteFrame writes payload to w prefixed with its big-endian uint32
// length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxControlFrameSize {
		return fmt.Errorf("frame payload %d exceeds maximum %d", len(payload), MaxControlFrameSize)
	}
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r, enforcing maxSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if int(size) > maxSize {
		return nil, fmt.Errorf("frame payload %d exceeds maximum %d", size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// EncodeDatagram prefixes payload with a big-endian stream sequence
// number.
func EncodeDatagram(seq uint64, payload []byte) []byte {
	out := make([]byte, datagramHeaderSize+len(payload))
	binary.BigEndian.PutUint64(out, seq)
	copy(out[datagramHeaderSize:], payload)
	return out
}

// DecodeDatagram splits a stream datagram into its sequence number and
// payload. The payload aliases raw; callers keeping it must copy.
func DecodeDatagram(raw []byte) (uint64, []byte, error) {
	if len(raw) < datagramHeaderSize {
		return 0, nil, fmt.Errorf("datagram too short: %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), raw[datagramHeaderSize:], nil
}
