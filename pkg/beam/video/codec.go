// Package video turns composited frame slices into transmittable packets:
// a codec seam for the encoder backend and one worker per slice that
// encodes the freshest frame and splits it to datagram-sized parts.
package video

import (
	"fmt"

	"github.com/beamvr/beam/pkg/beam/data"
)

// Codec compresses one frame slice into a transmittable byte stream. The
// real encoder backends live behind this seam; a session gets one codec
// instance per slice.
type Codec interface {
	EncodeFrame(frame data.VideoFrame) ([]byte, error)
	Close() error
}

var codecs = map[string]func() (Codec, error){
	"raw": newRawCodec,
}

// NewCodec instantiates the encoder configured under video.encoder. An
// unknown name is a worker-startup error; the connection attempt is
// aborted, not the process.
func NewCodec(name string) (Codec, error) {
	factory, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown video encoder %q", name)
	}
	return factory()
}

// rawCodec passes slice bytes through untouched. It exists so the
// pipeline runs end to end without a hardware encoder present.
type rawCodec struct{}

func newRawCodec() (Codec, error) {
	return rawCodec{}, nil
}

func (rawCodec) EncodeFrame(frame data.VideoFrame) ([]byte, error) {
	return frame.Data, nil
}

func (rawCodec) Close() error {
	return nil
}
