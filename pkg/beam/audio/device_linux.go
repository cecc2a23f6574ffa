package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

// Stream format shared with the client: 48kHz stereo signed 16-bit.
const (
	sampleRate = 48000
)

var errCaptureClosed = errors.New("audio: capture device closed")

// paCapture records the monitor source of an output sink, which is how
// PulseAudio exposes loopback capture of whatever the host is playing.
type paCapture struct {
	logger *zap.SugaredLogger
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	once   sync.Once
	done   chan struct{}
}

// OpenCaptureDevice opens loopback capture of the named sink, or of the
// default output sink when device is empty. A device that names a source
// directly (e.g. an actual microphone or an explicit ".monitor" source)
// is used as-is.
func OpenCaptureDevice(logger *zap.SugaredLogger, device string) (CaptureDevice, error) {
	logger = logger.Named("pulse")

	client, err := pulse.NewClient(pulse.ClientApplicationName("beam"))
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	source, err := resolveCaptureSource(client, device)
	if err != nil {
		client.Close()
		logger.Warnw("Failed to resolve capture source", "device", device, "error", err)
		return nil, fmt.Errorf("resolve capture source: %w", err)
	}

	c := &paCapture{
		logger: logger,
		client: client,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	stream, err := client.NewRecord(
		pulse.NewWriter(captureWriter{c}, proto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordStereo,
	)
	if err != nil {
		client.Close()
		logger.Warnw("Failed to open record stream", "error", err)
		return nil, fmt.Errorf("open record stream: %w", err)
	}
	c.stream = stream
	stream.Start()

	logger.Debugw("PulseAudio capture open", "device", device)

	return c, nil
}

func resolveCaptureSource(client *pulse.Client, device string) (*pulse.Source, error) {
	if device != "" {
		source, err := client.SourceByID(device)
		if err == nil {
			return source, nil
		}
		// sink name given; fall through to its monitor source
		return client.SourceByID(device + ".monitor")
	}

	sink, err := client.DefaultSink()
	if err != nil {
		return nil, err
	}
	return client.SourceByID(sink.ID() + ".monitor")
}

// captureWriter is the pulse-side sample sink. A full chunk queue means
// the pipeline fell behind; the freshest audio wins, old chunks drop.
type captureWriter struct{ c *paCapture }

func (w captureWriter) Write(p []byte) (int, error) {
	select {
	case <-w.c.done:
		return 0, errCaptureClosed
	default:
	}

	chunk := append([]byte(nil), p...)
	select {
	case w.c.chunks <- chunk:
	default:
		select {
		case <-w.c.chunks:
		default:
		}
		w.c.chunks <- chunk
	}
	return len(p), nil
}

func (c *paCapture) Read() ([]byte, error) {
	select {
	case chunk := <-c.chunks:
		return chunk, nil
	case <-c.done:
		return nil, errCaptureClosed
	}
}

func (c *paCapture) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.stream.Stop()
		c.client.Close()
		c.logger.Debug("PulseAudio capture closed")
	})
	return nil
}

// paPlayback feeds the client's microphone stream into a host sink
// through a pipe; pulse pulls samples from the read side at its own pace.
type paPlayback struct {
	logger *zap.SugaredLogger
	client *pulse.Client
	stream *pulse.PlaybackStream
	pw     *io.PipeWriter

	once sync.Once
}

// OpenPlaybackDevice opens playback on the named sink, or the default
// output sink when device is empty.
func OpenPlaybackDevice(logger *zap.SugaredLogger, device string) (PlaybackDevice, error) {
	logger = logger.Named("pulse")

	client, err := pulse.NewClient(pulse.ClientApplicationName("beam"))
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	var sink *pulse.Sink
	if device != "" {
		sink, err = client.SinkByID(device)
	} else {
		sink, err = client.DefaultSink()
	}
	if err != nil {
		client.Close()
		logger.Warnw("Failed to resolve playback sink", "device", device, "error", err)
		return nil, fmt.Errorf("resolve playback sink: %w", err)
	}

	pr, pw := io.Pipe()
	stream, err := client.NewPlayback(
		pulse.NewReader(pr, proto.FormatInt16LE),
		pulse.PlaybackSink(sink),
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackStereo,
	)
	if err != nil {
		client.Close()
		logger.Warnw("Failed to open playback stream", "error", err)
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	stream.Start()

	logger.Debugw("PulseAudio playback open", "device", device)

	return &paPlayback{logger: logger, client: client, stream: stream, pw: pw}, nil
}

func (p *paPlayback) Write(chunk []byte) error {
	if _, err := p.pw.Write(chunk); err != nil {
		return fmt.Errorf("write playback samples: %w", err)
	}
	return nil
}

func (p *paPlayback) Close() error {
	p.once.Do(func() {
		_ = p.pw.Close()
		p.stream.Stop()
		p.client.Close()
		p.logger.Debug("PulseAudio playback closed")
	})
	return nil
}
