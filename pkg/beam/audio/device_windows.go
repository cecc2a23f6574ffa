package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

// hnsBufferDuration is the shared-mode buffer passed to IAudioClient, in
// 100ns units (200ms).
const hnsBufferDuration = 200 * 10000

var errCaptureClosed = errors.New("audio: capture device closed")

func initializeCOM(logger *zap.SugaredLogger) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// E_FALSE means that the call was redundant.
		const eFalse = 1
		oleError := &ole.OleError{}

		if errors.As(err, &oleError) && oleError.Code() == eFalse {
			logger.Warn("CoInitializeEx failed with E_FALSE due to redundant invocation")
			return nil
		}

		logger.Warnw("Failed to call CoInitializeEx", "error", err)
		return fmt.Errorf("call CoInitializeEx: %w", err)
	}
	return nil
}

// defaultRenderEndpoint activates an IAudioClient on the default output
// device. Both loopback capture and microphone playback run against the
// render endpoint; per-device selection is not wired on Windows yet, the
// configured device name is logged and the default is used.
func defaultRenderEndpoint(logger *zap.SugaredLogger, device string) (*wca.IMMDeviceEnumerator, *wca.IMMDevice, *wca.IAudioClient, error) {
	if device != "" {
		logger.Debugw("Explicit device selection is not supported on Windows, using the default endpoint",
			"device", device)
	}

	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&mmde,
	); err != nil {
		logger.Warnw("Failed to call CoCreateInstance", "error", err)
		return nil, nil, nil, fmt.Errorf("call CoCreateInstance: %w", err)
	}

	var mmd *wca.IMMDevice
	if err := mmde.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &mmd); err != nil {
		mmde.Release()
		logger.Warnw("Failed to get default audio endpoint", "error", err)
		return nil, nil, nil, fmt.Errorf("get default audio endpoint: %w", err)
	}

	var client *wca.IAudioClient
	if err := mmd.Activate(wca.IID_IAudioClient, wca.CLSCTX_ALL, nil, &client); err != nil {
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to activate IAudioClient", "error", err)
		return nil, nil, nil, fmt.Errorf("activate IAudioClient: %w", err)
	}

	return mmde, mmd, client, nil
}

// wasapiCapture grabs whatever the default output device is playing via
// WASAPI shared-mode loopback.
type wasapiCapture struct {
	logger *zap.SugaredLogger

	mmde   *wca.IMMDeviceEnumerator
	mmd    *wca.IMMDevice
	client *wca.IAudioClient
	acc    *wca.IAudioCaptureClient

	frameBytes int
	pollPeriod time.Duration
	once       sync.Once
	closed     chan struct{}
}

// OpenCaptureDevice opens loopback capture of the host's default output.
func OpenCaptureDevice(logger *zap.SugaredLogger, device string) (CaptureDevice, error) {
	logger = logger.Named("wasapi")

	if err := initializeCOM(logger); err != nil {
		return nil, err
	}

	mmde, mmd, client, err := defaultRenderEndpoint(logger, device)
	if err != nil {
		return nil, err
	}

	var wfx *wca.WAVEFORMATEX
	if err := client.GetMixFormat(&wfx); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to get mix format", "error", err)
		return nil, fmt.Errorf("get mix format: %w", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))

	if err := client.Initialize(
		wca.AUDCLNT_SHAREMODE_SHARED,
		wca.AUDCLNT_STREAMFLAGS_LOOPBACK,
		hnsBufferDuration,
		0,
		wfx,
		nil,
	); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to initialize loopback audio client", "error", err)
		return nil, fmt.Errorf("initialize loopback audio client: %w", err)
	}

	var acc *wca.IAudioCaptureClient
	if err := client.GetService(wca.IID_IAudioCaptureClient, &acc); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to get capture service", "error", err)
		return nil, fmt.Errorf("get capture service: %w", err)
	}

	if err := client.Start(); err != nil {
		acc.Release()
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to start capture", "error", err)
		return nil, fmt.Errorf("start capture: %w", err)
	}

	c := &wasapiCapture{
		logger:     logger,
		mmde:       mmde,
		mmd:        mmd,
		client:     client,
		acc:        acc,
		frameBytes: int(wfx.NBlockAlign),
		pollPeriod: 10 * time.Millisecond,
		closed:     make(chan struct{}),
	}

	logger.Debug("WASAPI loopback capture open")

	return c, nil
}

func (c *wasapiCapture) Read() ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, errCaptureClosed
		default:
		}

		var packetFrames uint32
		if err := c.acc.GetNextPacketSize(&packetFrames); err != nil {
			return nil, fmt.Errorf("get next packet size: %w", err)
		}
		if packetFrames == 0 {
			time.Sleep(c.pollPeriod)
			continue
		}

		var (
			raw    *byte
			frames uint32
			flags  uint32
		)
		if err := c.acc.GetBuffer(&raw, &frames, &flags, nil, nil); err != nil {
			return nil, fmt.Errorf("get capture buffer: %w", err)
		}

		size := int(frames) * c.frameBytes
		chunk := make([]byte, size)
		copy(chunk, unsafe.Slice(raw, size))

		if err := c.acc.ReleaseBuffer(frames); err != nil {
			return nil, fmt.Errorf("release capture buffer: %w", err)
		}

		return chunk, nil
	}
}

func (c *wasapiCapture) Close() error {
	c.once.Do(func() {
		close(c.closed)
		_ = c.client.Stop()
		c.acc.Release()
		c.client.Release()
		c.mmd.Release()
		c.mmde.Release()
		c.logger.Debug("WASAPI loopback capture closed")
	})
	return nil
}

// wasapiPlayback renders the client's microphone stream on the default
// output device.
type wasapiPlayback struct {
	logger *zap.SugaredLogger

	mmde   *wca.IMMDeviceEnumerator
	mmd    *wca.IMMDevice
	client *wca.IAudioClient
	arc    *wca.IAudioRenderClient

	bufferFrames uint32
	frameBytes   int
	once         sync.Once
}

// OpenPlaybackDevice opens playback on the host's default output.
func OpenPlaybackDevice(logger *zap.SugaredLogger, device string) (PlaybackDevice, error) {
	logger = logger.Named("wasapi")

	if err := initializeCOM(logger); err != nil {
		return nil, err
	}

	mmde, mmd, client, err := defaultRenderEndpoint(logger, device)
	if err != nil {
		return nil, err
	}

	var wfx *wca.WAVEFORMATEX
	if err := client.GetMixFormat(&wfx); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to get mix format", "error", err)
		return nil, fmt.Errorf("get mix format: %w", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))

	if err := client.Initialize(
		wca.AUDCLNT_SHAREMODE_SHARED,
		0,
		hnsBufferDuration,
		0,
		wfx,
		nil,
	); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to initialize render audio client", "error", err)
		return nil, fmt.Errorf("initialize render audio client: %w", err)
	}

	var bufferFrames uint32
	if err := client.GetBufferSize(&bufferFrames); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to get render buffer size", "error", err)
		return nil, fmt.Errorf("get render buffer size: %w", err)
	}

	var arc *wca.IAudioRenderClient
	if err := client.GetService(wca.IID_IAudioRenderClient, &arc); err != nil {
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to get render service", "error", err)
		return nil, fmt.Errorf("get render service: %w", err)
	}

	if err := client.Start(); err != nil {
		arc.Release()
		client.Release()
		mmd.Release()
		mmde.Release()
		logger.Warnw("Failed to start playback", "error", err)
		return nil, fmt.Errorf("start playback: %w", err)
	}

	p := &wasapiPlayback{
		logger:       logger,
		mmde:         mmde,
		mmd:          mmd,
		client:       client,
		arc:          arc,
		bufferFrames: bufferFrames,
		frameBytes:   int(wfx.NBlockAlign),
	}

	logger.Debug("WASAPI playback open")

	return p, nil
}

func (p *wasapiPlayback) Write(chunk []byte) error {
	for len(chunk) > 0 {
		var padding uint32
		if err := p.client.GetCurrentPadding(&padding); err != nil {
			return fmt.Errorf("get render padding: %w", err)
		}

		free := p.bufferFrames - padding
		if free == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		frames := uint32(len(chunk) / p.frameBytes)
		if frames == 0 {
			// trailing partial frame; nothing renderable left
			return nil
		}
		if frames > free {
			frames = free
		}

		var raw *byte
		if err := p.arc.GetBuffer(frames, &raw); err != nil {
			return fmt.Errorf("get render buffer: %w", err)
		}

		size := int(frames) * p.frameBytes
		copy(unsafe.Slice(raw, size), chunk[:size])

		if err := p.arc.ReleaseBuffer(frames, 0); err != nil {
			return fmt.Errorf("release render buffer: %w", err)
		}

		chunk = chunk[size:]
	}
	return nil
}

func (p *wasapiPlayback) Close() error {
	p.once.Do(func() {
		_ = p.client.Stop()
		p.arc.Release()
		p.client.Release()
		p.mmd.Release()
		p.mmde.Release()
		p.logger.Debug("WASAPI playback closed")
	})
	return nil
}
