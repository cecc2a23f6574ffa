// Package beam provides the host-side streamer that feeds a standalone
// VR headset over the local network: it discovers the client, encodes
// mirrored display slices, exchanges audio and runs the control link.
package beam

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/flow"
	"github.com/beamvr/beam/pkg/beam/hostdrv"
	"github.com/beamvr/beam/pkg/beam/util"
)

// Streamer is the main entity managing all subcomponents
type Streamer struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	store     *SessionStore
	backend   hostdrv.Backend

	// activeBus is the current session's shutdown bus, nil between
	// sessions; host-side stop paths post SignalBackendShutdown there
	activeBus      *flow.SignalBus[ShutdownSignal]
	activeBusMutex sync.Mutex

	stopRequested atomic.Bool
	serveDone     chan struct{}

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewStreamer(logger *zap.SugaredLogger, verbose bool) (*Streamer, error) {
	logger = logger.Named("beam")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	s := &Streamer{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		store:       LoadSessionStore(logger, filepath.Join(logDirectory, sessionRecordFilename)),
		backend:     hostdrv.NewSim(logger),
		serveDone:   make(chan struct{}),
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
	}

	logger.Debug("Created streamer instance")

	return s, nil
}

// Initialize sets up components and starts to run in the background
func (s *Streamer) Initialize() error {
	s.logger.Debug("Initializing")

	if err := util.CreateMutex("beam"); err != nil {
		s.logger.Errorw("Failed to acquire single-instance lock", "error", err)
		return fmt.Errorf("acquire single-instance lock: %w", err)
	}

	// load the config for the first time
	if err := s.configMan.Load(); err != nil {
		s.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	s.setupInterruptHandler()

	if s.configMan.Current().Host.DisableTray {
		s.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		s.run()
	} else {
		s.runningWithTray = true
		s.initializeTray(s.run)
	}

	return nil
}

// SetVersion causes beam to add a version string to its tray menu if called before Initialize
func (s *Streamer) SetVersion(version string) {
	s.version = version
}

// Verbose returns a boolean indicating whether beam is running in verbose mode
func (s *Streamer) Verbose() bool {
	return s.verbose
}

func (s *Streamer) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		s.logger.Debugw("Interrupted", "signal", signal)
		s.signalStop()
	}()
}

func (s *Streamer) run() {
	s.logger.Info("Run loop starting")

	go s.configMan.WatchConfigFileChanges()
	go s.consumeConfigReloads()

	if s.configMan.Current().Host.BlockStandby {
		util.BlockStandby(s.logger)
	}

	go s.serve()

	// wait until gracefully stopped
	<-s.stopChannel
	s.logger.Debug("Stop channel signaled, terminating")

	if err := s.stop(); err != nil {
		s.logger.Warnw("Failed to stop beam", "error", err)
		os.Exit(1)
	} else {
		os.Exit(0)
	}
}

// consumeConfigReloads drains the config manager's reload notifications.
// Settings are re-read at the top of every session attempt, so a reload
// only needs acknowledging here.
func (s *Streamer) consumeConfigReloads() {
	reloads := s.configMan.SubscribeToChanges()

	for range reloads {
		s.logger.Info("Settings reloaded, next session will pick them up")
	}
}

func (s *Streamer) signalStop() {
	s.logger.Debug("Signalling stop channel")

	select {
	case s.stopChannel <- true:
	default:
		// a stop is already pending
	}
}

// setActiveBus publishes the bus host-side stop paths should signal;
// nil clears it between sessions.
func (s *Streamer) setActiveBus(bus *flow.SignalBus[ShutdownSignal]) {
	s.activeBusMutex.Lock()
	defer s.activeBusMutex.Unlock()
	s.activeBus = bus
}

func (s *Streamer) signalBackendShutdown() {
	s.activeBusMutex.Lock()
	defer s.activeBusMutex.Unlock()

	if s.activeBus != nil {
		s.activeBus.Send(SignalBackendShutdown)
	}
}

func (s *Streamer) stop() error {
	s.logger.Info("Stopping")

	s.configMan.StopWatchingConfigFile()

	// unwind any in-flight session, then wait for the serve loop
	s.stopRequested.Store(true)
	s.signalBackendShutdown()
	<-s.serveDone

	if s.runningWithTray {
		s.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = s.logger.Sync()

	return nil
}
