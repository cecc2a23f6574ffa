package beam

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/beamvr/beam/pkg/beam/data"
	"github.com/beamvr/beam/pkg/beam/util"
)

// ConfigManager owns the host configuration: the user-facing beam.yaml
// next to the binary and an internal overrides file under logs/ for
// machine-local knobs (e.g. ports) that shouldn't live in the shared
// user file. A missing or broken user config degrades to the built-in
// defaults with a single warning; configuration never crashes the host.
type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	internalConfig *viper.Viper

	mu       sync.RWMutex
	current  data.Settings
	degraded bool
}

const (
	userConfigFilepath = "beam.yaml"

	userConfigName     = "beam"
	internalConfigName = "state"

	userConfigPath = "."

	configType = "yaml"
)

var internalConfigPath = path.Join(".", logDirectory)

// NewConfig builds the config manager. Load must be called before the
// first Current.
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*ConfigManager, error) {
	logger = logger.Named("config")

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		current:            data.DefaultSettings(),
	}

	// distinguish between the user-provided config (beam.yaml) and the internal config (logs/state.yaml)
	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	internalConfig := viper.New()
	internalConfig.SetConfigName(internalConfigName)
	internalConfig.SetConfigType(configType)
	internalConfig.AddConfigPath(internalConfigPath)

	cc.userConfig = userConfig
	cc.internalConfig = internalConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Current returns the settings in effect. Safe to call concurrently with
// a reload.
func (cc *ConfigManager) Current() data.Settings {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.current
}

// Degraded reports whether the host is running on built-in defaults
// because the user config was missing or unreadable.
func (cc *ConfigManager) Degraded() bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.degraded
}

// Load reads both config files and swaps in the result. Every failure
// path keeps the previous (or default) settings and returns nil; the
// host proceeds degraded rather than aborting.
func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", userConfigFilepath)

	if !util.FileExists(userConfigFilepath) {
		cc.degradeOnce("Configuration not found",
			fmt.Sprintf("%s is missing; beam is running on default settings.", userConfigFilepath))
		return nil
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
		if strings.Contains(err.Error(), "yaml:") {
			cc.degradeOnce("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
		} else {
			cc.degradeOnce("Error loading configuration!", "Please check beam's logs for more details.")
		}
		return nil
	}

	// the internal config doesn't have to exist
	if err := cc.internalConfig.ReadInConfig(); err != nil {
		cc.logger.Debugw("Viper failed to read internal config", "error", err, "reminder", "this is fine")
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		cc.degradeOnce("Invalid configuration!", "Please check beam's logs for more details.")
		return nil
	}

	cc.logger.Info("Loaded config successfully")

	return nil
}

func (cc *ConfigManager) populateFromVipers() error {
	// unmarshal over the defaults so unset keys keep their built-in
	// values; internal overrides land on top of the user config
	candidate := data.DefaultSettings()

	decodeStrict := func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
	}

	if err := cc.userConfig.Unmarshal(&candidate, decodeStrict); err != nil {
		return fmt.Errorf("unmarshal user config: %w", err)
	}
	if err := cc.internalConfig.Unmarshal(&candidate, decodeStrict); err != nil {
		return fmt.Errorf("unmarshal internal config: %w", err)
	}

	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	cc.mu.Lock()
	cc.current = candidate
	cc.degraded = false
	cc.mu.Unlock()

	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

// degradeOnce keeps the previous settings and warns the user; repeated
// degradations on the same run stay in the logs only.
func (cc *ConfigManager) degradeOnce(title string, message string) {
	cc.mu.Lock()
	alreadyDegraded := cc.degraded
	cc.degraded = true
	cc.mu.Unlock()

	cc.logger.Warnw("Running on defaults", "reason", title)
	if !alreadyDegraded {
		cc.notifier.Notify(title, message)
	}
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else if !cc.Degraded() {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes apply to the next session.")

					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
