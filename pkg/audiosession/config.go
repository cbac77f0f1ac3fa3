package audiosession

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/soundwire/audiosession/pkg/audiosession/util"
)

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for the configuration file
type CanonicalConfig struct {
	MixWithOthers bool

	// NotificationFeedURL is the SSE endpoint of a companion daemon that
	// republishes platform audio events. Empty disables the feed.
	NotificationFeedURL string

	// FeedServerAddr is the listen address for republishing this process's
	// session events over SSE. Empty disables the server.
	FeedServerAddr string

	// TelemetryListenAddr is the listen address for the /metrics endpoint.
	// Empty disables the endpoint.
	TelemetryListenAddr string

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."

	configType = "yaml"

	configKeyMixWithOthers       = "mix_with_others"
	configKeyNotificationFeedURL = "notification_feed_url"
	configKeyFeedServerAddr      = "feed_server_addr"
	configKeyTelemetryListenAddr = "telemetry_listen_addr"

	defaultMixWithOthers       = false
	defaultNotificationFeedURL = ""
	defaultFeedServerAddr      = ""
	defaultTelemetryListenAddr = ":2112"
)

// NewConfig creates a config instance and sets up its viper instance
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	userConfig.SetDefault(configKeyMixWithOthers, defaultMixWithOthers)
	userConfig.SetDefault(configKeyNotificationFeedURL, defaultNotificationFeedURL)
	userConfig.SetDefault(configKeyFeedServerAddr, defaultFeedServerAddr)
	userConfig.SetDefault(configKeyTelemetryListenAddr, defaultTelemetryListenAddr)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file from disk and tries to parse it
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", userConfigFilepath)

	if !util.FileExists(userConfigFilepath) {
		cc.logger.Debugw("Config file not found, using defaults", "path", userConfigFilepath)
		cc.populateFromViper()
		return nil
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check the logs for more details.")
		}
		return fmt.Errorf("read user config: %w", err)
	}

	cc.populateFromViper()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"mixWithOthers", cc.MixWithOthers,
		"notificationFeedURL", cc.NotificationFeedURL,
		"feedServerAddr", cc.FeedServerAddr,
		"telemetryListenAddr", cc.TelemetryListenAddr,
	)

	return nil
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {

		// when we get a write event...
		if event.Op&fsnotify.Write == fsnotify.Write {

			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

				// and attempt reload if appropriate
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.onConfigReloaded()
				}

				// don't forget to update the time
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
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true

	// Close all reload consumer channels to signal goroutines to exit
	cc.closeReloadChannels()
}

// closeReloadChannels closes all reload consumer channels to signal goroutines to exit
func (cc *CanonicalConfig) closeReloadChannels() {
	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
	cc.logger.Debug("Closed all config reload channels")
}

func (cc *CanonicalConfig) populateFromViper() {
	cc.MixWithOthers = cc.userConfig.GetBool(configKeyMixWithOthers)
	cc.NotificationFeedURL = cc.userConfig.GetString(configKeyNotificationFeedURL)
	cc.FeedServerAddr = cc.userConfig.GetString(configKeyFeedServerAddr)
	cc.TelemetryListenAddr = cc.userConfig.GetString(configKeyTelemetryListenAddr)
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying config reload subscribers")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
