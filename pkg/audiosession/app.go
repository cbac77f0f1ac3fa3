package audiosession

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soundwire/audiosession/pkg/audiosession/util"
)

const (

	// when this is set to anything, the app won't use a tray icon
	envNoTray = "AUDIOSESSION_NO_TRAY_ICON"

	telemetryShutdownTimeout = 5 * time.Second
)

// App is the main entity managing access to all sub-components: the session
// state machine, its platform backend, the notification feed, telemetry and
// the tray.
type App struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig

	platform   PlatformSession
	session    *AudioSession
	feed       *NotificationFeed
	feedServer *FeedServer

	telemetryShutdown func(context.Context) error
	telemetryServer   *http.Server

	stopChannel chan bool
	version     string
	verbose     bool
	stopping    sync.Once
}

// NewApp creates an App instance
func NewApp(logger *zap.SugaredLogger, verbose bool) (*App, error) {
	logger = logger.Named("app")

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

	a := &App{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Created app instance")

	return a, nil
}

// Initialize sets up components and starts to run in the background
func (a *App) Initialize() error {
	a.logger.Debug("Initializing")

	// load the config for the first time
	if err := a.config.Load(); err != nil {
		a.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	platform, err := NewPlatformSession(a.logger)
	if err != nil {
		a.logger.Errorw("Failed to create platform session", "error", err)
		a.notifier.Notify("Can't reach the audio subsystem!",
			"Make sure an audio server is running, then re-launch.")
		return fmt.Errorf("create platform session: %w", err)
	}
	a.platform = platform

	telemetry, err := a.initializeTelemetry()
	if err != nil {
		a.logger.Errorw("Failed to initialize telemetry", "error", err)
		return fmt.Errorf("init telemetry: %w", err)
	}

	var source NotificationSource
	if a.config.NotificationFeedURL != "" {
		feed, err := NewNotificationFeed(a.logger, a.config.NotificationFeedURL)
		if err != nil {
			a.logger.Errorw("Failed to create notification feed", "error", err)
			return fmt.Errorf("create notification feed: %w", err)
		}

		if err := feed.Start(); err != nil {
			a.logger.Warnw("Failed to start notification feed", "error", err)
			a.notifier.Notify(fmt.Sprintf("Can't connect to %s!", a.config.NotificationFeedURL),
				"Make sure the URL is correct and the audio event stream is reachable.")
			return fmt.Errorf("start notification feed: %w", err)
		}

		a.feed = feed
		source = feed
	}

	a.session = NewAudioSession(a.logger, platform, Options{
		AppState:      NewAppStateProvider(a.logger),
		Telemetry:     telemetry,
		Source:        source,
		MixWithOthers: a.config.MixWithOthers,
	})

	if a.config.FeedServerAddr != "" {
		feedServer, err := NewFeedServer(a.logger, a.config.FeedServerAddr)
		if err != nil {
			a.logger.Errorw("Failed to create feed server", "error", err)
			return fmt.Errorf("create feed server: %w", err)
		}

		if err := feedServer.Start(); err != nil {
			a.logger.Warnw("Failed to start feed server", "error", err)
		} else {
			a.feedServer = feedServer
			a.session.SetObserver(feedServer)
		}
	}

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {

		a.logger.Debugw("Running without tray icon", "reason", "envvar set")

		// run in main thread while waiting on ctrl+C
		a.setupInterruptHandler()
		a.run()

	} else {
		a.setupInterruptHandler()
		a.initializeTray(a.run)
	}

	return nil
}

// Session exposes the session state machine to embedding code
func (a *App) Session() *AudioSession {
	return a.session
}

// SetVersion causes the app to add a version string to its tray menu if called before Initialize
func (a *App) SetVersion(version string) {
	a.version = version
}

// Verbose returns a boolean indicating whether the app is running in verbose mode
func (a *App) Verbose() bool {
	return a.verbose
}

func (a *App) initializeTelemetry() (Telemetry, error) {
	mp, shutdown, err := InitMeterProvider(a.version)
	if err != nil {
		return nil, fmt.Errorf("init meter provider: %w", err)
	}
	a.telemetryShutdown = shutdown

	telemetry, err := NewSessionTelemetry(mp)
	if err != nil {
		return nil, fmt.Errorf("create session telemetry: %w", err)
	}

	if a.config.TelemetryListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		a.telemetryServer = &http.Server{
			Addr:    a.config.TelemetryListenAddr,
			Handler: mux,
		}

		go func() {
			a.logger.Infow("Serving telemetry", "addr", a.config.TelemetryListenAddr)
			if err := a.telemetryServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warnw("Telemetry server error", "error", err)
			}
		}()
	}

	return telemetry, nil
}

func (a *App) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		a.logger.Debugw("Interrupted", "signal", signal)
		a.signalStop()
	}()
}

func (a *App) run() {
	a.logger.Info("Run loop starting")

	// watch the config file for changes
	go a.config.WatchConfigFileChanges()

	a.setupOnConfigReload()

	// wait until stopped (gracefully)
	<-a.stopChannel
	a.logger.Debug("Stop channel signaled, terminating")

	if err := a.stop(); err != nil {
		a.logger.Warnw("Failed to stop app", "error", err)
		os.Exit(1)
	} else {
		// exit with 0
		os.Exit(0)
	}
}

func (a *App) signalStop() {
	a.stopping.Do(func() {
		a.logger.Debug("Signalling stop channel")
		select {
		case a.stopChannel <- true:
		default:
			// Channel already has a signal, ignore
		}
	})
}

func (a *App) stop() error {
	a.logger.Info("Stopping")

	a.config.StopWatchingConfigFile()

	if a.session != nil {
		a.session.SetObserver(nil)
		a.session.Release()
	}

	if a.feedServer != nil {
		a.feedServer.Stop()
	}

	if a.telemetryServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := a.telemetryServer.Shutdown(ctx); err != nil {
			a.logger.Warnw("Error during telemetry server shutdown", "error", err)
		}
	}

	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := a.telemetryShutdown(ctx); err != nil {
			a.logger.Warnw("Error during telemetry provider shutdown", "error", err)
		}
	}

	if a.platform != nil {
		if err := a.platform.Release(); err != nil {
			a.logger.Errorw("Failed to release platform session", "error", err)
			return fmt.Errorf("release platform session: %w", err)
		}
	}

	a.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	a.logger.Sync()

	return nil
}

// setupOnConfigReload applies configuration changes to the running session
func (a *App) setupOnConfigReload() {
	configReloadedChannel := a.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			a.logger.Debug("Config reloaded, applying changes")
			a.session.SetMixWithOthers(a.config.MixWithOthers)
		}
	}()
}
