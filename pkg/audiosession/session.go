// Package audiosession arbitrates a process's claim on the platform's shared
// audio output channel. It owns the session state machine: when to activate
// or deactivate the claim, how to react to platform interruptions and route
// changes, and how "did my audio actually start" facts are surfaced to the
// rest of the application.
package audiosession

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AudioSession is the session state machine. It is the sole owner, within the
// process, of the decision to claim or release the output channel, and there
// must be exactly one instance per process.
//
// Direct method calls and platform notifications both mutate the same state
// fields, so every transition runs under one lock.
type AudioSession struct {
	logger    *zap.SugaredLogger
	platform  PlatformSession
	appState  AppStateProvider
	remote    RemoteControlCenter
	telemetry Telemetry
	source    NotificationSource

	lock sync.Mutex

	mixWithOthers   bool
	needsActivation bool
	speakerMode     bool
	activationError *PlatformError
	receivingRemote bool

	observer Observer

	stopChannel chan bool
	releaseOnce sync.Once
}

// Options carries the optional collaborators of an AudioSession. Zero values
// get safe defaults: no telemetry, no remote-control wiring, always-foreground
// app state, and no notification source.
type Options struct {
	AppState      AppStateProvider
	RemoteControl RemoteControlCenter
	Telemetry     Telemetry
	Source        NotificationSource

	// MixWithOthers sets the initial sharing mode.
	MixWithOthers bool
}

// NewAudioSession creates the process's audio session state machine,
// configures the platform session synchronously and subscribes to the
// platform notification streams. A configuration failure is reported through
// telemetry and logs but does not fail construction - a later
// media-services-reset or SetMixWithOthers retries it.
func NewAudioSession(logger *zap.SugaredLogger, platform PlatformSession, opts Options) *AudioSession {
	logger = logger.Named("session")

	s := &AudioSession{
		logger:          logger,
		platform:        platform,
		appState:        opts.AppState,
		remote:          opts.RemoteControl,
		telemetry:       opts.Telemetry,
		source:          opts.Source,
		mixWithOthers:   opts.MixWithOthers,
		needsActivation: true,
		stopChannel:     make(chan bool),
	}

	if s.appState == nil {
		s.appState = alwaysForeground{}
	}
	if s.remote == nil {
		s.remote = NopRemoteControlCenter{}
	}
	if s.telemetry == nil {
		s.telemetry = NopTelemetry{}
	}

	s.lock.Lock()
	if err := s.configureLocked(); err != nil {
		logger.Warnw("Initial audio session configuration failed", "error", err)
	}
	s.lock.Unlock()

	if s.source != nil {
		go s.pumpNotifications(s.source.SubscribeToNotifications())
	}

	logger.Debug("Created audio session instance")

	return s
}

// SetObserver attaches the single observer, replacing any previous one.
// Pass nil to detach.
func (s *AudioSession) SetObserver(o Observer) {
	s.lock.Lock()
	s.observer = o
	s.lock.Unlock()
}

// NeedsActivation reports whether the session must (re)activate before
// producing sound.
func (s *AudioSession) NeedsActivation() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.needsActivation
}

// IsInSpeakerMode reports whether output is currently force-routed to the
// built-in speaker.
func (s *AudioSession) IsInSpeakerMode() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.speakerMode
}

// MixWithOthers reports the session's current sharing mode.
func (s *AudioSession) MixWithOthers() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.mixWithOthers
}

// ActivationError returns the last activation failure, or nil. It is kept
// until the next successful activation so the application can inspect why
// audio is unavailable.
func (s *AudioSession) ActivationError() *PlatformError {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.activationError
}

// SetMixWithOthers changes the sharing mode and re-applies the session
// configuration when the value actually changed.
func (s *AudioSession) SetMixWithOthers(mix bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.mixWithOthers == mix {
		return
	}

	s.mixWithOthers = mix
	s.logger.Infow("Sharing mode changed, reconfiguring session", "mixWithOthers", mix)

	if err := s.configureLocked(); err != nil {
		s.logger.Warnw("Failed to reconfigure session after sharing mode change", "error", err)
	}
}

// ConfigureAudioSession applies the platform category/options configuration
// for background-capable playback, including mixing options iff the session
// mixes with others.
func (s *AudioSession) ConfigureAudioSession() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.configureLocked()
}

func (s *AudioSession) configureLocked() error {
	cfg := SessionConfig{MixWithOthers: s.mixWithOthers}

	if err := s.platform.SetCategory(cfg); err != nil {
		s.logger.Warnw("Failed to set audio session category", "error", err, "mixWithOthers", s.mixWithOthers)
		s.telemetry.Record(EventSetCategoryError, s.routeSnapshotLocked(), asPlatformError(err))
		return fmt.Errorf("set audio session category: %w", err)
	}

	s.logger.Debugw("Configured audio session", "mixWithOthers", s.mixWithOthers)

	return nil
}

// Activate claims the output channel. Without force, the activation guard is
// consulted first; a guard refusal is a logged no-op returning false. Returns
// true iff the platform call succeeded.
func (s *AudioSession) Activate(force bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.activateLocked(force)
}

func (s *AudioSession) activateLocked(force bool) bool {
	if !force && !s.shouldActivateLocked() {
		s.logger.Debugw("Skipping session activation", "needsActivation", s.needsActivation)
		return false
	}

	if err := s.platform.SetActive(true); err != nil {
		perr := asPlatformError(err)
		s.activationError = perr
		s.logger.Warnw("Failed to activate audio session", "error", err)
		s.telemetry.Record(EventActivateError, s.routeSnapshotLocked(), perr)
		return false
	}

	s.activationError = nil
	s.needsActivation = false

	// exclusive-use sessions are the only ones expected to own transport controls
	if !s.mixWithOthers {
		s.remote.BeginReceivingRemoteControlEvents()
		s.receivingRemote = true
	}

	s.logger.Debug("Activated audio session")

	if s.observer != nil {
		s.observer.SessionActivated()
	}

	return true
}

// shouldActivateLocked is the activation guard. When the session is exclusive
// and another app is already producing audio, activation is permitted only
// while this application is foregrounded - a background process must not
// hijack the output channel from a foregrounded app that is legitimately
// playing. Otherwise activation is permitted iff the session actually needs it.
func (s *AudioSession) shouldActivateLocked() bool {
	if !s.mixWithOthers && s.platform.IsOtherAudioPlaying() {
		return s.appState.IsForeground()
	}

	return s.needsActivation
}

// Deactivate releases the output channel. Without force, the call is a no-op
// returning false unless the session is currently active and no other app is
// producing audio. Success is intentionally not observable.
func (s *AudioSession) Deactivate(force bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.deactivateLocked(force)
}

func (s *AudioSession) deactivateLocked(force bool) bool {
	if !force && (s.needsActivation || s.platform.IsOtherAudioPlaying()) {
		s.logger.Debugw("Skipping session deactivation", "needsActivation", s.needsActivation)
		return false
	}

	if err := s.platform.SetActive(false); err != nil {
		s.logger.Warnw("Failed to deactivate audio session", "error", err)
		s.telemetry.Record(EventDeactivateError, s.routeSnapshotLocked(), asPlatformError(err))
		return false
	}

	s.needsActivation = true

	if s.receivingRemote {
		s.remote.EndReceivingRemoteControlEvents()
		s.receivingRemote = false
	}

	s.logger.Debug("Deactivated audio session")

	return true
}

// OverrideOutputAudioPort forces output to the built-in speaker, or removes
// the forced routing. Without force, only the two meaningful transitions are
// allowed: none-to-speaker while not in speaker mode, and speaker-to-none
// while in speaker mode. force exists to re-assert an override the platform
// silently reverted.
func (s *AudioSession) OverrideOutputAudioPort(override PortOverride, force bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.overrideOutputPortLocked(override, force)
}

func (s *AudioSession) overrideOutputPortLocked(override PortOverride, force bool) bool {
	allowed := (override == PortOverrideSpeaker && !s.speakerMode) ||
		(override == PortOverrideNone && s.speakerMode)

	if !force && !allowed {
		s.logger.Debugw("Skipping output port override", "override", override.String(), "speakerMode", s.speakerMode)
		return false
	}

	if err := s.platform.OverrideOutputPort(override); err != nil {
		s.logger.Warnw("Failed to override output port", "override", override.String(), "error", err)

		snapshot := s.routeSnapshotLocked()
		snapshot.AttemptedOverride = override.String()
		s.telemetry.Record(EventOverrideOutputPortError, snapshot, asPlatformError(err))

		return false
	}

	s.speakerMode = override == PortOverrideSpeaker
	s.logger.Debugw("Overrode output port", "override", override.String())

	if s.observer != nil {
		s.observer.OutputRouteOverridden(override)
	}

	return true
}

// RouteSnapshot returns the current route facts, computed on demand.
func (s *AudioSession) RouteSnapshot() RouteSnapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.routeSnapshotLocked()
}

func (s *AudioSession) routeSnapshotLocked() RouteSnapshot {
	port, err := s.platform.OutputPortType()
	if err != nil {
		s.logger.Debugw("Failed to query current output port", "error", err)
		port = "unknown"
	}

	return RouteSnapshot{
		OutputPortType:    port,
		OtherAudioPlaying: s.platform.IsOtherAudioPlaying(),
		MixWithOthers:     s.mixWithOthers,
	}
}

// pumpNotifications funnels platform notifications into the same lock that
// guards direct method calls.
func (s *AudioSession) pumpNotifications(notifications chan Notification) {
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				s.logger.Debug("Notification channel closed, stopping pump")
				return
			}
			s.handleNotification(n)
		case <-s.stopChannel:
			s.logger.Debug("Stop signaled, stopping notification pump")
			return
		}
	}
}

func (s *AudioSession) handleNotification(n Notification) {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch n.Kind {
	case NotificationMediaServicesReset:
		s.handleMediaServicesResetLocked()
	case NotificationInterruption:
		s.handleInterruptionLocked(n)
	case NotificationRouteChange:
		s.handleRouteChangeLocked(n.RouteReason)
	case NotificationSilenceSecondaryAudioHint:
		// informational only - a higher layer may act on ducking if it wants to
		s.logger.Debugw("Silence secondary audio hint", "type", n.SilenceHint.String())
	default:
		s.logger.Debugw("Ignoring unrecognized notification", "kind", int(n.Kind))
	}
}

// handleMediaServicesResetLocked treats a media-services reset as a full loss
// of session state: whatever we believed before, the session must re-activate
// and be reconfigured.
func (s *AudioSession) handleMediaServicesResetLocked() {
	s.logger.Warn("Media services were reset, session state invalidated")

	s.needsActivation = true

	if err := s.configureLocked(); err != nil {
		s.logger.Warnw("Failed to reconfigure session after media services reset", "error", err)
	}

	if s.observer != nil {
		s.observer.MediaServicesWereReset()
	}
}

func (s *AudioSession) handleInterruptionLocked(n Notification) {
	switch n.Interruption {
	case InterruptionBegan:
		s.logger.Info("Audio session interruption began")
		if s.observer != nil {
			s.observer.InterruptionBegan()
		}
	case InterruptionEnded:
		s.logger.Infow("Audio session interruption ended", "shouldResume", n.ShouldResume)
		if s.observer != nil {
			s.observer.InterruptionEnded(n.ShouldResume)
		}
	}
}

// handleRouteChangeLocked logs every route change for diagnostics. The one
// reason with functional effect is an override-type change: the platform may
// have silently cleared our speaker override (e.g. for an incoming call), so
// the internal flag is dropped and the override re-asserted to restore the
// user's explicit choice.
func (s *AudioSession) handleRouteChangeLocked(reason RouteChangeReason) {
	s.logger.Infow("Audio route changed", "reason", reason.String())

	if reason != RouteChangeReasonOverride || !s.speakerMode {
		return
	}

	s.logger.Info("Speaker override possibly reverted by system, re-asserting")
	s.speakerMode = false

	if !s.overrideOutputPortLocked(PortOverrideSpeaker, true) {
		s.logger.Warn("Failed to re-assert speaker override after system route change")
	}
}

// Release tears the session down exactly once: the source subscription is
// dropped and then the notification pump stops. The source must stop first -
// the pump keeps draining until the subscriber channel closes, so a delivery
// that is in flight during teardown cannot block the source's shutdown. The
// platform backend is released by whoever constructed it.
func (s *AudioSession) Release() {
	s.releaseOnce.Do(func() {
		s.logger.Debug("Releasing audio session")
		if s.source != nil {
			s.source.Stop()
		}
		close(s.stopChannel)
	})
}
