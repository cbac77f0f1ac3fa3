package audiosession

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlatform struct {
	setCategoryErr error
	setActiveErr   error
	overrideErr    error

	setCategoryCalls int
	lastCategory     SessionConfig
	setActiveCalls   int
	lastActive       bool
	overrideCalls    int
	overrides        []PortOverride

	otherAudioPlaying bool
	outputPort        string
}

func (p *fakePlatform) SetCategory(cfg SessionConfig) error {
	p.setCategoryCalls++
	p.lastCategory = cfg
	return p.setCategoryErr
}

func (p *fakePlatform) SetActive(active bool) error {
	p.setActiveCalls++
	p.lastActive = active
	return p.setActiveErr
}

func (p *fakePlatform) OverrideOutputPort(override PortOverride) error {
	p.overrideCalls++
	if p.overrideErr != nil {
		return p.overrideErr
	}
	p.overrides = append(p.overrides, override)
	return nil
}

func (p *fakePlatform) OutputPortType() (string, error) {
	if p.outputPort == "" {
		return "speaker", nil
	}
	return p.outputPort, nil
}

func (p *fakePlatform) IsOtherAudioPlaying() bool { return p.otherAudioPlaying }

func (p *fakePlatform) Release() error { return nil }

type fakeObserver struct {
	mu sync.Mutex

	activated         int
	interruptionBegan int
	interruptionEnded []bool
	resets            int
	overridden        []PortOverride
}

func (o *fakeObserver) SessionActivated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activated++
}

func (o *fakeObserver) InterruptionBegan() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interruptionBegan++
}

func (o *fakeObserver) MediaServicesWereReset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
}

func (o *fakeObserver) InterruptionEnded(shouldResume bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interruptionEnded = append(o.interruptionEnded, shouldResume)
}

func (o *fakeObserver) OutputRouteOverridden(override PortOverride) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overridden = append(o.overridden, override)
}

func (o *fakeObserver) interruptionBeganCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interruptionBegan
}

type fakeAppState struct {
	foreground bool
}

func (s *fakeAppState) IsForeground() bool { return s.foreground }

type recordedEvent struct {
	event    string
	snapshot RouteSnapshot
	err      *PlatformError
}

type recordingTelemetry struct {
	events []recordedEvent
}

func (t *recordingTelemetry) Record(event string, snapshot RouteSnapshot, platformErr *PlatformError) {
	t.events = append(t.events, recordedEvent{event: event, snapshot: snapshot, err: platformErr})
}

type fakeRemote struct {
	begins int
	ends   int
}

func (r *fakeRemote) BeginReceivingRemoteControlEvents() { r.begins++ }
func (r *fakeRemote) EndReceivingRemoteControlEvents()   { r.ends++ }

type fakeSource struct {
	ch chan Notification
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan Notification)}
}

func (s *fakeSource) SubscribeToNotifications() chan Notification { return s.ch }
func (s *fakeSource) Stop()                                       { close(s.ch) }

// streamingSource continuously produces notifications the way the SSE feed
// does: blocking sends on an unbuffered subscriber channel, and a Stop whose
// signal is only received once the producer loop regains control between
// sends.
type streamingSource struct {
	ch   chan Notification
	stop chan bool
}

func newStreamingSource() *streamingSource {
	s := &streamingSource{
		ch:   make(chan Notification),
		stop: make(chan bool),
	}

	go func() {
		for {
			select {
			case <-s.stop:
				close(s.ch)
				return
			default:
				s.ch <- Notification{Kind: NotificationInterruption, Interruption: InterruptionBegan}
			}
		}
	}()

	return s
}

func (s *streamingSource) SubscribeToNotifications() chan Notification { return s.ch }
func (s *streamingSource) Stop()                                       { s.stop <- true }

func newTestSession(t *testing.T, platform *fakePlatform, opts Options) (*AudioSession, *fakeObserver, *recordingTelemetry) {
	t.Helper()

	telemetry := &recordingTelemetry{}
	opts.Telemetry = telemetry

	s := NewAudioSession(zap.NewNop().Sugar(), platform, opts)
	t.Cleanup(s.Release)

	observer := &fakeObserver{}
	s.SetObserver(observer)

	return s, observer, telemetry
}

func TestNewSessionConfiguresOnce(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	assert.Equal(t, 1, platform.setCategoryCalls)
	assert.True(t, s.NeedsActivation())
	assert.False(t, s.IsInSpeakerMode())
	assert.Nil(t, s.ActivationError())
}

func TestActivateIsIdempotent(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.Activate(false))
	assert.False(t, s.NeedsActivation())
	assert.Equal(t, 1, platform.setActiveCalls)
	assert.Equal(t, 1, observer.activated)

	// second call without intervening deactivation is a guarded no-op
	assert.False(t, s.Activate(false))
	assert.Equal(t, 1, platform.setActiveCalls)
	assert.Equal(t, 1, observer.activated)
}

func TestActivateRefusedInBackgroundWhileOtherAudioPlays(t *testing.T) {
	platform := &fakePlatform{otherAudioPlaying: true}
	s, _, _ := newTestSession(t, platform, Options{
		AppState: &fakeAppState{foreground: false},
	})

	assert.False(t, s.Activate(false))

	// the platform call was never issued and state is unchanged
	assert.Equal(t, 0, platform.setActiveCalls)
	assert.True(t, s.NeedsActivation())
}

func TestActivatePermittedInForegroundWhileOtherAudioPlays(t *testing.T) {
	platform := &fakePlatform{otherAudioPlaying: true}
	s, _, _ := newTestSession(t, platform, Options{
		AppState: &fakeAppState{foreground: true},
	})

	assert.True(t, s.Activate(false))
	assert.False(t, s.NeedsActivation())
}

func TestMixingSessionIgnoresOtherAudioGuard(t *testing.T) {
	platform := &fakePlatform{otherAudioPlaying: true}
	s, _, _ := newTestSession(t, platform, Options{
		AppState:      &fakeAppState{foreground: false},
		MixWithOthers: true,
	})

	assert.True(t, s.Activate(false))
}

func TestActivateFailureKeepsStateAndRecordsError(t *testing.T) {
	platform := &fakePlatform{
		setActiveErr: &PlatformError{Code: 560030580, Description: "session not available"},
	}
	s, observer, telemetry := newTestSession(t, platform, Options{})

	assert.False(t, s.Activate(false))
	assert.True(t, s.NeedsActivation())
	assert.Equal(t, 0, observer.activated)

	require.NotNil(t, s.ActivationError())
	assert.Equal(t, 560030580, s.ActivationError().Code)

	require.Len(t, telemetry.events, 1)
	assert.Equal(t, EventActivateError, telemetry.events[0].event)
	assert.Equal(t, 560030580, telemetry.events[0].err.Code)
	assert.Equal(t, "speaker", telemetry.events[0].snapshot.OutputPortType)

	// the next successful activation clears the stored error
	platform.setActiveErr = nil
	require.True(t, s.Activate(false))
	assert.Nil(t, s.ActivationError())
}

func TestDeactivateGuards(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	// not active yet - deactivation is a no-op
	assert.False(t, s.Deactivate(false))
	assert.Equal(t, 0, platform.setActiveCalls)

	require.True(t, s.Activate(false))

	// other audio playing - refuse
	platform.otherAudioPlaying = true
	assert.False(t, s.Deactivate(false))

	platform.otherAudioPlaying = false
	assert.True(t, s.Deactivate(false))
	assert.True(t, s.NeedsActivation())
	assert.False(t, platform.lastActive)
}

func TestDeactivateSuccessIsNotObservable(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.Activate(false))
	require.True(t, s.Deactivate(false))

	assert.Equal(t, 1, observer.activated)
	assert.Zero(t, observer.interruptionBegan)
	assert.Empty(t, observer.interruptionEnded)
	assert.Zero(t, observer.resets)
	assert.Empty(t, observer.overridden)
}

func TestDeactivateFailureKeepsState(t *testing.T) {
	platform := &fakePlatform{}
	s, _, telemetry := newTestSession(t, platform, Options{})

	require.True(t, s.Activate(false))

	platform.setActiveErr = &PlatformError{Code: 42, Description: "busy"}
	assert.False(t, s.Deactivate(false))
	assert.False(t, s.NeedsActivation())

	require.Len(t, telemetry.events, 1)
	assert.Equal(t, EventDeactivateError, telemetry.events[0].event)
}

func TestExclusiveActivationOwnsRemoteControls(t *testing.T) {
	platform := &fakePlatform{}
	remote := &fakeRemote{}
	s, _, _ := newTestSession(t, platform, Options{RemoteControl: remote})

	require.True(t, s.Activate(false))
	assert.Equal(t, 1, remote.begins)

	require.True(t, s.Deactivate(false))
	assert.Equal(t, 1, remote.ends)
}

func TestMixingActivationDoesNotOwnRemoteControls(t *testing.T) {
	platform := &fakePlatform{}
	remote := &fakeRemote{}
	s, _, _ := newTestSession(t, platform, Options{RemoteControl: remote, MixWithOthers: true})

	require.True(t, s.Activate(false))
	require.True(t, s.Deactivate(false))

	assert.Zero(t, remote.begins)
	assert.Zero(t, remote.ends)
}

func TestOverrideTransitions(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	assert.True(t, s.IsInSpeakerMode())

	// repeating the same override is a guarded no-op
	assert.False(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	assert.Equal(t, 1, platform.overrideCalls)
	assert.True(t, s.IsInSpeakerMode())

	require.True(t, s.OverrideOutputAudioPort(PortOverrideNone, false))
	assert.False(t, s.IsInSpeakerMode())

	assert.Equal(t, []PortOverride{PortOverrideSpeaker, PortOverrideNone}, observer.overridden)
}

func TestOverrideToNoneRequiresSpeakerMode(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	assert.False(t, s.OverrideOutputAudioPort(PortOverrideNone, false))
	assert.Equal(t, 0, platform.overrideCalls)
}

func TestOverrideFailureKeepsStateAndRecordsAttempt(t *testing.T) {
	platform := &fakePlatform{
		overrideErr: &PlatformError{Code: 7, Description: "no speaker route"},
	}
	s, observer, telemetry := newTestSession(t, platform, Options{})

	assert.False(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	assert.False(t, s.IsInSpeakerMode())
	assert.Empty(t, observer.overridden)

	require.Len(t, telemetry.events, 1)
	assert.Equal(t, EventOverrideOutputPortError, telemetry.events[0].event)
	assert.Equal(t, "speaker", telemetry.events[0].snapshot.AttemptedOverride)
	assert.Equal(t, 7, telemetry.events[0].err.Code)
}

func TestMediaServicesResetInvalidatesSession(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.Activate(false))
	require.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	configureCallsBefore := platform.setCategoryCalls

	s.handleNotification(Notification{Kind: NotificationMediaServicesReset})

	assert.True(t, s.NeedsActivation())
	assert.Equal(t, configureCallsBefore+1, platform.setCategoryCalls)
	assert.Equal(t, 1, observer.resets)
}

func TestRouteChangeOverrideReassertsSpeaker(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	require.True(t, s.IsInSpeakerMode())

	s.handleNotification(Notification{
		Kind:        NotificationRouteChange,
		RouteReason: RouteChangeReasonOverride,
	})

	// the override was dropped and immediately re-issued
	assert.Equal(t, 2, platform.overrideCalls)
	assert.Equal(t, []PortOverride{PortOverrideSpeaker, PortOverrideSpeaker}, platform.overrides)
	assert.True(t, s.IsInSpeakerMode())
	assert.Equal(t, []PortOverride{PortOverrideSpeaker, PortOverrideSpeaker}, observer.overridden)
}

func TestRouteChangeOverrideIgnoredOutsideSpeakerMode(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	s.handleNotification(Notification{
		Kind:        NotificationRouteChange,
		RouteReason: RouteChangeReasonOverride,
	})

	assert.Equal(t, 0, platform.overrideCalls)
	assert.False(t, s.IsInSpeakerMode())
}

func TestObservationalRouteChangeReasonsHaveNoEffect(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))

	reasons := []RouteChangeReason{
		RouteChangeReasonUnknown,
		RouteChangeReasonNewDeviceAvailable,
		RouteChangeReasonOldDeviceUnavailable,
		RouteChangeReasonCategoryChange,
		RouteChangeReasonWakeFromSleep,
		RouteChangeReasonNoSuitableRouteForCategory,
		RouteChangeReasonRouteConfigurationChange,
		RouteChangeReasonUnrecognized,
	}

	for _, reason := range reasons {
		s.handleNotification(Notification{Kind: NotificationRouteChange, RouteReason: reason})
	}

	assert.Equal(t, 1, platform.overrideCalls)
	assert.True(t, s.IsInSpeakerMode())
	assert.Equal(t, []PortOverride{PortOverrideSpeaker}, observer.overridden)
}

func TestInterruptionCallbacksForwarded(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	s.handleNotification(Notification{Kind: NotificationInterruption, Interruption: InterruptionBegan})
	assert.Equal(t, 1, observer.interruptionBegan)

	// the resume hint is relayed verbatim, not interpreted
	s.handleNotification(Notification{Kind: NotificationInterruption, Interruption: InterruptionEnded, ShouldResume: true})
	s.handleNotification(Notification{Kind: NotificationInterruption, Interruption: InterruptionEnded, ShouldResume: false})
	assert.Equal(t, []bool{true, false}, observer.interruptionEnded)

	// interruptions never flip needsActivation by themselves
	assert.True(t, s.NeedsActivation())
}

func TestSilenceHintIsInformationalOnly(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	s.handleNotification(Notification{Kind: NotificationSilenceSecondaryAudioHint, SilenceHint: SilenceHintBegin})
	s.handleNotification(Notification{Kind: NotificationSilenceSecondaryAudioHint, SilenceHint: SilenceHintEnd})

	assert.True(t, s.NeedsActivation())
	assert.Zero(t, observer.interruptionBegan)
	assert.Zero(t, observer.resets)
}

func TestConfigureFailureRecordsTelemetry(t *testing.T) {
	platform := &fakePlatform{
		setCategoryErr: &PlatformError{Code: 11, Description: "category rejected"},
	}
	s, _, telemetry := newTestSession(t, platform, Options{})

	require.Len(t, telemetry.events, 1)
	assert.Equal(t, EventSetCategoryError, telemetry.events[0].event)
	assert.Equal(t, 11, telemetry.events[0].err.Code)
	assert.True(t, s.NeedsActivation())

	assert.Error(t, s.ConfigureAudioSession())
	assert.Len(t, telemetry.events, 2)
}

func TestSetMixWithOthersReconfigures(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	require.Equal(t, 1, platform.setCategoryCalls)

	// same value - nothing happens
	s.SetMixWithOthers(false)
	assert.Equal(t, 1, platform.setCategoryCalls)

	s.SetMixWithOthers(true)
	assert.Equal(t, 2, platform.setCategoryCalls)
	assert.True(t, platform.lastCategory.MixWithOthers)
	assert.True(t, s.MixWithOthers())
}

func TestNotificationPumpDeliversFromSource(t *testing.T) {
	platform := &fakePlatform{}
	source := newFakeSource()

	telemetry := &recordingTelemetry{}
	s := NewAudioSession(zap.NewNop().Sugar(), platform, Options{
		Telemetry: telemetry,
		Source:    source,
	})
	t.Cleanup(s.Release)

	observer := &fakeObserver{}
	s.SetObserver(observer)

	source.ch <- Notification{Kind: NotificationInterruption, Interruption: InterruptionBegan}

	require.Eventually(t, func() bool {
		return observer.interruptionBeganCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReleaseUnderFlowingNotifications(t *testing.T) {
	platform := &fakePlatform{}
	source := newStreamingSource()

	s := NewAudioSession(zap.NewNop().Sugar(), platform, Options{Source: source})

	// let some events pass through the pump before tearing down
	time.Sleep(10 * time.Millisecond)

	released := make(chan bool)
	go func() {
		s.Release()
		released <- true
	}()

	select {
	case <-released:
	case <-time.After(3 * time.Second):
		t.Fatal("Release did not return while notifications were flowing")
	}
}

func TestActivateForceBypassesGuard(t *testing.T) {
	platform := &fakePlatform{otherAudioPlaying: true}
	s, observer, _ := newTestSession(t, platform, Options{
		AppState: &fakeAppState{foreground: false},
	})

	require.False(t, s.Activate(false))
	require.Equal(t, 0, platform.setActiveCalls)

	assert.True(t, s.Activate(true))
	assert.Equal(t, 1, platform.setActiveCalls)
	assert.False(t, s.NeedsActivation())
	assert.Equal(t, 1, observer.activated)
}

func TestDeactivateForceBypassesGuard(t *testing.T) {
	platform := &fakePlatform{}
	s, _, _ := newTestSession(t, platform, Options{})

	require.True(t, s.Activate(false))
	platform.otherAudioPlaying = true

	require.False(t, s.Deactivate(false))

	assert.True(t, s.Deactivate(true))
	assert.True(t, s.NeedsActivation())
	assert.False(t, platform.lastActive)
}

func TestOverrideForceReassertsCurrentMode(t *testing.T) {
	platform := &fakePlatform{}
	s, observer, _ := newTestSession(t, platform, Options{})

	require.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))
	require.False(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, false))

	// forcing re-issues the platform call even though the mode doesn't change
	assert.True(t, s.OverrideOutputAudioPort(PortOverrideSpeaker, true))
	assert.Equal(t, 2, platform.overrideCalls)
	assert.True(t, s.IsInSpeakerMode())
	assert.Equal(t, []PortOverride{PortOverrideSpeaker, PortOverrideSpeaker}, observer.overridden)
}

func TestReleaseIsIdempotent(t *testing.T) {
	platform := &fakePlatform{}
	source := newFakeSource()

	s := NewAudioSession(zap.NewNop().Sugar(), platform, Options{Source: source})

	s.Release()
	s.Release()
}
