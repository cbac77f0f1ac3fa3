package audiosession

// Observer receives the session's outward-facing lifecycle callbacks. All five
// methods form one cohesive contract; there is exactly one observer at a time.
//
// Callbacks are invoked synchronously from whatever goroutine triggered them
// (a direct method call or the notification pump) while the session lock is
// held, so they must not block indefinitely and must not call back into the
// session.
//
// The session holds the observer handle without owning it: detach with
// SetObserver(nil) before tearing the observer down.
type Observer interface {
	// SessionActivated fires after every successful activation. Deactivation
	// is deliberately not observable - activation gates subsequent playback
	// logic, deactivation is routine.
	SessionActivated()

	// InterruptionBegan fires when another entity (call, alarm) has seized
	// the output channel, so playback can pause.
	InterruptionBegan()

	// InterruptionEnded relays the platform's hint of whether resumption is
	// advisable. The session does not decide whether to resume.
	InterruptionEnded(shouldResume bool)

	// MediaServicesWereReset fires after the platform's audio subsystem
	// restarted and the session was reconfigured from scratch.
	MediaServicesWereReset()

	// OutputRouteOverridden fires after a successful output port override
	// with the override that was applied.
	OutputRouteOverridden(override PortOverride)
}
