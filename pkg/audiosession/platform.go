package audiosession

import (
	"errors"
	"fmt"
)

// PortOverride represents a requested output port override.
type PortOverride int

const (
	// PortOverrideNone removes any forced routing and lets the platform pick
	// the output port.
	PortOverrideNone PortOverride = iota

	// PortOverrideSpeaker forces output to the built-in speaker.
	PortOverrideSpeaker
)

func (o PortOverride) String() string {
	switch o {
	case PortOverrideNone:
		return "none"
	case PortOverrideSpeaker:
		return "speaker"
	}

	return fmt.Sprintf("portOverride(%d)", int(o))
}

// SessionConfig holds the session-level configuration applied to the platform
// audio subsystem. MixWithOthers controls whether this process shares the
// output channel with other audio producers instead of claiming it exclusively.
type SessionConfig struct {
	MixWithOthers bool
}

// RouteSnapshot describes the current output route at a single point in time.
// It is computed on demand and never cached - the route can change between any
// two calls.
type RouteSnapshot struct {
	// OutputPortType is the platform's name for the current output port
	// (e.g. "speaker", "headphones", "unknown").
	OutputPortType string

	// OtherAudioPlaying reports whether another application is currently
	// producing audio.
	OtherAudioPlaying bool

	// MixWithOthers reports whether the session's configured category
	// permits mixing.
	MixWithOthers bool

	// AttemptedOverride names the port override a failed override call was
	// trying to apply. Empty for every other telemetry event.
	AttemptedOverride string
}

// PlatformError carries a platform error code and a human-readable description.
// It exists for diagnostics and telemetry only - callers never branch on it
// beyond detecting failure.
type PlatformError struct {
	Code        int
	Description string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error %d: %s", e.Code, e.Description)
}

// asPlatformError normalizes any platform call failure into a *PlatformError,
// preserving the code when the backend already produced one.
func asPlatformError(err error) *PlatformError {
	var perr *PlatformError
	if errors.As(err, &perr) {
		return perr
	}

	return &PlatformError{Code: 0, Description: err.Error()}
}

// PlatformSession abstracts the platform audio subsystem consumed by the
// session state machine. All calls are synchronous and may fail with a
// platform error; none of them are cancellable.
type PlatformSession interface {

	// SetCategory applies a category/options configuration appropriate for
	// background-capable playback, with mixing options included iff
	// cfg.MixWithOthers is true.
	SetCategory(cfg SessionConfig) error

	// SetActive claims (true) or releases (false) the process's session on
	// the shared output channel.
	SetActive(active bool) error

	// OverrideOutputPort forces, or stops forcing, output to a specific port.
	OverrideOutputPort(override PortOverride) error

	// OutputPortType returns the platform's name for the current output port.
	OutputPortType() (string, error)

	// IsOtherAudioPlaying reports whether another application is currently
	// producing audio.
	IsOtherAudioPlaying() bool

	// Release frees any platform resources held by the backend.
	Release() error
}

// AppStateProvider answers whether the owning application is currently
// foregrounded. Used only inside the activation guard.
type AppStateProvider interface {
	IsForeground() bool
}

// RemoteControlCenter is the platform's remote-control-event subsystem
// (lock-screen/media-key transport controls). Only exclusive-use sessions are
// expected to own transport controls, so the state machine begins receiving
// events on exclusive activation and ends on deactivation.
type RemoteControlCenter interface {
	BeginReceivingRemoteControlEvents()
	EndReceivingRemoteControlEvents()
}

// NopRemoteControlCenter ignores all remote-control transitions.
type NopRemoteControlCenter struct{}

func (NopRemoteControlCenter) BeginReceivingRemoteControlEvents() {}
func (NopRemoteControlCenter) EndReceivingRemoteControlEvents()   {}

// alwaysForeground is the AppStateProvider fallback for platforms without a
// usable foreground query.
type alwaysForeground struct{}

func (alwaysForeground) IsForeground() bool { return true }
