package audiosession

import "fmt"

// NotificationKind identifies which platform notification stream an event
// came from.
type NotificationKind int

const (
	NotificationUnknown NotificationKind = iota
	NotificationMediaServicesReset
	NotificationInterruption
	NotificationRouteChange
	NotificationSilenceSecondaryAudioHint
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationMediaServicesReset:
		return "mediaServicesReset"
	case NotificationInterruption:
		return "interruption"
	case NotificationRouteChange:
		return "routeChange"
	case NotificationSilenceSecondaryAudioHint:
		return "silenceSecondaryAudioHint"
	}

	return fmt.Sprintf("notificationKind(%d)", int(k))
}

// InterruptionType distinguishes the begin and end phases of an interruption.
type InterruptionType int

const (
	InterruptionBegan InterruptionType = iota
	InterruptionEnded
)

func (t InterruptionType) String() string {
	if t == InterruptionBegan {
		return "began"
	}
	return "ended"
}

// SilenceHintType distinguishes the begin and end phases of a
// silence-secondary-audio hint.
type SilenceHintType int

const (
	SilenceHintBegin SilenceHintType = iota
	SilenceHintEnd
)

func (t SilenceHintType) String() string {
	if t == SilenceHintBegin {
		return "begin"
	}
	return "end"
}

// RouteChangeReason is the decoded reason attached to a route-change
// notification. Raw platform values are decoded once at the boundary; values
// the platform grows in the future map to RouteChangeReasonUnrecognized
// instead of being dropped.
type RouteChangeReason int

const (
	RouteChangeReasonUnknown RouteChangeReason = iota
	RouteChangeReasonNewDeviceAvailable
	RouteChangeReasonOldDeviceUnavailable
	RouteChangeReasonCategoryChange
	RouteChangeReasonOverride
	RouteChangeReasonWakeFromSleep
	RouteChangeReasonNoSuitableRouteForCategory
	RouteChangeReasonRouteConfigurationChange
	RouteChangeReasonUnrecognized
)

func (r RouteChangeReason) String() string {
	switch r {
	case RouteChangeReasonUnknown:
		return "unknown"
	case RouteChangeReasonNewDeviceAvailable:
		return "newDeviceAvailable"
	case RouteChangeReasonOldDeviceUnavailable:
		return "oldDeviceUnavailable"
	case RouteChangeReasonCategoryChange:
		return "categoryChange"
	case RouteChangeReasonOverride:
		return "override"
	case RouteChangeReasonWakeFromSleep:
		return "wakeFromSleep"
	case RouteChangeReasonNoSuitableRouteForCategory:
		return "noSuitableRouteForCategory"
	case RouteChangeReasonRouteConfigurationChange:
		return "routeConfigurationChange"
	}

	return "unrecognized"
}

// raw platform notification codes, as delivered on the wire
const (
	rawRouteChangeUnknown              = 0
	rawRouteChangeNewDeviceAvailable   = 1
	rawRouteChangeOldDeviceUnavailable = 2
	rawRouteChangeCategoryChange       = 3
	rawRouteChangeOverride             = 4
	rawRouteChangeWakeFromSleep        = 6
	rawRouteChangeNoSuitableRoute      = 7
	rawRouteChangeConfigurationChange  = 8

	rawInterruptionEnded = 0
	rawInterruptionBegan = 1

	rawSilenceHintEnd   = 0
	rawSilenceHintBegin = 1
)

// DecodeRouteChangeReason translates a raw platform route-change reason code
// into its typed variant.
func DecodeRouteChangeReason(raw int) RouteChangeReason {
	switch raw {
	case rawRouteChangeUnknown:
		return RouteChangeReasonUnknown
	case rawRouteChangeNewDeviceAvailable:
		return RouteChangeReasonNewDeviceAvailable
	case rawRouteChangeOldDeviceUnavailable:
		return RouteChangeReasonOldDeviceUnavailable
	case rawRouteChangeCategoryChange:
		return RouteChangeReasonCategoryChange
	case rawRouteChangeOverride:
		return RouteChangeReasonOverride
	case rawRouteChangeWakeFromSleep:
		return RouteChangeReasonWakeFromSleep
	case rawRouteChangeNoSuitableRoute:
		return RouteChangeReasonNoSuitableRouteForCategory
	case rawRouteChangeConfigurationChange:
		return RouteChangeReasonRouteConfigurationChange
	}

	return RouteChangeReasonUnrecognized
}

// DecodeInterruptionType translates a raw platform interruption type code.
func DecodeInterruptionType(raw int) InterruptionType {
	if raw == rawInterruptionBegan {
		return InterruptionBegan
	}
	return InterruptionEnded
}

// DecodeSilenceHintType translates a raw platform silence-hint type code.
func DecodeSilenceHintType(raw int) SilenceHintType {
	if raw == rawSilenceHintBegin {
		return SilenceHintBegin
	}
	return SilenceHintEnd
}

// Notification is a single decoded platform audio event. Only the fields
// relevant to Kind are meaningful.
type Notification struct {
	Kind NotificationKind

	// Interruption fields
	Interruption InterruptionType
	ShouldResume bool

	// Route-change fields
	RouteReason RouteChangeReason

	// Silence-hint fields
	SilenceHint SilenceHintType
}

// NotificationSource delivers decoded platform notifications to subscribers.
// The session subscribes once at construction; the source closes subscriber
// channels when stopped.
type NotificationSource interface {
	SubscribeToNotifications() chan Notification
	Stop()
}
