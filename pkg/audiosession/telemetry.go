package audiosession

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Telemetry event names, one per fallible platform call.
const (
	EventSetCategoryError        = "audio_session.set_category.error"
	EventActivateError           = "audio_session.activate.error"
	EventDeactivateError         = "audio_session.deactivate.error"
	EventOverrideOutputPortError = "audio_session.override_output_port.error"
)

// Telemetry is the fire-and-forget sink for session error events. Each event
// carries a route snapshot taken at failure time plus the platform error.
type Telemetry interface {
	Record(event string, snapshot RouteSnapshot, platformErr *PlatformError)
}

// NopTelemetry discards all events.
type NopTelemetry struct{}

func (NopTelemetry) Record(string, RouteSnapshot, *PlatformError) {}

// meterName is the instrumentation scope name for all session metrics.
const meterName = "github.com/soundwire/audiosession"

// SessionTelemetry records session error events as OpenTelemetry counters,
// one instrument per event name, tagged with the route snapshot and error
// code. The underlying OTel instruments handle their own synchronization.
type SessionTelemetry struct {
	setCategoryErrors        metric.Int64Counter
	activateErrors           metric.Int64Counter
	deactivateErrors         metric.Int64Counter
	overrideOutputPortErrors metric.Int64Counter
}

// NewSessionTelemetry creates a fully initialised SessionTelemetry using the
// given meter provider. Returns an error if any instrument creation fails.
func NewSessionTelemetry(mp metric.MeterProvider) (*SessionTelemetry, error) {
	m := mp.Meter(meterName)
	t := &SessionTelemetry{}

	var err error
	if t.setCategoryErrors, err = m.Int64Counter(EventSetCategoryError,
		metric.WithDescription("Failures to apply the audio session category configuration."),
	); err != nil {
		return nil, fmt.Errorf("create set_category counter: %w", err)
	}
	if t.activateErrors, err = m.Int64Counter(EventActivateError,
		metric.WithDescription("Failures to activate the audio session."),
	); err != nil {
		return nil, fmt.Errorf("create activate counter: %w", err)
	}
	if t.deactivateErrors, err = m.Int64Counter(EventDeactivateError,
		metric.WithDescription("Failures to deactivate the audio session."),
	); err != nil {
		return nil, fmt.Errorf("create deactivate counter: %w", err)
	}
	if t.overrideOutputPortErrors, err = m.Int64Counter(EventOverrideOutputPortError,
		metric.WithDescription("Failures to override the audio output port."),
	); err != nil {
		return nil, fmt.Errorf("create override_output_port counter: %w", err)
	}

	return t, nil
}

// Record increments the counter matching the event name. Unknown event names
// are dropped.
func (t *SessionTelemetry) Record(event string, snapshot RouteSnapshot, platformErr *PlatformError) {
	var counter metric.Int64Counter

	switch event {
	case EventSetCategoryError:
		counter = t.setCategoryErrors
	case EventActivateError:
		counter = t.activateErrors
	case EventDeactivateError:
		counter = t.deactivateErrors
	case EventOverrideOutputPortError:
		counter = t.overrideOutputPortErrors
	default:
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("output", snapshot.OutputPortType),
		attribute.Bool("other_audio_playing", snapshot.OtherAudioPlaying),
		attribute.Bool("mix_with_others", snapshot.MixWithOthers),
	}

	if platformErr != nil {
		attrs = append(attrs,
			attribute.String("error_code", strconv.Itoa(platformErr.Code)),
			attribute.String("error", platformErr.Description),
		)
	}

	if snapshot.AttemptedOverride != "" {
		attrs = append(attrs, attribute.String("override", snapshot.AttemptedOverride))
	}

	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
