package audiosession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	eventsource "github.com/stalexteam/eventsource_go"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// NotificationFeed consumes a companion daemon's SSE stream of platform audio
// events and delivers them, decoded, to subscribers. It is how the four
// platform notification channels reach the session on headless setups where
// the daemon owns the OS notification registrations.
type NotificationFeed struct {
	logger *zap.SugaredLogger

	url string

	stopChannel chan bool

	// guarded by consumersMutex - written by the reader goroutine on close
	connected bool

	req    *http.Request
	es     *eventsource.EventSource
	ctx    context.Context
	cancel context.CancelFunc

	consumers      []chan Notification
	consumersMutex sync.Mutex
}

// feedEvent is the wire format of a single daemon audio event.
type feedEvent struct {
	Kind         string `json:"kind"`
	Type         int    `json:"type"`
	Reason       int    `json:"reason"`
	ShouldResume bool   `json:"should_resume"`
}

const (
	feedEventType = "audio"

	feedKindMediaServicesReset = "media_services_reset"
	feedKindInterruption       = "interruption"
	feedKindRouteChange        = "route_change"
	feedKindSilenceHint        = "silence_secondary_audio_hint"

	feedRetryInterval = 3 * time.Second
)

var knownFeedKinds = []string{
	feedKindMediaServicesReset,
	feedKindInterruption,
	feedKindRouteChange,
	feedKindSilenceHint,
}

// NewNotificationFeed creates a NotificationFeed for the given SSE endpoint
func NewNotificationFeed(logger *zap.SugaredLogger, url string) (*NotificationFeed, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("feed: empty URL")
	}

	f := &NotificationFeed{
		logger:      logger.Named("feed"),
		url:         url,
		stopChannel: make(chan bool),
		consumers:   []chan Notification{},
	}

	f.logger.Debug("Created notification feed instance")

	return f, nil
}

// SubscribeToNotifications returns a channel that receives every decoded
// platform audio event read off the feed
func (f *NotificationFeed) SubscribeToNotifications() chan Notification {
	ch := make(chan Notification)

	f.consumersMutex.Lock()
	f.consumers = append(f.consumers, ch)
	f.consumersMutex.Unlock()

	return ch
}

// Start attempts to connect to the SSE endpoint and begins reading events
func (f *NotificationFeed) Start() error {
	f.consumersMutex.Lock()

	if f.connected {
		f.consumersMutex.Unlock()
		f.logger.Warn("Already connected, can't start another without closing first")
		return errors.New("feed: connection already active")
	}

	var err error
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.req, err = http.NewRequestWithContext(f.ctx, http.MethodGet, f.url, nil)
	if err != nil {
		f.consumersMutex.Unlock()
		return fmt.Errorf("feed: build request: %w", err)
	}

	// eventsource client reconnects internally based on the Retry field
	f.es = eventsource.New(f.req)

	f.logger.Debugw("Attempting feed connection", "url", f.url)
	f.connected = true
	f.consumersMutex.Unlock()

	go func() {
		namedLogger := f.logger.Named("eventstream")
		namedLogger.Infow("Connected", "url", f.url)

		for {
			select {
			case <-f.stopChannel:
				f.close(namedLogger)
				return
			default:
				// blocking read of next SSE event
				ev, err := f.es.Read()
				if err != nil {
					namedLogger.Debugw("Failed to read feed event", "error", err)
					// Attempt to reconnect.
					continue
				}

				// non-audio events (e.g. ping) are a health signal - ignore content
				if ev.Type != feedEventType {
					continue
				}

				notification, err := decodeFeedEvent(ev.Data)
				if err != nil {
					namedLogger.Warnw("Failed to decode feed event", "error", err, "data", string(ev.Data))
					continue
				}

				f.deliver(notification)
			}
		}
	}()

	return nil
}

// Stop signals us to shut down the feed connection, if one is active
func (f *NotificationFeed) Stop() {
	f.consumersMutex.Lock()
	connected := f.connected
	f.consumersMutex.Unlock()

	if connected {
		f.logger.Debug("Shutting down feed connection")
		// unblock the pending Read before signaling
		if f.cancel != nil {
			f.cancel()
		}
		f.stopChannel <- true
	} else {
		f.logger.Debug("Not currently connected, nothing to stop")
	}
}

func (f *NotificationFeed) close(logger *zap.SugaredLogger) {
	if f.cancel != nil {
		f.cancel()
	}

	f.consumersMutex.Lock()
	for _, ch := range f.consumers {
		close(ch)
	}
	f.consumers = nil
	f.connected = false
	f.consumersMutex.Unlock()

	logger.Debug("Feed connection closed")
}

func (f *NotificationFeed) deliver(notification Notification) {
	f.consumersMutex.Lock()
	consumers := make([]chan Notification, len(f.consumers))
	copy(consumers, f.consumers)
	f.consumersMutex.Unlock()

	for _, ch := range consumers {
		ch <- notification
	}
}

// decodeFeedEvent translates a daemon audio event payload into a typed
// Notification. Raw integer codes are decoded here, once, at the boundary.
func decodeFeedEvent(data []byte) (Notification, error) {
	var raw feedEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Notification{}, fmt.Errorf("parse feed event: %w", err)
	}

	if !funk.ContainsString(knownFeedKinds, raw.Kind) {
		return Notification{}, fmt.Errorf("unknown feed event kind %q", raw.Kind)
	}

	switch raw.Kind {
	case feedKindMediaServicesReset:
		return Notification{Kind: NotificationMediaServicesReset}, nil

	case feedKindInterruption:
		return Notification{
			Kind:         NotificationInterruption,
			Interruption: DecodeInterruptionType(raw.Type),
			ShouldResume: raw.ShouldResume,
		}, nil

	case feedKindRouteChange:
		return Notification{
			Kind:        NotificationRouteChange,
			RouteReason: DecodeRouteChangeReason(raw.Reason),
		}, nil

	default:
		return Notification{
			Kind:        NotificationSilenceSecondaryAudioHint,
			SilenceHint: DecodeSilenceHintType(raw.Type),
		}, nil
	}
}
