package audiosession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	eventsource "github.com/stalexteam/eventsource_go"
	"go.uber.org/zap"
)

// FeedServer republishes this process's session lifecycle events over SSE so
// sibling instances or dashboards can observe them. It implements Observer
// and can be attached directly or fanned out to from another observer.
type FeedServer struct {
	logger *zap.SugaredLogger
	addr   string
	server *http.Server

	stopChannel chan bool
	running     int32 // atomic flag: 1 = running, 0 = stopped

	manager *eventsource.ConnectionManager

	eventID int64
}

const (
	sessionEventType = "session"

	// SSE retry timeout in milliseconds
	feedServerRetryTimeout = 30000

	feedServerPingInterval = 10 * time.Second
)

// NewFeedServer creates a new feed server instance listening on addr
func NewFeedServer(logger *zap.SugaredLogger, addr string) (*FeedServer, error) {
	logger = logger.Named("feed_server")

	manager := eventsource.NewConnectionManager()

	manager.SetOnConnect(func(encoder *eventsource.Encoder) {
		logger.Infow("New SSE client connected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	manager.SetOnDisconnect(func(encoder *eventsource.Encoder) {
		logger.Debugw("SSE client disconnected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	srv := &FeedServer{
		logger:      logger,
		addr:        addr,
		stopChannel: make(chan bool),
		manager:     manager,
		eventID:     1,
	}

	logger.Debug("Created feed server instance")

	return srv, nil
}

// Start starts the feed server on the configured address
func (srv *FeedServer) Start() error {
	if srv.addr == "" {
		srv.logger.Debug("Feed server address not configured, server will not start")
		return nil
	}

	if atomic.LoadInt32(&srv.running) == 1 {
		srv.logger.Debugw("Feed server already running", "addr", srv.addr)
		return nil
	}

	handler := eventsource.HandlerV2(func(
		info *eventsource.ConnectionInfo,
		encoder *eventsource.Encoder,
		stop <-chan bool,
	) {
		if err := encoder.SetRetry(feedServerRetryTimeout); err != nil {
			if eventsource.IsConnectionError(err) {
				srv.logger.Debugw("Error sending retry, connection closed", "error", err)
			} else {
				srv.logger.Debugw("Error sending retry field", "error", err)
			}
			return
		}

		// wait for client disconnect or server stop
		select {
		case <-stop:
			return
		case <-srv.stopChannel:
			return
		}
	})

	handlerWithManager := eventsource.HandlerWithManager(srv.manager, handler)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handlerWithManager.ServeHTTP)

	srv.server = &http.Server{
		Addr:    srv.addr,
		Handler: mux,
	}

	atomic.StoreInt32(&srv.running, 1)

	go func() {
		srv.logger.Infow("Starting feed server", "addr", srv.addr)
		if err := srv.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.logger.Errorw("Feed server error", "error", err)
			atomic.StoreInt32(&srv.running, 0)
		}
	}()

	go srv.pingLoop()

	return nil
}

// Stop stops the feed server
func (srv *FeedServer) Stop() {
	if atomic.LoadInt32(&srv.running) == 0 {
		return
	}

	srv.logger.Debug("Stopping feed server")

	select {
	case srv.stopChannel <- true:
	default:
	}

	if srv.manager != nil {
		srv.manager.CloseAll()
		srv.logger.Debugw("Closed all SSE connections", "count", srv.manager.Count())
	}

	if srv.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.server.Shutdown(ctx); err != nil {
			srv.logger.Warnw("Error during feed server shutdown", "error", err)
			srv.server.Close()
		}
	}

	atomic.StoreInt32(&srv.running, 0)

	srv.logger.Info("Feed server stopped")
}

// IsRunning returns whether the server is currently running
func (srv *FeedServer) IsRunning() bool {
	return atomic.LoadInt32(&srv.running) == 1
}

// SessionActivated implements Observer
func (srv *FeedServer) SessionActivated() {
	srv.broadcast(map[string]interface{}{"event": "activated"})
}

// InterruptionBegan implements Observer
func (srv *FeedServer) InterruptionBegan() {
	srv.broadcast(map[string]interface{}{"event": "interruption_began"})
}

// InterruptionEnded implements Observer
func (srv *FeedServer) InterruptionEnded(shouldResume bool) {
	srv.broadcast(map[string]interface{}{"event": "interruption_ended", "should_resume": shouldResume})
}

// MediaServicesWereReset implements Observer
func (srv *FeedServer) MediaServicesWereReset() {
	srv.broadcast(map[string]interface{}{"event": "media_services_reset"})
}

// OutputRouteOverridden implements Observer
func (srv *FeedServer) OutputRouteOverridden(override PortOverride) {
	srv.broadcast(map[string]interface{}{"event": "output_route_overridden", "override": override.String()})
}

func (srv *FeedServer) broadcast(payload map[string]interface{}) {
	if atomic.LoadInt32(&srv.running) == 0 || srv.manager == nil {
		return
	}

	dataJSON, err := json.Marshal(payload)
	if err != nil {
		srv.logger.Warnw("Failed to marshal session event", "error", err, "payload", payload)
		return
	}

	eventID := atomic.AddInt64(&srv.eventID, 1)
	event := eventsource.Event{
		ID:   fmt.Sprintf("%d", eventID),
		Type: sessionEventType,
		Data: dataJSON,
	}

	if err := srv.manager.Broadcast(event); err != nil {
		if eventsource.IsConnectionError(err) {
			srv.logger.Debugw("Some connections failed during broadcast", "error", err)
		}
		// ConnectionManager automatically removes failed connections
	}
}

// pingLoop sends ping events periodically to all clients
func (srv *FeedServer) pingLoop() {
	ticker := time.NewTicker(feedServerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-srv.stopChannel:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&srv.running) == 0 {
				return
			}

			if srv.manager == nil {
				continue
			}

			eventID := atomic.AddInt64(&srv.eventID, 1)
			event := eventsource.Event{
				ID:   fmt.Sprintf("%d", eventID),
				Type: "ping",
				Data: []byte(`{}`),
			}

			if err := srv.manager.Broadcast(event); err != nil {
				if eventsource.IsConnectionError(err) {
					srv.logger.Debugw("Some connections failed during ping broadcast", "error", err)
				}
			}
		}
	}
}
