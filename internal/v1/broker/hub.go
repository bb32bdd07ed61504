// Package broker is the event router: one connection-scoped handler per
// socket, dispatching validated events against the registry and fanning
// out to the correct recipients.
package broker

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/airjam/broker/internal/v1/auth"
	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/airjam/broker/internal/v1/ratelimit"
	"github.com/airjam/broker/internal/v1/registry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Default timers for master-disconnect teardown and roster replay.
const (
	defaultGracePeriod = 3 * time.Second
	defaultReplayDelay = 100 * time.Millisecond
)

// Hub serves as the central coordinator for all rooms in the broker.
type Hub struct {
	registry    *registry.Registry
	verifier    auth.Verifier
	rateLimiter *ratelimit.RateLimiter
	devMode     bool

	allowedOrigins []string

	gracePeriod time.Duration
	replayDelay time.Duration

	gmu         sync.Mutex
	graceTimers map[string]*time.Timer // room code -> pending teardown
}

// NewHub creates a new Hub and configures it with its dependencies.
func NewHub(verifier auth.Verifier, rateLimiter *ratelimit.RateLimiter, devMode bool, allowedOrigins []string) *Hub {
	return &Hub{
		registry:       registry.New(),
		verifier:       verifier,
		rateLimiter:    rateLimiter,
		devMode:        devMode,
		allowedOrigins: allowedOrigins,
		gracePeriod:    defaultGracePeriod,
		replayDelay:    defaultReplayDelay,
		graceTimers:    make(map[string]*time.Timer),
	}
}

// Registry exposes the room registry for probes and tests.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// ServeWs rate-limits, validates the origin, and upgrades to WebSocket.
// Roles are not known at connect time; the socket declares itself with its
// first register/join event.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.devMode && h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection takes an established WebSocket connection and starts
// the client pumps.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := &Client{
		id:   registry.ConnID(uuid.NewString()),
		conn: conn,
		hub:  h,
		send: make(chan []byte, 256),
	}

	metrics.IncConnection()

	go client.writePump()
	go client.readPump()

	return client
}

// validateOrigin checks if the request origin is in the allowed list.
// Non-browser clients (no Origin header) are always allowed - native game
// hosts connect without one.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowed_origins", allowedOrigins))
	return errOriginNotAllowed
}

var errOriginNotAllowed = &originError{}

type originError struct{}

func (*originError) Error() string { return "origin not allowed" }

// --- disconnect handling ---

// handleDisconnect routes socket teardown by role: controllers are reaped,
// a child host demotes the room back to SYSTEM focus, a master host starts
// the grace-period timer.
func (h *Hub) handleDisconnect(c *Client) {
	ctx := context.WithValue(context.Background(), logging.ConnIDKey, string(c.id))

	// Controller?
	if code, controllerID, ok := h.registry.ControllerRoom(c.id); ok {
		active, ctrl, removed := h.registry.RemoveController(code, controllerID)
		if removed && active != nil {
			active.Send(protocol.EventServerControllerLeft, protocol.ControllerLeftEvent{
				RoomID:       code,
				ControllerID: ctrl.ID,
			})
		}
		logging.Info(ctx, "Controller disconnected",
			zap.String("room_code", code), zap.String("controller_id", controllerID))
		return
	}

	// Child host?
	if code, controllers, ok := h.registry.DetachChildConn(c.id); ok {
		for _, conn := range controllers {
			conn.Send(protocol.EventClientUnloadUI, struct{}{})
		}
		logging.Info(ctx, "Child host disconnected, focus reverted", zap.String("room_code", code))
		return
	}

	// Master host?
	if code, ok := h.registry.HostRoom(c.id); ok {
		logging.Info(ctx, "Master host disconnected, starting grace period",
			zap.String("room_code", code), zap.Duration("grace", h.gracePeriod))
		h.scheduleGrace(code, c.id)
	}
}

// scheduleGrace arms the master-disconnect teardown timer. The callback
// re-checks the master's identity so a takeover during the grace period
// cancels the teardown.
func (h *Hub) scheduleGrace(code string, connID registry.ConnID) {
	h.gmu.Lock()
	defer h.gmu.Unlock()

	if existing, ok := h.graceTimers[code]; ok {
		existing.Stop()
	}

	h.graceTimers[code] = time.AfterFunc(h.gracePeriod, func() {
		h.gmu.Lock()
		delete(h.graceTimers, code)
		h.gmu.Unlock()

		members, removed := h.registry.RemoveRoomIfMaster(code, connID)
		if !removed {
			logging.Info(context.Background(), "Grace period lapsed after takeover, room kept",
				zap.String("room_code", code))
			return
		}

		for _, m := range members {
			m.Send(protocol.EventServerHostLeft, protocol.HostLeftEvent{
				RoomID: code,
				Reason: "Host disconnected",
			})
			m.Disconnect()
		}
		logging.Info(context.Background(), "Removed room after grace period", zap.String("room_code", code))
	})
}

// cancelGrace stops a pending teardown, if any. Called on re-register.
func (h *Hub) cancelGrace(code string) {
	h.gmu.Lock()
	defer h.gmu.Unlock()

	if timer, ok := h.graceTimers[code]; ok {
		timer.Stop()
		delete(h.graceTimers, code)
	}
}

// Shutdown gracefully drains all rooms and closes their connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - draining all active rooms...")

	h.gmu.Lock()
	for code, timer := range h.graceTimers {
		timer.Stop()
		delete(h.graceTimers, code)
	}
	h.gmu.Unlock()

	codes := h.registry.RoomCodes()
	for _, code := range codes {
		members, ok := h.registry.RemoveRoom(code)
		if !ok {
			continue
		}
		for _, m := range members {
			m.Send(protocol.EventServerHostLeft, protocol.HostLeftEvent{
				RoomID: code,
				Reason: "shutdown",
			})
			m.Disconnect()
		}
	}

	logging.Info(ctx, "All rooms drained", zap.Int("count", len(codes)))
	return nil
}
