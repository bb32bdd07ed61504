package broker

import (
	"context"
	"sync"
	"time"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/airjam/broker/internal/v1/registry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Socket liveness: ping every 2s, give up after 5s without a pong.
const (
	writeWait  = 10 * time.Second
	pongWait   = 5 * time.Second
	pingPeriod = 2 * time.Second
)

// wsConnection defines the interface for WebSocket connection operations.
// Satisfied by *websocket.Conn in production and by mocks in tests.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client represents a single socket: a host or controller connection.
// Its role is unknown until the first register/join event; the registry
// indices carry the role, the client only carries identity and the pumps.
type Client struct {
	id   registry.ConnID
	conn wsConnection
	hub  *Hub

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

// ID satisfies registry.Conn.
func (c *Client) ID() registry.ConnID {
	return c.id
}

// Disconnect forcefully closes the connection. Closing the send channel
// makes the writePump drain, send a close frame and close the socket.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// Send satisfies registry.Conn: marshal a fire-and-forget server event and
// queue it without blocking. Messages to a full or closed client are
// dropped; the heartbeat reaps dead sockets.
func (c *Client) Send(event string, payload any) {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal event",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// SendAck queues the callback for the request identified by seq.
func (c *Client) SendAck(seq uint64, ack protocol.Ack) {
	if seq == 0 {
		return
	}
	frame, err := protocol.EncodeAck(seq, ack)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal ack", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// The channel may be closed by Disconnect between the check above and
	// the send; recover keeps a race from killing the routing goroutine.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Dropped frame to closing client", zap.String("conn_id", string(c.id)))
		}
	}()

	select {
	case c.send <- frame:
	default:
		logging.Warn(context.Background(), "Client send channel full - dropping frame",
			zap.String("conn_id", string(c.id)))
	}
}

// readPump continuously processes incoming frames from the socket.
// Panics in event handling are isolated to this connection.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "Recovered from panic in connection handler",
				zap.String("conn_id", string(c.id)), zap.Any("panic", r))
		}
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, perr := protocol.DecodeEnvelope(data)
		if perr != nil {
			logging.Warn(context.Background(), "Malformed envelope",
				zap.String("conn_id", string(c.id)), zap.String("detail", perr.Message))
			continue
		}

		ctx := context.WithValue(context.Background(), logging.ConnIDKey, string(c.id))
		c.hub.route(ctx, c, env)
	}
}

// writePump owns all writes to the socket, including heartbeat pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
