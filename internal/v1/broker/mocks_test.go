package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("mock connection closed")

// MockConnection is a scripted wsConnection: tests push inbound frames into
// in and read the broker's replies back out in write order. Control frames
// (pings, close) are not recorded.
type MockConnection struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	frames [][]byte
	cursor int
}

func newMockConnection() *MockConnection {
	return &MockConnection{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	// Drain buffered frames before honoring close, so a script that queues
	// frames and then closes still delivers everything.
	select {
	case data := <-m.in:
		return websocket.TextMessage, data, nil
	default:
	}
	select {
	case data := <-m.in:
		return websocket.TextMessage, data, nil
	case <-m.closed:
		return 0, nil, errConnClosed
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closed:
		return errConnClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data)
	return nil
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MockConnection) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *MockConnection) SetWriteDeadline(time.Time) error  { return nil }
func (m *MockConnection) SetReadDeadline(time.Time) error   { return nil }
func (m *MockConnection) SetPongHandler(func(string) error) {}

// push queues an inbound client frame.
func (m *MockConnection) push(t *testing.T, event string, seq uint64, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Event: event, Seq: seq, Data: data})
	require.NoError(t, err)
	select {
	case m.in <- frame:
	case <-time.After(time.Second):
		t.Fatalf("mock inbound buffer full for event %s", event)
	}
}

// next pops the next recorded outbound envelope, waiting for it to arrive.
func (m *MockConnection) next(t *testing.T) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cursor >= len(m.frames) {
			return false
		}
		frame := m.frames[m.cursor]
		m.cursor++
		require.NoError(t, json.Unmarshal(frame, &env))
		return true
	}, 2*time.Second, 2*time.Millisecond, "timed out waiting for an outbound frame")
	return env
}

// expect consumes outbound envelopes until one with the given event name
// arrives, failing the test if it never does.
func (m *MockConnection) expect(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for m.cursor < len(m.frames) {
			frame := m.frames[m.cursor]
			m.cursor++
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Event == event {
				m.mu.Unlock()
				return env
			}
		}
		m.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %q", event)
	return protocol.Envelope{}
}

// received reports whether any recorded frame (consumed or not) carries the
// given event name.
func (m *MockConnection) received(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, frame := range m.frames {
		var env protocol.Envelope
		if json.Unmarshal(frame, &env) == nil && env.Event == event {
			return true
		}
	}
	return false
}

// countReceived counts recorded frames with the given event name.
func (m *MockConnection) countReceived(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, frame := range m.frames {
		var env protocol.Envelope
		if json.Unmarshal(frame, &env) == nil && env.Event == event {
			n++
		}
	}
	return n
}

func decodeAck(t *testing.T, env protocol.Envelope) protocol.Ack {
	t.Helper()
	require.Equal(t, protocol.EventAck, env.Event)
	var ack protocol.Ack
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	return ack
}
