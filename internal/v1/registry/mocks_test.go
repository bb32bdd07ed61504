package registry

import "sync"

// fakeConn records every event pushed at it. Safe for concurrent use.
type fakeConn struct {
	id ConnID

	mu           sync.Mutex
	events       []sentEvent
	disconnected bool
}

type sentEvent struct {
	event   string
	payload any
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: ConnID(id)}
}

func (f *fakeConn) ID() ConnID { return f.id }

func (f *fakeConn) Send(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event: event, payload: payload})
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeConn) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.event
	}
	return names
}

func (f *fakeConn) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}
