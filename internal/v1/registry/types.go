package registry

import (
	"github.com/airjam/broker/internal/v1/protocol"
)

// ConnID identifies a live socket. Broker-assigned, never reused.
type ConnID string

// Focus names the host that is authoritative for controller inputs.
type Focus string

const (
	// FocusSystem routes inputs to the master (arcade) host.
	FocusSystem Focus = "SYSTEM"
	// FocusGame routes inputs to the attached child (game) host.
	FocusGame Focus = "GAME"
)

// Default player capacities.
const (
	DefaultMaxPlayersSystem     = 32
	DefaultMaxPlayersStandalone = 8
)

// Conn is the slice of a live connection the registry may touch: identity,
// non-blocking sends, and forced teardown. The broker package owns the
// actual socket; rooms hold Conns only as lookup references.
type Conn interface {
	ID() ConnID
	Send(event string, payload any)
	Disconnect()
}

// Controller is an admitted input device (typically a phone).
type Controller struct {
	ID       string
	Nickname string
	Player   protocol.PlayerProfile
	Conn     Conn
}

// Room is a live session container. All fields are guarded by the
// Registry's lock; nothing outside this package mutates a Room.
type Room struct {
	Code                string
	Master              Conn
	Child               Conn
	Focus               Focus
	JoinToken           string
	ActiveControllerURL string
	GameState           string
	MaxPlayers          int
	Controllers         map[string]*Controller
}

// activeHost resolves the focus-routed input destination:
// the child when focus is GAME and a child is attached, otherwise the master.
func (r *Room) activeHost() Conn {
	if r.Focus == FocusGame && r.Child != nil {
		return r.Child
	}
	return r.Master
}

// controllerRef locates a controller entry from a socket.
type controllerRef struct {
	roomCode     string
	controllerID string
}

// Snapshot is a read-only copy of a room's observable state, for probes
// and tests. Controller order is unspecified.
type Snapshot struct {
	Code                string
	MasterConnID        ConnID
	ChildConnID         ConnID
	Focus               Focus
	JoinToken           string
	ActiveControllerURL string
	GameState           string
	MaxPlayers          int
	Controllers         []Controller
}
