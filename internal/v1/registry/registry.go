// Package registry is the source of truth for rooms, hosts, controllers,
// focus, join tokens and game state.
//
// One registry-level mutex serializes every mutation; the protocol's
// ordering guarantees need per-room serialization and a single lock
// satisfies that trivially. Sends to clients are non-blocking channel
// pushes, so callers may fan out while the lock is held without stalling
// other rooms for longer than a map walk.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry holds every live room plus the two derived indices that map
// socket identity back into the room map. The room map is the source of
// truth; the indices exist for O(1) disconnect handling.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	hosts       map[ConnID]string        // host conn -> room code
	controllers map[ConnID]controllerRef // controller conn -> room + controller id
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		hosts:       make(map[ConnID]string),
		controllers: make(map[ConnID]controllerRef),
	}
}

// --- host registration ---

// RegisterMaster creates the room, or takes it over when it already exists.
// A takeover keeps controllers, child and focus; only the master connection
// is replaced. Returns true when the room was created.
func (g *Registry) RegisterMaster(code string, conn Conn, maxPlayers int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[code]; ok {
		if room.Master != nil && room.Master.ID() != conn.ID() {
			delete(g.hosts, room.Master.ID())
		}
		room.Master = conn
		g.hosts[conn.ID()] = code
		return false
	}

	g.createRoomLocked(code, conn, maxPlayers)
	return true
}

// generateCode is swappable in tests to force collisions.
var generateCode = protocol.GenerateRoomCode

// RegisterMasterGenerated creates a room under a freshly minted code,
// regenerating on collision. A host that registers without a room code must
// never land on (and take over) someone else's live room.
func (g *Registry) RegisterMasterGenerated(conn Conn, maxPlayers int) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	code := generateCode()
	for {
		if _, exists := g.rooms[code]; !exists {
			break
		}
		code = generateCode()
	}

	g.createRoomLocked(code, conn, maxPlayers)
	return code
}

func (g *Registry) createRoomLocked(code string, conn Conn, maxPlayers int) {
	g.rooms[code] = &Room{
		Code:        code,
		Master:      conn,
		Focus:       FocusSystem,
		GameState:   protocol.GameStatePaused,
		MaxPlayers:  maxPlayers,
		Controllers: make(map[string]*Controller),
	}
	g.hosts[conn.ID()] = code
	metrics.ActiveRooms.Inc()
}

// MasterConnID reports the current master connection of a room, if any.
// The grace-period timer uses it to detect takeovers before tearing down.
func (g *Registry) MasterConnID(code string) (ConnID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok || room.Master == nil {
		return "", false
	}
	return room.Master.ID(), true
}

// --- launch / child handshake ---

// Launch mints (or re-acks) the one-shot join token for an in-flight game
// launch. Idempotent: a second launch before the child joins returns the
// existing token and leaves activeControllerUrl untouched.
// Returns the token, the controllers to instruct (nil on the idempotent
// path), and whether the token was reused.
func (g *Registry) Launch(code string, caller ConnID, gameURL string) (string, []Conn, bool, *protocol.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return "", nil, false, protocol.NewError(protocol.CodeRoomNotFound, "room not found")
	}
	if room.Master == nil || room.Master.ID() != caller {
		return "", nil, false, protocol.NewError(protocol.CodeUnauthorized, "only the system host may launch a game")
	}
	if room.Child != nil {
		return "", nil, false, protocol.NewError(protocol.CodeAlreadyConnected, "a game is already attached")
	}
	if room.JoinToken != "" {
		return room.JoinToken, nil, true, nil
	}

	room.JoinToken = uuid.NewString()
	room.ActiveControllerURL = gameURL

	return room.JoinToken, controllerConns(room), false, nil
}

// AttachChild binds a game host to the room when the token matches.
// A matching token is consumed; a mismatch leaves it in place.
func (g *Registry) AttachChild(code, token string, conn Conn) *protocol.Error {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return protocol.NewError(protocol.CodeRoomNotFound, "room not found")
	}
	if room.JoinToken == "" || room.JoinToken != token {
		return protocol.NewError(protocol.CodeInvalidToken, "join token mismatch")
	}

	room.Child = conn
	room.Focus = FocusGame
	room.JoinToken = ""
	g.hosts[conn.ID()] = code
	return nil
}

// RosterSnapshot copies the current controllers and game state, for the
// delayed roster replay to a freshly attached child.
func (g *Registry) RosterSnapshot(code string) ([]Controller, string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, "", false
	}
	roster := make([]Controller, 0, len(room.Controllers))
	for _, c := range room.Controllers {
		roster = append(roster, *c)
	}
	return roster, room.GameState, true
}

// CloseGame is the master-initiated teardown of the child. Clears the
// child, token and controller URL and reverts focus. Returns the detached
// child connection (nil if none) and the controllers to send unloadUi to.
func (g *Registry) CloseGame(code string, caller ConnID) (Conn, []Conn, *protocol.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeRoomNotFound, "room not found")
	}
	if room.Master == nil || room.Master.ID() != caller {
		return nil, nil, protocol.NewError(protocol.CodeUnauthorized, "only the system host may close the game")
	}

	child := g.clearChildLocked(room)
	return child, controllerConns(room), nil
}

// ExitGame is the controller-initiated teardown ("exit" system command).
// Same cascade as CloseGame plus a game-state reset to paused; also returns
// the master so the caller can notify it.
func (g *Registry) ExitGame(code string) (child Conn, master Conn, controllers []Conn, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, exists := g.rooms[code]
	if !exists {
		return nil, nil, nil, false
	}

	child = g.clearChildLocked(room)
	room.GameState = protocol.GameStatePaused
	return child, room.Master, controllerConns(room), true
}

// clearChildLocked detaches the child and clears every launch-scoped field.
// Focus MUST revert to SYSTEM whenever the child goes away.
func (g *Registry) clearChildLocked(room *Room) Conn {
	child := room.Child
	if child != nil {
		delete(g.hosts, child.ID())
	}
	room.Child = nil
	room.JoinToken = ""
	room.ActiveControllerURL = ""
	room.Focus = FocusSystem
	return child
}

// --- controllers ---

// AdmitController joins a controller to a room, assigning its color and
// label from the admission index. A rejoin with a known controllerId
// replaces the entry and orphans the old socket, which reaps itself on
// disconnect. Returns the stored controller, the focus-routed active host,
// the active controller URL for late-join catch-up, and the game state.
func (g *Registry) AdmitController(code, controllerID, nickname string, conn Conn) (Controller, Conn, string, string, *protocol.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return Controller{}, nil, "", "", protocol.NewError(protocol.CodeRoomNotFound, "room not found")
	}
	if len(room.Controllers) >= room.MaxPlayers {
		return Controller{}, nil, "", "", protocol.NewError(protocol.CodeRoomFull, fmt.Sprintf("room is full (%d players)", room.MaxPlayers))
	}

	if old, rejoin := room.Controllers[controllerID]; rejoin {
		delete(g.controllers, old.Conn.ID())
		logging.Info(context.Background(), "Controller rejoined, orphaning previous socket",
			zap.String("room_code", code), zap.String("controller_id", controllerID))
	}

	n := len(room.Controllers)
	label := nickname
	if label == "" {
		label = fmt.Sprintf("Player %d", n)
	}

	ctrl := &Controller{
		ID:       controllerID,
		Nickname: nickname,
		Player: protocol.PlayerProfile{
			ID:    controllerID,
			Label: label,
			Color: colorForIndex(n),
		},
		Conn: conn,
	}
	room.Controllers[controllerID] = ctrl
	g.controllers[conn.ID()] = controllerRef{roomCode: code, controllerID: controllerID}
	metrics.RoomControllers.WithLabelValues(code).Set(float64(len(room.Controllers)))

	return *ctrl, room.activeHost(), room.ActiveControllerURL, room.GameState, nil
}

// RemoveController drops a controller by id. Returns the active host to
// notify and the removed entry.
func (g *Registry) RemoveController(code, controllerID string) (Conn, Controller, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, Controller{}, false
	}
	ctrl, ok := room.Controllers[controllerID]
	if !ok {
		return nil, Controller{}, false
	}

	delete(room.Controllers, controllerID)
	delete(g.controllers, ctrl.Conn.ID())
	setControllerGauge(code, len(room.Controllers))

	return room.activeHost(), *ctrl, true
}

// --- routing lookups ---

// InputTarget resolves the focus-routed destination for controller inputs.
func (g *Registry) InputTarget(code string) (Conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok || room.activeHost() == nil {
		return nil, false
	}
	return room.activeHost(), true
}

// HostRoom maps a host socket back to its room code.
func (g *Registry) HostRoom(connID ConnID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	code, ok := g.hosts[connID]
	return code, ok
}

// ControllerRoom maps a controller socket back to its room and controller id.
func (g *Registry) ControllerRoom(connID ConnID) (string, string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ref, ok := g.controllers[connID]
	return ref.roomCode, ref.controllerID, ok
}

// IsChild reports whether the socket is the room's current child host.
func (g *Registry) IsChild(code string, connID ConnID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	return ok && room.Child != nil && room.Child.ID() == connID
}

// SignalTargets resolves recipients for host signals and sounds: one
// controller by id, or every controller except the sender.
func (g *Registry) SignalTargets(code, targetID string, sender ConnID) []Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil
	}
	if targetID != "" {
		if ctrl, ok := room.Controllers[targetID]; ok {
			return []Conn{ctrl.Conn}
		}
		return nil
	}

	var targets []Conn
	for _, ctrl := range room.Controllers {
		if ctrl.Conn.ID() == sender {
			continue
		}
		targets = append(targets, ctrl.Conn)
	}
	return targets
}

// --- state ---

// ApplyStatePatch persists gameState when the patch carries one and returns
// every party in the room (hosts and controllers) for the convergence
// broadcast.
func (g *Registry) ApplyStatePatch(code string, patch protocol.StatePatch) ([]Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, false
	}
	if patch.GameState != "" {
		room.GameState = patch.GameState
	}
	return roomConns(room), true
}

// ToggleGameState flips playing/paused and returns the new state plus the
// full room group to broadcast to.
func (g *Registry) ToggleGameState(code string) (string, []Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return "", nil, false
	}
	if room.GameState == protocol.GameStatePlaying {
		room.GameState = protocol.GameStatePaused
	} else {
		room.GameState = protocol.GameStatePlaying
	}
	return room.GameState, roomConns(room), true
}

// --- disconnect and teardown ---

// DetachChildConn demotes the room when the given socket is its child
// host: launch fields are cleared and focus reverts to SYSTEM. Returns the
// room code and the controllers to send unloadUi to.
func (g *Registry) DetachChildConn(connID ConnID) (string, []Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code, ok := g.hosts[connID]
	if !ok {
		return "", nil, false
	}
	room, ok := g.rooms[code]
	if !ok || room.Child == nil || room.Child.ID() != connID {
		return "", nil, false
	}

	g.clearChildLocked(room)
	return code, controllerConns(room), true
}

// RemoveRoomIfMaster tears the room down only when the given socket is
// still its master - the grace-period re-check. Returns every member that
// was notified-and-dropped, or removed=false when a takeover happened.
func (g *Registry) RemoveRoomIfMaster(code string, connID ConnID) ([]Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok || room.Master == nil || room.Master.ID() != connID {
		return nil, false
	}
	return g.removeRoomLocked(room), true
}

// RemoveRoom unconditionally destroys a room, clearing both indices for
// every member. Returns the members so the caller can emit hostLeft and
// close sockets.
func (g *Registry) RemoveRoom(code string) ([]Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, false
	}
	return g.removeRoomLocked(room), true
}

func (g *Registry) removeRoomLocked(room *Room) []Conn {
	members := roomConns(room)

	if room.Master != nil {
		delete(g.hosts, room.Master.ID())
	}
	if room.Child != nil {
		delete(g.hosts, room.Child.ID())
	}
	for _, ctrl := range room.Controllers {
		delete(g.controllers, ctrl.Conn.ID())
	}
	delete(g.rooms, room.Code)

	metrics.ActiveRooms.Dec()
	metrics.RoomControllers.DeleteLabelValues(room.Code)

	return members
}

// GroupConns returns every member of the room's broadcast group: master,
// child and all controllers.
func (g *Registry) GroupConns(code string) ([]Conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok {
		return nil, false
	}
	return roomConns(room), true
}

// RoomCodes lists the live rooms, for shutdown draining.
func (g *Registry) RoomCodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	codes := make([]string, 0, len(g.rooms))
	for code := range g.rooms {
		codes = append(codes, code)
	}
	return codes
}

// HasRoom reports whether a room code is live.
func (g *Registry) HasRoom(code string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.rooms[code]
	return ok
}

// SnapshotRoom copies a room's observable state for probes and tests.
func (g *Registry) SnapshotRoom(code string) (Snapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[code]
	if !ok {
		return Snapshot{}, false
	}

	snap := Snapshot{
		Code:                room.Code,
		Focus:               room.Focus,
		JoinToken:           room.JoinToken,
		ActiveControllerURL: room.ActiveControllerURL,
		GameState:           room.GameState,
		MaxPlayers:          room.MaxPlayers,
	}
	if room.Master != nil {
		snap.MasterConnID = room.Master.ID()
	}
	if room.Child != nil {
		snap.ChildConnID = room.Child.ID()
	}
	for _, ctrl := range room.Controllers {
		snap.Controllers = append(snap.Controllers, *ctrl)
	}
	return snap, true
}

// --- helpers ---

func controllerConns(room *Room) []Conn {
	conns := make([]Conn, 0, len(room.Controllers))
	for _, ctrl := range room.Controllers {
		conns = append(conns, ctrl.Conn)
	}
	return conns
}

func roomConns(room *Room) []Conn {
	conns := controllerConns(room)
	if room.Master != nil {
		conns = append(conns, room.Master)
	}
	if room.Child != nil {
		conns = append(conns, room.Child)
	}
	return conns
}

func setControllerGauge(code string, count int) {
	if count > 0 {
		metrics.RoomControllers.WithLabelValues(code).Set(float64(count))
	} else {
		metrics.RoomControllers.DeleteLabelValues(code)
	}
}
