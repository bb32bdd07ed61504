package broker

import (
	"context"
	"time"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/protocol"
	"github.com/airjam/broker/internal/v1/registry"
	"go.uber.org/zap"
)

// handleRegisterSystem registers the master (arcade) host, creating the
// room or taking over an existing one. An omitted roomId mints a fresh code.
func (h *Hub) handleRegisterSystem(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.RegisterSystemPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if !h.verifier.Verify(ctx, p.APIKey) {
		return protocol.NewError(protocol.CodeInvalidAPIKey, "API key rejected")
	}

	code := p.RoomID
	created := true
	if code == "" {
		// Minted codes are guaranteed unused, so a collision can never
		// take over a stranger's live room.
		code = h.registry.RegisterMasterGenerated(c, registry.DefaultMaxPlayersSystem)
	} else {
		// A reconnect inside the grace period keeps the room alive.
		h.cancelGrace(code)
		created = h.registry.RegisterMaster(code, c, registry.DefaultMaxPlayersSystem)
	}

	c.SendAck(env.Seq, protocol.Ack{OK: true, RoomID: code})
	if members, ok := h.registry.GroupConns(code); ok {
		for _, m := range members {
			m.Send(protocol.EventServerRoomReady, protocol.RoomReadyEvent{RoomID: code})
		}
	}

	logging.Info(ctx, "System host registered",
		zap.String("room_code", code), zap.Bool("created", created))
	return nil
}

// handleRegister is the legacy standalone-host registration. It predates
// API keys, so outside dev mode it is rejected outright.
func (h *Hub) handleRegister(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	if !h.devMode {
		return protocol.NewError(protocol.CodeInvalidAPIKey, "unauthenticated registration is disabled")
	}

	var p protocol.RegisterPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	code := p.RoomID
	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = registry.DefaultMaxPlayersStandalone
	}

	if code == "" {
		code = h.registry.RegisterMasterGenerated(c, maxPlayers)
	} else {
		h.cancelGrace(code)
		h.registry.RegisterMaster(code, c, maxPlayers)
	}

	c.SendAck(env.Seq, protocol.Ack{OK: true, RoomID: code})
	if members, ok := h.registry.GroupConns(code); ok {
		for _, m := range members {
			m.Send(protocol.EventServerRoomReady, protocol.RoomReadyEvent{RoomID: code})
		}
	}

	logging.Info(ctx, "Standalone host registered", zap.String("room_code", code))
	return nil
}

// handleJoinAsChild binds a launched game host to the room when its join
// token matches. On success the controller roster is replayed to the child
// after a short delay so its event handlers have time to come up.
func (h *Hub) handleJoinAsChild(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.JoinAsChildPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if err := h.registry.AttachChild(p.RoomID, p.JoinToken, c); err != nil {
		return err
	}

	c.SendAck(env.Seq, protocol.Ack{OK: true, RoomID: p.RoomID})
	logging.Info(ctx, "Child host attached", zap.String("room_code", p.RoomID))

	code := p.RoomID
	connID := c.id
	time.AfterFunc(h.replayDelay, func() {
		// The child may already be gone again; replay only while attached.
		if !h.registry.IsChild(code, connID) {
			return
		}
		roster, gameState, ok := h.registry.RosterSnapshot(code)
		if !ok {
			return
		}
		for _, ctrl := range roster {
			c.Send(protocol.EventServerControllerJoined, protocol.ControllerJoinedEvent{
				RoomID:       code,
				ControllerID: ctrl.ID,
				Nickname:     ctrl.Nickname,
				Player:       ctrl.Player,
			})
		}
		c.Send(protocol.EventServerState, protocol.StateEvent{
			RoomID: code,
			State:  protocol.StatePatch{GameState: gameState},
		})
	})
	return nil
}

// handleLaunchGame mints the one-shot join token and points every
// controller at the game's UI. Idempotent while the token is outstanding.
func (h *Hub) handleLaunchGame(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.LaunchGamePayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	token, controllers, reused, err := h.registry.Launch(p.RoomID, c.id, p.GameURL)
	if err != nil {
		return err
	}

	c.SendAck(env.Seq, protocol.Ack{OK: true, RoomID: p.RoomID, JoinToken: token})

	if !reused {
		for _, conn := range controllers {
			conn.Send(protocol.EventClientLoadUI, protocol.LoadUIEvent{URL: p.GameURL})
		}
	}

	logging.Info(ctx, "Game launch",
		zap.String("room_code", p.RoomID), zap.String("game_id", p.GameID), zap.Bool("reused_token", reused))
	return nil
}

// handleCloseGame is the master-initiated teardown of the child host.
func (h *Hub) handleCloseGame(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.CloseGamePayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	child, controllers, err := h.registry.CloseGame(p.RoomID, c.id)
	if err != nil {
		return err
	}

	if child != nil {
		child.Send(protocol.EventServerCloseChild, protocol.CloseChildEvent{RoomID: p.RoomID})
		child.Disconnect()
	}
	for _, conn := range controllers {
		conn.Send(protocol.EventClientUnloadUI, struct{}{})
	}

	c.SendAck(env.Seq, protocol.AckOK())
	logging.Info(ctx, "Game closed by system host", zap.String("room_code", p.RoomID))
	return nil
}

// handleHostState persists gameState (when the patch carries one) and
// rebroadcasts the patch to the whole room group so everyone converges.
func (h *Hub) handleHostState(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.HostStatePayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := h.authorizeHost(c, p.RoomID); err != nil {
		return err
	}

	members, ok := h.registry.ApplyStatePatch(p.RoomID, p.State)
	if !ok {
		return protocol.NewError(protocol.CodeRoomNotFound, "room not found")
	}

	for _, m := range members {
		m.Send(protocol.EventServerState, protocol.StateEvent{RoomID: p.RoomID, State: p.State})
	}
	c.SendAck(env.Seq, protocol.AckOK())
	return nil
}

// handleHostSystem executes a host-side system command (toggle_pause).
func (h *Hub) handleHostSystem(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.HostSystemPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := h.authorizeHost(c, p.RoomID); err != nil {
		return err
	}

	h.togglePause(p.RoomID)
	c.SendAck(env.Seq, protocol.AckOK())
	return nil
}

// handleHostSignal relays an opaque signal to one controller or to every
// controller except the sender. An omitted roomId means the sender's room.
func (h *Hub) handleHostSignal(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.HostSignalPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	code, err := h.resolveHostRoom(c, p.RoomID)
	if err != nil {
		return err
	}

	for _, conn := range h.registry.SignalTargets(code, p.TargetID, c.id) {
		conn.Send(protocol.EventServerSignal, protocol.SignalEvent{
			RoomID:   code,
			TargetID: p.TargetID,
			Signal:   p.Signal,
		})
	}
	return nil
}

// handleHostPlaySound relays a sound cue to one controller or to all.
func (h *Hub) handleHostPlaySound(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.HostPlaySoundPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := h.authorizeHost(c, p.RoomID); err != nil {
		return err
	}

	for _, conn := range h.registry.SignalTargets(p.RoomID, p.TargetControllerID, c.id) {
		conn.Send(protocol.EventServerPlaySound, protocol.PlaySoundEvent{
			ID:     p.SoundID,
			Volume: p.Volume,
			Loop:   p.Loop,
		})
	}
	return nil
}

// --- shared helpers ---

// authorizeHost verifies the sender is a registered host of the named room.
func (h *Hub) authorizeHost(c *Client, code string) *protocol.Error {
	actual, ok := h.registry.HostRoom(c.id)
	if !ok || actual != code {
		if !h.registry.HasRoom(code) {
			return protocol.NewError(protocol.CodeRoomNotFound, "room not found")
		}
		return protocol.NewError(protocol.CodeUnauthorized, "sender is not a host of this room")
	}
	return nil
}

// resolveHostRoom resolves an optional roomId against the sender's own room.
func (h *Hub) resolveHostRoom(c *Client, code string) (string, *protocol.Error) {
	actual, ok := h.registry.HostRoom(c.id)
	if !ok {
		return "", protocol.NewError(protocol.CodeUnauthorized, "sender is not a registered host")
	}
	if code == "" {
		return actual, nil
	}
	if actual != code {
		return "", protocol.NewError(protocol.CodeUnauthorized, "sender is not a host of this room")
	}
	return code, nil
}

// togglePause flips the game state and broadcasts the result to the whole
// room group, hosts included, so every party converges on the same state.
func (h *Hub) togglePause(code string) {
	state, members, ok := h.registry.ToggleGameState(code)
	if !ok {
		return
	}
	for _, m := range members {
		m.Send(protocol.EventServerState, protocol.StateEvent{
			RoomID: code,
			State:  protocol.StatePatch{GameState: state},
		})
	}
}
