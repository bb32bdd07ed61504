package broker

import (
	"context"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/protocol"
	"go.uber.org/zap"
)

// handleControllerJoin admits a controller into a room. The capacity check
// runs before the rejoin check, so a full room rejects even a returning
// controllerId on a fresh socket. Reply ordering on success: the active
// host learns of the join, then the ack, then welcome, state, and the
// current controller UI if a game is live.
func (h *Hub) handleControllerJoin(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.ControllerJoinPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	ctrl, activeHost, activeURL, gameState, err := h.registry.AdmitController(p.RoomID, p.ControllerID, p.Nickname, c)
	if err != nil {
		// A full room is reported on both channels: the join's ack and a
		// server:error event, so UIs without ack plumbing still see it.
		if err.Code == protocol.CodeRoomFull && env.Seq != 0 {
			c.Send(protocol.EventServerError, protocol.ServerErrorEvent{Code: err.Code, Message: err.Message})
		}
		return err
	}

	if activeHost != nil {
		activeHost.Send(protocol.EventServerControllerJoined, protocol.ControllerJoinedEvent{
			RoomID:       p.RoomID,
			ControllerID: ctrl.ID,
			Nickname:     ctrl.Nickname,
			Player:       ctrl.Player,
		})
	}

	c.SendAck(env.Seq, protocol.Ack{OK: true, RoomID: p.RoomID, ControllerID: ctrl.ID})
	c.Send(protocol.EventServerWelcome, protocol.WelcomeEvent{
		ControllerID: ctrl.ID,
		RoomID:       p.RoomID,
		Player:       ctrl.Player,
	})
	c.Send(protocol.EventServerState, protocol.StateEvent{
		RoomID: p.RoomID,
		State:  protocol.StatePatch{GameState: gameState},
	})
	if activeURL != "" {
		c.Send(protocol.EventClientLoadUI, protocol.LoadUIEvent{URL: activeURL})
	}

	logging.Info(ctx, "Controller joined",
		zap.String("room_code", p.RoomID), zap.String("controller_id", ctrl.ID))
	return nil
}

// handleControllerLeave removes the sender's controller entry. Only the
// socket that owns the controllerId may remove it.
func (h *Hub) handleControllerLeave(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.ControllerLeavePayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	code, controllerID, ok := h.registry.ControllerRoom(c.id)
	if !ok || code != p.RoomID || controllerID != p.ControllerID {
		return protocol.NewError(protocol.CodeUnauthorized, "sender does not own this controller")
	}

	active, ctrl, removed := h.registry.RemoveController(code, controllerID)
	if removed && active != nil {
		active.Send(protocol.EventServerControllerLeft, protocol.ControllerLeftEvent{
			RoomID:       code,
			ControllerID: ctrl.ID,
		})
	}

	c.SendAck(env.Seq, protocol.AckOK())
	logging.Info(ctx, "Controller left",
		zap.String("room_code", code), zap.String("controller_id", controllerID))
	return nil
}

// handleControllerInput forwards an opaque input blob to the focus-routed
// active host. Inputs for unknown rooms are dropped without a reply; input
// is the hot path and a disconnect race must not generate error chatter.
func (h *Hub) handleControllerInput(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.ControllerInputPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	target, ok := h.registry.InputTarget(p.RoomID)
	if !ok {
		return nil
	}

	target.Send(protocol.EventServerInput, protocol.InputEvent{
		RoomID:       p.RoomID,
		ControllerID: p.ControllerID,
		Input:        p.Input,
	})
	return nil
}

// handleControllerSystem executes a controller-side system command:
// toggle_pause flips the shared game state, exit tears the child host down
// and returns the room to the system UI.
func (h *Hub) handleControllerSystem(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.ControllerSystemPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	code, _, ok := h.registry.ControllerRoom(c.id)
	if !ok || code != p.RoomID {
		return protocol.NewError(protocol.CodeUnauthorized, "sender is not a controller in this room")
	}

	switch p.Command {
	case protocol.CommandTogglePause:
		h.togglePause(code)
	case protocol.CommandExit:
		child, master, controllers, exists := h.registry.ExitGame(code)
		if !exists {
			return protocol.NewError(protocol.CodeRoomNotFound, "room not found")
		}
		if child != nil {
			child.Send(protocol.EventServerCloseChild, protocol.CloseChildEvent{RoomID: code, Reason: "controller exit"})
			child.Disconnect()
		}
		for _, conn := range controllers {
			conn.Send(protocol.EventClientUnloadUI, struct{}{})
		}
		if master != nil {
			master.Send(protocol.EventServerCloseChild, protocol.CloseChildEvent{RoomID: code, Reason: "controller exit"})
		}
		logging.Info(ctx, "Game exited by controller", zap.String("room_code", code))
	}

	c.SendAck(env.Seq, protocol.AckOK())
	return nil
}

// handleControllerPlaySound forwards a sound cue to the active host.
func (h *Hub) handleControllerPlaySound(ctx context.Context, c *Client, env *protocol.Envelope) *protocol.Error {
	var p protocol.ControllerPlaySoundPayload
	if err := protocol.DecodeStrict(env.Data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	code, _, ok := h.registry.ControllerRoom(c.id)
	if !ok || code != p.RoomID {
		return protocol.NewError(protocol.CodeUnauthorized, "sender is not a controller in this room")
	}

	target, found := h.registry.InputTarget(code)
	if !found {
		return nil
	}
	target.Send(protocol.EventServerPlaySound, protocol.PlaySoundEvent{
		ID:     p.SoundID,
		Volume: p.Volume,
		Loop:   p.Loop,
	})
	return nil
}
