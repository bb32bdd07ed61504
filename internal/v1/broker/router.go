package broker

import (
	"context"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/airjam/broker/internal/v1/metrics"
	"github.com/airjam/broker/internal/v1/protocol"
	"go.uber.org/zap"
)

// route dispatches one decoded envelope to its event handler. Handlers
// report their outcome; the router owns metrics and the error reply shape
// (ack when the request carried a seq, server:error otherwise).
func (h *Hub) route(ctx context.Context, c *Client, env *protocol.Envelope) {
	var err *protocol.Error

	switch env.Event {
	case protocol.EventHostRegisterSystem:
		err = h.handleRegisterSystem(ctx, c, env)
	case protocol.EventHostRegister:
		err = h.handleRegister(ctx, c, env)
	case protocol.EventHostJoinAsChild:
		err = h.handleJoinAsChild(ctx, c, env)
	case protocol.EventSystemLaunchGame:
		err = h.handleLaunchGame(ctx, c, env)
	case protocol.EventSystemCloseGame:
		err = h.handleCloseGame(ctx, c, env)
	case protocol.EventHostState:
		err = h.handleHostState(ctx, c, env)
	case protocol.EventHostSystem:
		err = h.handleHostSystem(ctx, c, env)
	case protocol.EventHostSignal:
		err = h.handleHostSignal(ctx, c, env)
	case protocol.EventHostPlaySound:
		err = h.handleHostPlaySound(ctx, c, env)
	case protocol.EventControllerJoin:
		err = h.handleControllerJoin(ctx, c, env)
	case protocol.EventControllerLeave:
		err = h.handleControllerLeave(ctx, c, env)
	case protocol.EventControllerInput:
		err = h.handleControllerInput(ctx, c, env)
	case protocol.EventControllerSystem:
		err = h.handleControllerSystem(ctx, c, env)
	case protocol.EventControllerPlaySound:
		err = h.handleControllerPlaySound(ctx, c, env)
	default:
		logging.Warn(ctx, "Unknown event", zap.String("event", env.Event))
		err = protocol.NewError(protocol.CodeInvalidPayload, "unknown event "+env.Event)
	}

	if err != nil {
		metrics.Events.WithLabelValues(env.Event, "error").Inc()
		if !fireAndForget(env.Event) {
			h.reject(c, env.Seq, err)
		}
		return
	}
	metrics.Events.WithLabelValues(env.Event, "ok").Inc()
}

// fireAndForget marks the high-rate events that never produce an error
// reply; malformed or unauthorized ones are dropped silently.
func fireAndForget(event string) bool {
	switch event {
	case protocol.EventControllerInput,
		protocol.EventHostSignal,
		protocol.EventHostPlaySound,
		protocol.EventControllerPlaySound:
		return true
	}
	return false
}

// reject delivers an error to the client: as the request's ack when a seq
// was supplied, as a server:error event otherwise.
func (h *Hub) reject(c *Client, seq uint64, err *protocol.Error) {
	if seq != 0 {
		c.SendAck(seq, protocol.AckError(err))
		return
	}
	c.Send(protocol.EventServerError, protocol.ServerErrorEvent{
		Code:    err.Code,
		Message: err.Message,
	})
}
