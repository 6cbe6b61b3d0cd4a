// Package router dispatches decoded envelopes to the handler registered for
// their tag. Dispatch is synchronous: a handler's state changes are applied
// before the next envelope is looked at.
package router

import (
	"fmt"

	"go.uber.org/zap"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
)

// Handler applies one envelope. It must not block on network I/O.
type Handler func(env event.Envelope)

type Router struct {
	handlers map[event.Tag]Handler
}

func New() *Router {
	return &Router{handlers: make(map[event.Tag]Handler)}
}

// Handle registers h for tag. Tags outside the closed vocabulary are rejected
// so a typo cannot silently shadow a real event.
func (r *Router) Handle(tag event.Tag, h Handler) error {
	if !tag.Known() {
		return fmt.Errorf("router: unknown tag %q", tag)
	}
	r.handlers[tag] = h
	return nil
}

// On registers a handler that receives the typed payload for tag. The
// payload type is checked once here instead of on every key access.
func On[P event.Payload](r *Router, tag event.Tag, fn func(p P, createdBy int64)) error {
	return r.Handle(tag, func(env event.Envelope) {
		p, ok := env.Payload.(P)
		if !ok {
			logger.Log.Warn("payload type mismatch",
				zap.String("type", string(env.Type)),
				zap.String("payload", fmt.Sprintf("%T", env.Payload)))
			return
		}
		fn(p, env.CreatedBy)
	})
}

// Dispatch runs the handler for env.Type and reports whether one existed.
// Unknown or unhandled tags are ignored.
func (r *Router) Dispatch(env event.Envelope) bool {
	h, ok := r.handlers[env.Type]
	if !ok {
		logger.Log.Debug("ignoring event", zap.String("type", string(env.Type)))
		return false
	}
	h(env)
	return true
}
