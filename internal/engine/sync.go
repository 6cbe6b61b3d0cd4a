package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
)

// LoadChatHistory replaces the message and reaction stores with chatID's
// history. Every call starts a new generation; a response that arrives after
// a newer call started is dropped and ErrSuperseded is returned. On a fetch
// error the current state is left untouched.
func (e *Engine) LoadChatHistory(ctx context.Context, chatID int64) error {
	var gen uint64
	if err := e.view(ctx, func() {
		e.historyGen++
		gen = e.historyGen
	}); err != nil {
		return err
	}

	history, err := e.collab.FetchHistory(ctx, chatID)
	if err != nil {
		e.metrics.CollaboratorFails.WithLabelValues("history").Inc()
		logger.Log.Warn("history fetch failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("load history of chat %d: %w", chatID, err)
	}

	stale := false
	if err := e.view(ctx, func() {
		if gen != e.historyGen {
			stale = true
			return
		}
		e.activeChat = chatID
		e.messages.Replace(history)
		e.reactions.Replace(history)
		e.publish()
	}); err != nil {
		return err
	}
	if stale {
		e.metrics.StaleHistory.Inc()
		logger.Log.Debug("discarding superseded history", zap.Int64("chat_id", chatID), zap.Uint64("generation", gen))
		return ErrSuperseded
	}
	return nil
}

// RefreshNotifications replaces the notification inbox with the server's list.
func (e *Engine) RefreshNotifications(ctx context.Context) error {
	list, err := e.collab.FetchNotifications(ctx)
	if err != nil {
		e.metrics.CollaboratorFails.WithLabelValues("notifications").Inc()
		logger.Log.Warn("notification fetch failed", zap.Error(err))
		return fmt.Errorf("refresh notifications: %w", err)
	}
	return e.do(ctx, func() { e.inbox.Replace(list) })
}

// RefreshPresence resolves every user in the current roster to a profile.
// Lookups run concurrently; a failed or empty lookup is left out of the
// result and not retried.
func (e *Engine) RefreshPresence(ctx context.Context) error {
	var roster []int64
	if err := e.view(ctx, func() { roster = e.presence.Roster() }); err != nil {
		return err
	}

	found := make([]*event.User, len(roster))
	var g errgroup.Group
	g.SetLimit(e.lookup)
	for i, id := range roster {
		g.Go(func() error {
			u, err := e.collab.LookupUser(ctx, id)
			if err != nil {
				e.metrics.CollaboratorFails.WithLabelValues("lookup_user").Inc()
				logger.Log.Warn("user lookup failed", zap.Int64("user_id", id), zap.Error(err))
				return nil
			}
			found[i] = u
			return nil
		})
	}
	_ = g.Wait()

	profiles := make([]event.User, 0, len(found))
	for _, u := range found {
		if u != nil {
			profiles = append(profiles, *u)
		}
	}
	return e.do(ctx, func() { e.profiles = profiles })
}
