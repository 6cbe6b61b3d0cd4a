package engine

import (
	"fmt"

	"go.uber.org/zap"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/router"
)

// registerHandlers wires every inbound tag the client reacts to. connect,
// join and leave have no client-side effect and stay unhandled.
func (e *Engine) registerHandlers() {
	r := e.router
	must(router.On(r, event.TagSendMessage, e.onNewMessage))
	must(router.On(r, event.TagEditMessage, e.onEdit))
	must(router.On(r, event.TagDeleteMessage, e.onDelete))
	must(router.On(r, event.TagAddReaction, e.onReaction))
	must(router.On(r, event.TagRemoveReaction, e.onReaction))
	must(router.On(r, event.TagTyping, e.onTyping))
	must(router.On(r, event.TagNotification, e.onNotification))
	must(router.On(r, event.TagFriendInvite, e.onInvite(event.TagFriendInvite)))
	must(router.On(r, event.TagGroupInvite, e.onInvite(event.TagGroupInvite)))
	must(router.On(r, event.TagUserOnline, e.onPresence(true)))
	must(router.On(r, event.TagUserOffline, e.onPresence(false)))
	must(router.On(r, event.TagOnlineUsersList, e.onOnlineUsers))
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("engine: %v", err))
	}
}

func (e *Engine) onNewMessage(p *event.SendMessage, _ int64) {
	if p.Message == nil {
		logger.Log.Debug("send_message without message record", zap.Int64("chat_id", p.ChatID))
		return
	}
	e.messages.ApplyNew(*p.Message)
}

func (e *Engine) onEdit(p *event.MessageRef, _ int64) {
	e.messages.ApplyEdit(p.MessageID, p.Content)
}

func (e *Engine) onDelete(p *event.MessageRef, _ int64) {
	e.messages.ApplyDelete(p.MessageID)
	e.reactions.DropMessage(p.MessageID)
}

func (e *Engine) onReaction(p *event.ReactionChange, _ int64) {
	if p.Reaction == nil {
		return
	}
	r := *p.Reaction
	if r.MessageID == 0 {
		r.MessageID = p.MessageID
	}
	if r.Type == "" {
		r.Type = p.Type
	}
	e.reactions.ApplyEcho(r)
}

func (e *Engine) onTyping(p *event.Typing, createdBy int64) {
	userID := p.UserID
	if userID == 0 {
		userID = createdBy
	}
	if userID == 0 {
		return
	}
	e.presence.SetTyping(p.ChatID, userID, p.IsTyping)
}

func (e *Engine) onNotification(p *event.NotificationPush, _ int64) {
	if p.Notification == nil {
		return
	}
	e.inbox.Upsert(*p.Notification)
}

func (e *Engine) onInvite(kind event.Tag) func(*event.InvitePush, int64) {
	return func(p *event.InvitePush, createdBy int64) {
		e.inbox.AddInvite(event.Invite{
			Kind:      kind,
			ChatID:    p.ChatID,
			Code:      p.Code,
			Message:   p.Message,
			CreatedBy: createdBy,
		})
	}
}

func (e *Engine) onPresence(online bool) func(*event.Presence, int64) {
	return func(p *event.Presence, _ int64) {
		if p.UserID == 0 {
			return
		}
		e.presence.SetOnline(p.UserID, online)
	}
}

func (e *Engine) onOnlineUsers(p *event.OnlineUsers, _ int64) {
	e.presence.ReplaceRoster(p.OnlineUsers)
}
