package engine

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"go-chat-sync/internal/event"
)

// Draft is an outgoing message before the server assigns it an id.
type Draft struct {
	ChatID    int64
	Content   string
	Type      event.MessageType
	MediaURL  string
	ReplyToID *int64
}

// SendMessage emits send_message. The message shows up in state only when
// the server echo arrives.
func (e *Engine) SendMessage(d Draft) error {
	if d.Type == "" {
		d.Type = event.MessageText
	}
	return e.emit(event.TagSendMessage, &event.SendMessage{
		ChatID:    d.ChatID,
		Content:   d.Content,
		Type:      d.Type,
		MediaURL:  d.MediaURL,
		ReplyToID: d.ReplyToID,
	})
}

func (e *Engine) EditMessage(chatID, messageID int64, content string) error {
	return e.emit(event.TagEditMessage, &event.MessageRef{MessageID: messageID, ChatID: chatID, Content: content})
}

func (e *Engine) DeleteMessage(chatID, messageID int64) error {
	return e.emit(event.TagDeleteMessage, &event.MessageRef{MessageID: messageID, ChatID: chatID})
}

// ToggleReaction flips the acting user's membership in (messageID, typ)
// locally, then asks the server to do the same. The server's echo replaces
// the local record when it arrives.
func (e *Engine) ToggleReaction(ctx context.Context, chatID, messageID int64, typ event.ReactionType) error {
	if !typ.Valid() {
		return fmt.Errorf("engine: unknown reaction type %q", typ)
	}
	if err := e.do(ctx, func() { e.reactions.Toggle(messageID, typ, e.userID) }); err != nil {
		return err
	}
	return e.emit(event.TagAddReaction, &event.ReactionChange{MessageID: messageID, Type: typ, ChatID: chatID})
}

// JoinChat subscribes to chatID's room. Joined chats are joined again after
// every reconnect, see Rejoins.
func (e *Engine) JoinChat(ctx context.Context, chatID int64) error {
	if err := e.do(ctx, func() { e.setJoined(chatID, true) }); err != nil {
		return err
	}
	return e.emit(event.TagJoin, &event.ChatRef{ChatID: chatID})
}

func (e *Engine) LeaveChat(ctx context.Context, chatID int64) error {
	if err := e.do(ctx, func() {
		e.setJoined(chatID, false)
		e.presence.ClearTyping(chatID)
	}); err != nil {
		return err
	}
	e.resetTyping(chatID)
	return e.emit(event.TagLeave, &event.ChatRef{ChatID: chatID})
}

// SendTyping emits the local typing indicator. A start is sent at most once
// per typing interval for each chat; a stop is always sent and lets the next
// start through immediately.
func (e *Engine) SendTyping(chatID int64, typing bool) error {
	if !typing {
		e.resetTyping(chatID)
		return e.emit(event.TagTyping, &event.Typing{ChatID: chatID, IsTyping: false})
	}

	e.typingMu.Lock()
	lim, ok := e.typing[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.typingInterval), 1)
		e.typing[chatID] = lim
	}
	allowed := lim.Allow()
	e.typingMu.Unlock()

	if !allowed {
		return nil
	}
	return e.emit(event.TagTyping, &event.Typing{ChatID: chatID, IsTyping: true})
}

func (e *Engine) setJoined(chatID int64, joined bool) {
	e.joinedMu.Lock()
	defer e.joinedMu.Unlock()
	if joined {
		e.joined[chatID] = struct{}{}
	} else {
		delete(e.joined, chatID)
	}
}

func (e *Engine) resetTyping(chatID int64) {
	e.typingMu.Lock()
	delete(e.typing, chatID)
	e.typingMu.Unlock()
}

func (e *Engine) emit(tag event.Tag, p event.Payload) error {
	if err := e.transport.Send(event.New(tag, p, e.userID)); err != nil {
		return fmt.Errorf("send %s: %w", tag, err)
	}
	return nil
}
