// Package relay is the server side of the realtime channel: websocket
// clients, chat rooms, presence, and cross-instance fanout through Redis.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
)

const opTimeout = 5 * time.Second

var (
	errInvalid = errors.New("relay: invalid event")
	errStopped = errors.New("relay: hub stopped")
)

type clientSet map[*Client]struct{}

type membership struct {
	client *Client
	chatID int64
	join   bool
}

type Deps struct {
	Broker    Broker
	Messages  MessageStore
	Reactions ReactionStore
	Presence  PresenceStore
	Metrics   *metrics.Metrics
}

// Hub owns the local client, user and room indexes. Only Run touches them;
// everything else talks to it over channels.
type Hub struct {
	clients clientSet
	users   map[int64]clientSet
	rooms   map[int64]clientSet

	register   chan *Client
	unregister chan *Client
	membership chan membership
	done       chan struct{}

	broker    Broker
	messages  MessageStore
	reactions ReactionStore
	presence  PresenceStore
	metrics   *metrics.Metrics
}

func NewHub(d Deps) *Hub {
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	return &Hub{
		clients:    make(clientSet),
		users:      make(map[int64]clientSet),
		rooms:      make(map[int64]clientSet),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		membership: make(chan membership),
		done:       make(chan struct{}),
		broker:     d.Broker,
		messages:   d.Messages,
		reactions:  d.Reactions,
		presence:   d.Presence,
		metrics:    d.Metrics,
	}
}

// Run fans broker deliveries out to local clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	deliveries, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			addTo(h.users, c.UserID, c)
			h.metrics.RelayClients.Inc()

		case c := <-h.unregister:
			h.remove(c)

		case m := <-h.membership:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			if m.join {
				addTo(h.rooms, m.chatID, m.client)
			} else {
				removeFrom(h.rooms, m.chatID, m.client)
			}

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("relay: broker subscription closed")
			}
			h.fanout(d)
		}
	}
}

func (h *Hub) fanout(d Delivery) {
	var targets clientSet
	switch {
	case d.All:
		targets = h.clients
	case d.Room != 0:
		targets = h.rooms[d.Room]
	case d.User != 0:
		targets = h.users[d.User]
	}
	for c := range targets {
		if d.Exclude != 0 && c.UserID == d.Exclude {
			continue
		}
		select {
		case c.send <- []byte(d.Frame):
		default:
			logger.Log.Warn("dropping slow client", zap.String("client", c.ID), zap.Int64("user_id", c.UserID))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	removeFrom(h.users, c.UserID, c)
	for chatID := range h.rooms {
		removeFrom(h.rooms, chatID, c)
	}
	close(c.send)
	h.metrics.RelayClients.Dec()
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		h.remove(c)
	}
}

func addTo(index map[int64]clientSet, key int64, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(clientSet)
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(index map[int64]clientSet, key int64, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Register adds c to the hub and announces the user if this is their first
// connection anywhere.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	select {
	case h.register <- c:
	case <-h.done:
		return errStopped
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	first, err := h.presence.Connect(ctx, c.UserID)
	if err != nil {
		return err
	}
	if first {
		h.announce(ctx, event.TagUserOnline, c.UserID)
	}
	return h.publishRoster(ctx)
}

// Unregister removes c and announces the user offline once their last
// connection is gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	last, err := h.presence.Disconnect(ctx, c.UserID)
	if err != nil {
		logger.Log.Warn("presence disconnect failed", zap.Int64("user_id", c.UserID), zap.Error(err))
		return
	}
	if !last {
		return
	}
	h.announce(ctx, event.TagUserOffline, c.UserID)
	if err := h.publishRoster(ctx); err != nil {
		logger.Log.Warn("publish roster failed", zap.Error(err))
	}
}

func (h *Hub) announce(ctx context.Context, tag event.Tag, userID int64) {
	if err := h.publish(ctx, Delivery{All: true}, event.New(tag, &event.Presence{UserID: userID}, userID)); err != nil {
		logger.Log.Warn("presence announce failed", zap.String("type", string(tag)), zap.Error(err))
	}
}

func (h *Hub) publishRoster(ctx context.Context) error {
	online, err := h.presence.Online(ctx)
	if err != nil {
		return err
	}
	return h.publish(ctx, Delivery{All: true}, event.New(event.TagOnlineUsersList, &event.OnlineUsers{OnlineUsers: online}, 0))
}

func (h *Hub) setMembership(c *Client, chatID int64, join bool) error {
	if chatID == 0 {
		return errInvalid
	}
	select {
	case h.membership <- membership{client: c, chatID: chatID, join: join}:
		return nil
	case <-h.done:
		return errStopped
	}
}

func (h *Hub) publish(ctx context.Context, d Delivery, env event.Envelope) error {
	frame, err := event.Encode(env)
	if err != nil {
		return err
	}
	d.Frame = frame
	return h.broker.Publish(ctx, d)
}

// Handle applies one envelope from c. Failures are logged; the client gets
// nothing back, the same as for an unknown tag.
func (h *Hub) Handle(ctx context.Context, c *Client, env event.Envelope) {
	h.metrics.RelayEvents.WithLabelValues(string(env.Type)).Inc()
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := h.dispatch(ctx, c, env); err != nil {
		logger.Log.Warn("event failed",
			zap.String("type", string(env.Type)),
			zap.Int64("user_id", c.UserID),
			zap.Error(err))
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env event.Envelope) error {
	switch p := env.Payload.(type) {
	case *event.Connect:
		logger.Log.Debug("connect acknowledged", zap.Int64("user_id", c.UserID))
		return nil
	case *event.ChatRef:
		return h.setMembership(c, p.ChatID, env.Type == event.TagJoin)
	case *event.SendMessage:
		return h.sendMessage(ctx, c, p)
	case *event.MessageRef:
		if env.Type == event.TagEditMessage {
			return h.editMessage(ctx, c, p)
		}
		return h.deleteMessage(ctx, c, p)
	case *event.ReactionChange:
		return h.react(ctx, c, env.Type, p)
	case *event.Typing:
		return h.publish(ctx, Delivery{Room: p.ChatID, Exclude: c.UserID},
			event.New(event.TagTyping, &event.Typing{ChatID: p.ChatID, UserID: c.UserID, IsTyping: p.IsTyping}, c.UserID))
	case *event.NotificationPush:
		return h.notify(ctx, c, p)
	case *event.InvitePush:
		if p.RecipientID == 0 {
			return fmt.Errorf("%w: %s without recipient", errInvalid, env.Type)
		}
		return h.publish(ctx, Delivery{User: p.RecipientID}, event.New(env.Type, p, c.UserID))
	}
	logger.Log.Debug("ignoring event", zap.String("type", string(env.Type)))
	return nil
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, p *event.SendMessage) error {
	if p.ChatID == 0 || (p.Content == "" && p.MediaURL == "") {
		return fmt.Errorf("%w: empty message", errInvalid)
	}
	typ := p.Type
	if typ == "" {
		typ = event.MessageText
	}
	saved, err := h.messages.SaveMessage(ctx, event.Message{
		ChatID:    p.ChatID,
		Content:   p.Content,
		Type:      typ,
		MediaURL:  p.MediaURL,
		ReplyToID: p.ReplyToID,
		CreatedBy: c.UserID,
	})
	if err != nil {
		return err
	}
	return h.publish(ctx, Delivery{Room: saved.ChatID},
		event.New(event.TagSendMessage, &event.SendMessage{Message: &saved}, c.UserID))
}

func (h *Hub) editMessage(ctx context.Context, c *Client, p *event.MessageRef) error {
	m, err := h.messages.EditMessage(ctx, p.MessageID, c.UserID, p.Content)
	if err != nil {
		return err
	}
	return h.publish(ctx, Delivery{Room: m.ChatID},
		event.New(event.TagEditMessage, &event.MessageRef{MessageID: m.ID, ChatID: m.ChatID, Content: m.Content}, c.UserID))
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, p *event.MessageRef) error {
	chatID, err := h.messages.DeleteMessage(ctx, p.MessageID, c.UserID)
	if err != nil {
		return err
	}
	if err := h.reactions.Drop(ctx, p.MessageID); err != nil {
		logger.Log.Warn("drop reactions failed", zap.Int64("message_id", p.MessageID), zap.Error(err))
	}
	return h.publish(ctx, Delivery{Room: chatID},
		event.New(event.TagDeleteMessage, &event.MessageRef{MessageID: p.MessageID, ChatID: chatID}, c.UserID))
}

// react toggles on add_reaction and removes on remove_reaction, then echoes
// the whole record under the same tag.
func (h *Hub) react(ctx context.Context, c *Client, tag event.Tag, p *event.ReactionChange) error {
	if p.MessageID == 0 || p.ChatID == 0 || !p.Type.Valid() {
		return fmt.Errorf("%w: reaction %q on message %d", errInvalid, p.Type, p.MessageID)
	}
	var (
		r   event.Reaction
		err error
	)
	if tag == event.TagAddReaction {
		r, err = h.reactions.Toggle(ctx, p.MessageID, p.Type, c.UserID)
	} else {
		r, err = h.reactions.Remove(ctx, p.MessageID, p.Type, c.UserID)
	}
	if err != nil {
		return err
	}
	return h.publish(ctx, Delivery{Room: p.ChatID},
		event.New(tag, &event.ReactionChange{MessageID: p.MessageID, Type: p.Type, ChatID: p.ChatID, Reaction: &r}, c.UserID))
}

func (h *Hub) notify(ctx context.Context, c *Client, p *event.NotificationPush) error {
	if p.Notification == nil {
		return fmt.Errorf("%w: notification without record", errInvalid)
	}
	n := *p.Notification
	if n.RecipientID == 0 {
		n.RecipientID = p.RecipientID
	}
	if n.RecipientID == 0 {
		return fmt.Errorf("%w: notification without recipient", errInvalid)
	}
	n.SenderID = c.UserID
	saved, err := h.messages.SaveNotification(ctx, n)
	if err != nil {
		return err
	}
	return h.publish(ctx, Delivery{User: saved.RecipientID},
		event.New(event.TagNotification, &event.NotificationPush{RecipientID: saved.RecipientID, Notification: &saved}, c.UserID))
}
