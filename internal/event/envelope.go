// Package event defines the envelope protocol shared by the realtime client
// and the relay: the closed tag vocabulary, one strongly typed payload per
// tag, and the codec that maps envelopes to wire frames.
package event

// Tag names an event kind. The set is closed; decoders keep unknown tags so
// routers can skip them.
type Tag string

const (
	TagConnect         Tag = "connect"
	TagJoin            Tag = "join"
	TagLeave           Tag = "leave"
	TagSendMessage     Tag = "send_message"
	TagDeleteMessage   Tag = "delete_message"
	TagEditMessage     Tag = "edit_message"
	TagAddReaction     Tag = "add_reaction"
	TagRemoveReaction  Tag = "remove_reaction"
	TagTyping          Tag = "typing"
	TagNotification    Tag = "notification"
	TagFriendInvite    Tag = "friend_invite"
	TagGroupInvite     Tag = "group_invite"
	TagUserOnline      Tag = "user_online"
	TagUserOffline     Tag = "user_offline"
	TagOnlineUsersList Tag = "online_users_list"
)

// Tags is the full vocabulary in protocol order.
var Tags = []Tag{
	TagConnect, TagJoin, TagLeave, TagSendMessage, TagDeleteMessage, TagEditMessage,
	TagAddReaction, TagRemoveReaction, TagTyping, TagNotification, TagFriendInvite,
	TagGroupInvite, TagUserOnline, TagUserOffline, TagOnlineUsersList,
}

// Known reports whether t belongs to the closed vocabulary.
func (t Tag) Known() bool {
	return newPayload(t) != nil
}

// Envelope wraps one event. Payload is nil only for unknown tags.
type Envelope struct {
	Type      Tag
	Payload   Payload
	CreatedBy int64
}

// New builds an envelope; it does not check that payload matches tag, Encode does.
func New(tag Tag, payload Payload, createdBy int64) Envelope {
	return Envelope{Type: tag, Payload: payload, CreatedBy: createdBy}
}

// Payload is implemented by every per-tag data variant.
type Payload interface {
	isPayload()
}

// Connect is the first envelope written on every opened connection.
type Connect struct {
	UserID int64 `json:"userId"`
}

// ChatRef is the data of join and leave.
type ChatRef struct {
	ChatID int64 `json:"chat_id"`
}

// SendMessage is a request when sent by a client and an echo carrying the
// stored Message when pushed by the server.
type SendMessage struct {
	ChatID    int64       `json:"chat_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Type      MessageType `json:"type,omitempty"`
	MediaURL  string      `json:"media_url,omitempty"`
	ReplyToID *int64      `json:"reply_to_id,omitempty"`
	Message   *Message    `json:"message,omitempty"`
}

// MessageRef is the data of edit_message and delete_message.
type MessageRef struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ReactionChange is the data of add_reaction and remove_reaction. Echoes carry
// the authoritative Reaction record.
type ReactionChange struct {
	MessageID int64        `json:"message_id"`
	Type      ReactionType `json:"type,omitempty"`
	ChatID    int64        `json:"chat_id,omitempty"`
	Reaction  *Reaction    `json:"reaction,omitempty"`
}

// Typing toggles one user's indicator in one chat. UserID is filled by the server.
type Typing struct {
	ChatID   int64 `json:"chat_id"`
	UserID   int64 `json:"user_id,omitempty"`
	IsTyping bool  `json:"is_typing"`
}

type NotificationPush struct {
	RecipientID  int64         `json:"recipient_id,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// InvitePush is the data of friend_invite and group_invite.
type InvitePush struct {
	RecipientID int64  `json:"recipient_id,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Presence is the data of user_online and user_offline.
type Presence struct {
	UserID int64 `json:"user_id"`
}

type OnlineUsers struct {
	OnlineUsers []int64 `json:"online_users"`
}

func (*Connect) isPayload()          {}
func (*ChatRef) isPayload()          {}
func (*SendMessage) isPayload()      {}
func (*MessageRef) isPayload()       {}
func (*ReactionChange) isPayload()   {}
func (*Typing) isPayload()           {}
func (*NotificationPush) isPayload() {}
func (*InvitePush) isPayload()       {}
func (*Presence) isPayload()         {}
func (*OnlineUsers) isPayload()      {}

// newPayload returns a fresh zero variant for t, or nil when t is unknown.
func newPayload(t Tag) Payload {
	switch t {
	case TagConnect:
		return &Connect{}
	case TagJoin, TagLeave:
		return &ChatRef{}
	case TagSendMessage:
		return &SendMessage{}
	case TagEditMessage, TagDeleteMessage:
		return &MessageRef{}
	case TagAddReaction, TagRemoveReaction:
		return &ReactionChange{}
	case TagTyping:
		return &Typing{}
	case TagNotification:
		return &NotificationPush{}
	case TagFriendInvite, TagGroupInvite:
		return &InvitePush{}
	case TagUserOnline, TagUserOffline:
		return &Presence{}
	case TagOnlineUsersList:
		return &OnlineUsers{}
	}
	return nil
}
