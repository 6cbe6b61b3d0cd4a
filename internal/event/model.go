package event

import "time"

// ---------------------------------------------
// Domain records carried inside envelopes and REST responses
// ---------------------------------------------

type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageVideo   MessageType = "video"
	MessageSticker MessageType = "sticker"
	MessageFile    MessageType = "file"
	MessageSystem  MessageType = "system"
)

// Message is identified by ID across every chat.
type Message struct {
	ID        int64       `json:"id"`
	ChatID    int64       `json:"chat_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	MediaURL  string      `json:"media_url,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	FileSize  int64       `json:"file_size,omitempty"`
	ReplyToID *int64      `json:"reply_to_id,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"` // only present on history loads
	CreatedBy int64       `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

// ReactionTypes lists the fixed emoji-tag set in display order.
var ReactionTypes = []ReactionType{
	ReactionLike, ReactionLove, ReactionLaugh, ReactionWow, ReactionSad, ReactionAngry,
}

func (t ReactionType) Valid() bool {
	for _, known := range ReactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Reaction aggregates every user that reacted to one message with one type.
// Count always equals len(UserIDs).
type Reaction struct {
	ID        int64        `json:"id,omitempty"`
	MessageID int64        `json:"message_id"`
	Type      ReactionType `json:"type"`
	Count     int          `json:"count"`
	UserIDs   []int64      `json:"user_ids"`
}

// Has reports whether userID is one of the reacting users.
func (r Reaction) Has(userID int64) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never share the user slice.
func (r Reaction) Clone() Reaction {
	out := r
	out.UserIDs = append([]int64(nil), r.UserIDs...)
	return out
}

type NotificationType string

const (
	NotifyFriendRequest     NotificationType = "friend_request"
	NotifyFriendAccepted    NotificationType = "friend_accepted"
	NotifyGroupInvitation   NotificationType = "group_invitation"
	NotifyMessageReaction   NotificationType = "message_reaction"
	NotifyMessageReply      NotificationType = "message_reply"
	NotifyGroupMemberJoined NotificationType = "group_member_joined"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationAccepted NotificationStatus = "accepted"
	NotificationRejected NotificationStatus = "rejected"
)

type Notification struct {
	ID          int64              `json:"id"`
	RecipientID int64              `json:"recipient_id"`
	SenderID    int64              `json:"sender_id"`
	Type        NotificationType   `json:"type"`
	Status      NotificationStatus `json:"status"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	ReferenceID *int64             `json:"reference_id,omitempty"` // chat, message, friendship...
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// User is the profile returned by presence detail lookups.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Invite is a friend or group invitation pushed over the channel.
type Invite struct {
	Kind      Tag    `json:"kind"`
	ChatID    int64  `json:"chat_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedBy int64  `json:"created_by"`
}
