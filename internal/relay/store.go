package relay

import (
	"context"
	"errors"

	"go-chat-sync/internal/event"
)

// ErrNotFound covers unknown ids and messages the caller does not own.
var ErrNotFound = errors.New("relay: not found")

type MessageStore interface {
	SaveMessage(ctx context.Context, m event.Message) (event.Message, error)
	// EditMessage and DeleteMessage only touch messages authored by userID.
	EditMessage(ctx context.Context, id, userID int64, content string) (event.Message, error)
	DeleteMessage(ctx context.Context, id, userID int64) (chatID int64, err error)
	// History returns up to limit of the newest messages, oldest first.
	History(ctx context.Context, chatID int64, limit int) ([]event.Message, error)
	SaveNotification(ctx context.Context, n event.Notification) (event.Notification, error)
	Notifications(ctx context.Context, userID int64) ([]event.Notification, error)
}

// ReactionStore keeps one user set per (message, type). Returned records are
// complete: Count equals len(UserIDs) and an empty set means no reaction.
type ReactionStore interface {
	Toggle(ctx context.Context, messageID int64, typ event.ReactionType, userID int64) (event.Reaction, error)
	Remove(ctx context.Context, messageID int64, typ event.ReactionType, userID int64) (event.Reaction, error)
	ForMessage(ctx context.Context, messageID int64) ([]event.Reaction, error)
	Drop(ctx context.Context, messageID int64) error
}

// PresenceStore counts live connections per user across relay instances.
type PresenceStore interface {
	Connect(ctx context.Context, userID int64) (first bool, err error)
	Disconnect(ctx context.Context, userID int64) (last bool, err error)
	Online(ctx context.Context) ([]int64, error)
}
