package store

import "go-chat-sync/internal/event"

// Inbox holds notifications (upserted by id) and received invites.
type Inbox struct {
	notifications []event.Notification
	invites       []event.Invite
}

func NewInbox() *Inbox { return &Inbox{} }

// Upsert replaces the notification with the same id or appends n.
func (b *Inbox) Upsert(n event.Notification) {
	for i := range b.notifications {
		if b.notifications[i].ID == n.ID {
			b.notifications[i] = n
			return
		}
	}
	b.notifications = append(b.notifications, n)
}

// Replace swaps the inbox for a REST refresh.
func (b *Inbox) Replace(list []event.Notification) {
	b.notifications = append([]event.Notification(nil), list...)
}

func (b *Inbox) AddInvite(inv event.Invite) {
	b.invites = append(b.invites, inv)
}

func (b *Inbox) Notifications() []event.Notification {
	return append([]event.Notification(nil), b.notifications...)
}

func (b *Inbox) Invites() []event.Invite {
	return append([]event.Invite(nil), b.invites...)
}
