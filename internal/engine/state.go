package engine

import (
	"slices"

	"go-chat-sync/internal/event"
)

// State is an immutable snapshot of everything the reconciler derives.
// Nothing in it is shared with the live reducers.
type State struct {
	Version    uint64
	Connected  bool
	ActiveChat int64

	Messages  []event.Message
	Reactions map[int64][]event.Reaction // by message id
	Typing    map[int64][]int64          // by chat id; absent means nobody

	Online         []int64
	Roster         []int64
	OnlineProfiles []event.User

	Notifications []event.Notification
	Invites       []event.Invite
}

// TypingIn returns who is typing in chatID.
func (s State) TypingIn(chatID int64) []int64 {
	return s.Typing[chatID]
}

// ReactionsFor returns the reaction records of one message.
func (s State) ReactionsFor(messageID int64) []event.Reaction {
	return s.Reactions[messageID]
}

func (e *Engine) buildState() *State {
	return &State{
		Version:        e.version,
		Connected:      e.connected.Load(),
		ActiveChat:     e.activeChat,
		Messages:       e.messages.Snapshot(),
		Reactions:      e.reactions.Snapshot(),
		Typing:         e.presence.TypingSnapshot(),
		Online:         e.presence.Online(),
		Roster:         e.presence.Roster(),
		OnlineProfiles: slices.Clone(e.profiles),
		Notifications:  e.inbox.Notifications(),
		Invites:        e.inbox.Invites(),
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() State {
	return *e.state.Load()
}

// Subscribe returns a channel that always holds the newest state; a slow
// reader skips intermediate versions. The current state is delivered first.
// cancel stops delivery and must be called once.
func (e *Engine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	e.subMu.Lock()
	ch <- *e.state.Load()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, ch)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish() {
	e.version++
	st := e.buildState()
	e.state.Store(st)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- *st
	}
}

func sortedChats(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
