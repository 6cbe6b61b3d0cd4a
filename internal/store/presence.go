package store

import "slices"

// Presence tracks the global online set, the roster snapshot used for detail
// lookups, and per-chat typing sets. A chat with no entry has nobody typing.
type Presence struct {
	online map[int64]struct{}
	roster []int64
	typing map[int64]map[int64]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		online: make(map[int64]struct{}),
		typing: make(map[int64]map[int64]struct{}),
	}
}

// SetOnline adds or removes one user. Repeats are no-ops.
func (p *Presence) SetOnline(userID int64, online bool) bool {
	_, had := p.online[userID]
	if online == had {
		return false
	}
	if online {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
	return true
}

func (p *Presence) IsOnline(userID int64) bool {
	_, ok := p.online[userID]
	return ok
}

// ReplaceRoster swaps the full roster for a server snapshot.
func (p *Presence) ReplaceRoster(ids []int64) {
	p.roster = append([]int64(nil), ids...)
}

func (p *Presence) Roster() []int64 {
	return append([]int64(nil), p.roster...)
}

// SetTyping adds or removes userID from chatID's typing set.
func (p *Presence) SetTyping(chatID, userID int64, typing bool) bool {
	set := p.typing[chatID]
	_, had := set[userID]
	if typing == had {
		return false
	}
	if typing {
		if set == nil {
			set = make(map[int64]struct{})
			p.typing[chatID] = set
		}
		set[userID] = struct{}{}
		return true
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(p.typing, chatID)
	}
	return true
}

// ClearTyping forgets every typist of chatID.
func (p *Presence) ClearTyping(chatID int64) {
	delete(p.typing, chatID)
}

// Typing returns the sorted typists of chatID; empty for unknown chats.
func (p *Presence) Typing(chatID int64) []int64 {
	return sortedKeys(p.typing[chatID])
}

// Online returns the sorted online set.
func (p *Presence) Online() []int64 {
	return sortedKeys(p.online)
}

func (p *Presence) TypingSnapshot() map[int64][]int64 {
	out := make(map[int64][]int64, len(p.typing))
	for chatID, set := range p.typing {
		out[chatID] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
