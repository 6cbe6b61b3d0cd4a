package store

import "go-chat-sync/internal/event"

// Reactions holds at most one record per (message, type). A record never
// exists with zero users, and Count always equals len(UserIDs).
type Reactions struct {
	byMessage map[int64][]event.Reaction // per message, in first-seen order
}

func NewReactions() *Reactions {
	return &Reactions{byMessage: make(map[int64][]event.Reaction)}
}

// Toggle is the optimistic local mutation: userID joins the record for
// (messageID, typ) or leaves it, deleting the record when it empties.
func (s *Reactions) Toggle(messageID int64, typ event.ReactionType, userID int64) {
	list := s.byMessage[messageID]
	i := find(list, typ)
	if i < 0 {
		s.put(messageID, event.Reaction{MessageID: messageID, Type: typ, Count: 1, UserIDs: []int64{userID}})
		return
	}

	r := list[i].Clone()
	if r.Has(userID) {
		kept := r.UserIDs[:0]
		for _, id := range r.UserIDs {
			if id != userID {
				kept = append(kept, id)
			}
		}
		r.UserIDs = kept
	} else {
		r.UserIDs = append(r.UserIDs, userID)
	}
	s.put(messageID, r)
}

// ApplyEcho overwrites the record for the echo's (message, type) with the
// server's version. The server always wins; nothing is merged.
func (s *Reactions) ApplyEcho(r event.Reaction) {
	s.put(r.MessageID, normalize(r))
}

// DropMessage forgets every record for messageID.
func (s *Reactions) DropMessage(messageID int64) {
	delete(s.byMessage, messageID)
}

// Replace rebuilds the store from the reaction snapshots embedded in a
// history load.
func (s *Reactions) Replace(history []event.Message) {
	s.byMessage = make(map[int64][]event.Reaction)
	for _, m := range history {
		for _, r := range m.Reactions {
			r.MessageID = m.ID
			s.put(m.ID, normalize(r))
		}
	}
}

// Get returns the record for (messageID, typ).
func (s *Reactions) Get(messageID int64, typ event.ReactionType) (event.Reaction, bool) {
	list := s.byMessage[messageID]
	i := find(list, typ)
	if i < 0 {
		return event.Reaction{}, false
	}
	return list[i].Clone(), true
}

// Snapshot returns deep copies keyed by message id.
func (s *Reactions) Snapshot() map[int64][]event.Reaction {
	out := make(map[int64][]event.Reaction, len(s.byMessage))
	for id, list := range s.byMessage {
		cp := make([]event.Reaction, len(list))
		for i, r := range list {
			cp[i] = r.Clone()
		}
		out[id] = cp
	}
	return out
}

// put replaces or inserts r, or removes the record when r has no users.
func (s *Reactions) put(messageID int64, r event.Reaction) {
	r.Count = len(r.UserIDs)
	list := s.byMessage[messageID]
	i := find(list, r.Type)

	switch {
	case r.Count == 0 && i < 0:
		return
	case r.Count == 0:
		list = append(list[:i:i], list[i+1:]...)
	case i < 0:
		list = append(list, r)
	default:
		list = append([]event.Reaction(nil), list...)
		list[i] = r
	}

	if len(list) == 0 {
		delete(s.byMessage, messageID)
		return
	}
	s.byMessage[messageID] = list
}

func find(list []event.Reaction, typ event.ReactionType) int {
	for i, r := range list {
		if r.Type == typ {
			return i
		}
	}
	return -1
}

// normalize dedupes user ids so the count invariant holds for any echo.
func normalize(r event.Reaction) event.Reaction {
	seen := make(map[int64]struct{}, len(r.UserIDs))
	ids := make([]int64, 0, len(r.UserIDs))
	for _, id := range r.UserIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	r.UserIDs = ids
	r.Count = len(ids)
	return r
}
