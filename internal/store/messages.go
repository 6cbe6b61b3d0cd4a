// Package store holds the client-side reducers. None of the types here lock:
// they are owned by the engine's single event loop.
package store

import "go-chat-sync/internal/event"

// Messages keeps messages in arrival order, unique by id. Arrival order is
// display order; nothing is re-sorted by timestamp.
type Messages struct {
	list  []event.Message
	index map[int64]int
}

func NewMessages() *Messages {
	return &Messages{index: make(map[int64]int)}
}

// ApplyNew appends m unless a message with the same id is already stored.
// It reports whether the store changed.
func (s *Messages) ApplyNew(m event.Message) bool {
	if _, ok := s.index[m.ID]; ok {
		return false
	}
	m.Reactions = nil
	s.index[m.ID] = len(s.list)
	s.list = append(s.list, m)
	return true
}

// ApplyEdit replaces the content of id in place. Unknown ids are ignored.
func (s *Messages) ApplyEdit(id int64, content string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.list[i].Content = content
	return true
}

// ApplyDelete removes id. Unknown ids are ignored.
func (s *Messages) ApplyDelete(id int64) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.list = append(s.list[:i], s.list[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.list); j++ {
		s.index[s.list[j].ID] = j
	}
	return true
}

// Replace swaps the whole collection for a history snapshot. Duplicate ids in
// the snapshot keep their first occurrence.
func (s *Messages) Replace(history []event.Message) {
	s.list = make([]event.Message, 0, len(history))
	s.index = make(map[int64]int, len(history))
	for _, m := range history {
		s.ApplyNew(m)
	}
}

func (s *Messages) Get(id int64) (event.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return event.Message{}, false
	}
	return s.list[i], true
}

func (s *Messages) Len() int { return len(s.list) }

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Messages) Snapshot() []event.Message {
	out := make([]event.Message, len(s.list))
	copy(out, s.list)
	for i := range out {
		if out[i].ReplyToID != nil {
			id := *out[i].ReplyToID
			out[i].ReplyToID = &id
		}
	}
	return out
}
