package relay

import (
	"context"
	"slices"
	"sync"
	"time"

	"go-chat-sync/internal/event"
)

type memBroker struct {
	mu   sync.Mutex
	subs []chan Delivery
}

func (b *memBroker) Publish(ctx context.Context, d Delivery) error {
	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	ch := make(chan Delivery, 256)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(c chan Delivery) bool { return c == ch })
	}()
	return ch, nil
}

type memMessages struct {
	mu            sync.Mutex
	messages      []event.Message
	notifications []event.Notification
}

func (m *memMessages) SaveMessage(_ context.Context, msg event.Message) (event.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	msg.CreatedAt = time.Unix(1700000000, 0).UTC()
	msg.UpdatedAt = msg.CreatedAt
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memMessages) find(id, userID int64) int {
	for i, msg := range m.messages {
		if msg.ID == id && msg.CreatedBy == userID {
			return i
		}
	}
	return -1
}

func (m *memMessages) EditMessage(_ context.Context, id, userID int64, content string) (event.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return event.Message{}, ErrNotFound
	}
	m.messages[i].Content = content
	return m.messages[i], nil
}

func (m *memMessages) DeleteMessage(_ context.Context, id, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.find(id, userID)
	if i < 0 {
		return 0, ErrNotFound
	}
	chatID := m.messages[i].ChatID
	m.messages = slices.Delete(m.messages, i, i+1)
	return chatID, nil
}

func (m *memMessages) History(_ context.Context, chatID int64, limit int) ([]event.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) SaveNotification(_ context.Context, n event.Notification) (event.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = int64(len(m.notifications) + 1)
	if n.Status == "" {
		n.Status = event.NotificationUnread
	}
	m.notifications = append(m.notifications, n)
	return n, nil
}

func (m *memMessages) Notifications(_ context.Context, userID int64) ([]event.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Notification
	for _, n := range m.notifications {
		if n.RecipientID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

type reactionKeyT struct {
	msg int64
	typ event.ReactionType
}

type memReactions struct {
	mu   sync.Mutex
	sets map[reactionKeyT][]int64
}

func newMemReactions() *memReactions {
	return &memReactions{sets: make(map[reactionKeyT][]int64)}
}

func (s *memReactions) record(k reactionKeyT) event.Reaction {
	ids := slices.Clone(s.sets[k])
	slices.Sort(ids)
	if ids == nil {
		ids = []int64{}
	}
	return event.Reaction{MessageID: k.msg, Type: k.typ, Count: len(ids), UserIDs: ids}
}

func (s *memReactions) Toggle(_ context.Context, msg int64, typ event.ReactionType, user int64) (event.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reactionKeyT{msg, typ}
	if i := slices.Index(s.sets[k], user); i >= 0 {
		s.sets[k] = slices.Delete(s.sets[k], i, i+1)
	} else {
		s.sets[k] = append(s.sets[k], user)
	}
	return s.record(k), nil
}

func (s *memReactions) Remove(_ context.Context, msg int64, typ event.ReactionType, user int64) (event.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := reactionKeyT{msg, typ}
	s.sets[k] = slices.DeleteFunc(s.sets[k], func(id int64) bool { return id == user })
	return s.record(k), nil
}

func (s *memReactions) ForMessage(_ context.Context, msg int64) ([]event.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Reaction
	for _, typ := range event.ReactionTypes {
		if r := s.record(reactionKeyT{msg, typ}); r.Count > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memReactions) Drop(_ context.Context, msg int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, typ := range event.ReactionTypes {
		delete(s.sets, reactionKeyT{msg, typ})
	}
	return nil
}

type memPresence struct {
	mu     sync.Mutex
	counts map[int64]int
}

func newMemPresence() *memPresence {
	return &memPresence{counts: make(map[int64]int)}
}

func (p *memPresence) Connect(_ context.Context, id int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[id]++
	return p.counts[id] == 1, nil
}

func (p *memPresence) Disconnect(_ context.Context, id int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[id]--
	if p.counts[id] > 0 {
		return false, nil
	}
	delete(p.counts, id)
	return true, nil
}

func (p *memPresence) Online(context.Context) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.counts))
	for id := range p.counts {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
