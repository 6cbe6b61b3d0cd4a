package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-chat-sync/internal/event"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []event.Envelope
	in   chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64)}
}

func (f *fakeTransport) Send(env event.Envelope) error {
	if _, err := event.Encode(env); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Inbound() <-chan []byte { return f.in }

func (f *fakeTransport) Sent() []event.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Envelope(nil), f.sent...)
}

func (f *fakeTransport) SentOf(tag event.Tag) []event.Envelope {
	var out []event.Envelope
	for _, env := range f.Sent() {
		if env.Type == tag {
			out = append(out, env)
		}
	}
	return out
}

type fakeCollab struct {
	history       func(ctx context.Context, chatID int64) ([]event.Message, error)
	notifications func(ctx context.Context) ([]event.Notification, error)
	lookup        func(ctx context.Context, userID int64) (*event.User, error)
}

func (c *fakeCollab) FetchHistory(ctx context.Context, chatID int64) ([]event.Message, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history(ctx, chatID)
}

func (c *fakeCollab) FetchNotifications(ctx context.Context) ([]event.Notification, error) {
	if c.notifications == nil {
		return nil, nil
	}
	return c.notifications(ctx)
}

func (c *fakeCollab) LookupUser(ctx context.Context, userID int64) (*event.User, error) {
	if c.lookup == nil {
		return nil, nil
	}
	return c.lookup(ctx, userID)
}

func startEngine(t *testing.T, tr *fakeTransport, c *fakeCollab, opts Options) *Engine {
	t.Helper()
	e := New(tr, c, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func frame(t *testing.T, env event.Envelope) []byte {
	t.Helper()
	b, err := event.Encode(env)
	require.NoError(t, err)
	return b
}

func waitFor(t *testing.T, e *Engine, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(e.Snapshot())
	}, 2*time.Second, 5*time.Millisecond)
	return e.Snapshot()
}
