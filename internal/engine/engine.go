// Package engine is the client state reconciler. One goroutine (Run) owns
// every reducer; inbound frames and caller commands are applied in the order
// the loop receives them, and each change publishes an immutable State.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
	"go-chat-sync/internal/router"
	"go-chat-sync/internal/store"
)

var (
	// ErrStopped is returned by calls that need the loop after Run has exited.
	ErrStopped = errors.New("engine: stopped")
	// ErrSuperseded is returned by LoadChatHistory when a newer load started
	// before this one's response arrived. The response is discarded.
	ErrSuperseded = errors.New("engine: history load superseded")
	// ErrRunning is returned by a second concurrent Run.
	ErrRunning = errors.New("engine: already running")
)

const (
	DefaultTypingInterval = 2 * time.Second
	defaultLookupLimit    = 8
)

// Transport is the outbound half of the transport session plus its frame feed.
type Transport interface {
	Send(env event.Envelope) error
	Inbound() <-chan []byte
}

// Collaborator is the REST surface the engine reads snapshots from.
type Collaborator interface {
	FetchHistory(ctx context.Context, chatID int64) ([]event.Message, error)
	FetchNotifications(ctx context.Context) ([]event.Notification, error)
	// LookupUser returns nil with a nil error when the user does not exist.
	LookupUser(ctx context.Context, userID int64) (*event.User, error)
}

type Options struct {
	// UserID is the acting user for optimistic updates and created_by.
	UserID         int64
	TypingInterval time.Duration
	// LookupLimit bounds concurrent presence detail lookups.
	LookupLimit int
	Metrics     *metrics.Metrics
}

type Engine struct {
	transport Transport
	collab    Collaborator
	metrics   *metrics.Metrics
	userID    int64
	lookup    int

	router    *router.Router
	messages  *store.Messages
	reactions *store.Reactions
	presence  *store.Presence
	inbox     *store.Inbox

	// loop-owned
	activeChat  int64
	profiles    []event.User
	historyGen  uint64
	version     uint64
	running     atomic.Bool
	connected   atomic.Bool
	cmds        chan func()
	statusNudge chan struct{}
	done        chan struct{}

	state atomic.Pointer[State]

	// joined is read by the transport goroutine through Rejoins.
	joinedMu sync.Mutex
	joined   map[int64]struct{}
	opened   bool

	subMu sync.Mutex
	subs  map[chan State]struct{}

	typingMu       sync.Mutex
	typingInterval time.Duration
	typing         map[int64]*rate.Limiter
}

func New(t Transport, c Collaborator, opts Options) *Engine {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	if opts.LookupLimit <= 0 {
		opts.LookupLimit = defaultLookupLimit
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	e := &Engine{
		transport:      t,
		collab:         c,
		metrics:        opts.Metrics,
		userID:         opts.UserID,
		lookup:         opts.LookupLimit,
		router:         router.New(),
		messages:       store.NewMessages(),
		reactions:      store.NewReactions(),
		presence:       store.NewPresence(),
		inbox:          store.NewInbox(),
		joined:         make(map[int64]struct{}),
		cmds:           make(chan func()),
		statusNudge:    make(chan struct{}, 1),
		done:           make(chan struct{}),
		subs:           make(map[chan State]struct{}),
		typingInterval: opts.TypingInterval,
		typing:         make(map[int64]*rate.Limiter),
	}
	e.registerHandlers()
	e.state.Store(e.buildState())
	return e
}

// Run processes inbound frames and commands until ctx is done. It must be
// called exactly once; every other method is safe from any goroutine.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(e.done)

	inbound := e.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-inbound:
			if !ok {
				logger.Log.Info("transport inbound closed")
				inbound = nil
				continue
			}
			if e.ingest(frame) {
				e.publish()
			}

		case cmd := <-e.cmds:
			cmd()

		case <-e.statusNudge:
			e.publish()
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// ingest decodes every envelope in frame and routes it. A malformed part is
// logged and skipped; the parts after it are still applied.
func (e *Engine) ingest(frame []byte) bool {
	changed := false
	for _, part := range event.SplitFrame(frame) {
		env, err := event.Decode(part)
		if err != nil {
			e.metrics.DecodeErrors.Inc()
			logger.Log.Warn("discarding malformed frame", zap.Error(err), zap.Int("bytes", len(part)))
			continue
		}
		if !e.router.Dispatch(env) {
			e.metrics.EventsIgnored.Inc()
			continue
		}
		e.metrics.EventsDispatched.WithLabelValues(string(env.Type)).Inc()
		changed = true
	}
	return changed
}

// do runs fn on the loop goroutine, publishes the result and waits for both.
// A caller that returns from do sees its change in Snapshot.
func (e *Engine) do(ctx context.Context, fn func()) error {
	return e.exec(ctx, fn, true)
}

// view runs fn on the loop goroutine without publishing.
func (e *Engine) view(ctx context.Context, fn func()) error {
	return e.exec(ctx, fn, false)
}

func (e *Engine) exec(ctx context.Context, fn func(), publish bool) error {
	ran := make(chan struct{})
	cmd := func() {
		defer close(ran)
		fn()
		if publish {
			e.publish()
		}
	}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// SetConnected records a transport status change. It never blocks, so it can
// be handed to the transport as its status callback.
func (e *Engine) SetConnected(connected bool) {
	e.connected.Store(connected)
	select {
	case e.statusNudge <- struct{}{}:
	default:
	}
}

// Rejoins returns a join for every joined chat. The transport writes them
// right after connect and ahead of its queue, since the relay forgets room
// membership with the old socket. The first open gets none: every join sent
// so far is still queued.
func (e *Engine) Rejoins() []event.Envelope {
	e.joinedMu.Lock()
	defer e.joinedMu.Unlock()
	if !e.opened {
		e.opened = true
		return nil
	}
	chats := sortedChats(e.joined)
	out := make([]event.Envelope, 0, len(chats))
	for _, chatID := range chats {
		out = append(out, event.New(event.TagJoin, &event.ChatRef{ChatID: chatID}, e.userID))
	}
	return out
}
