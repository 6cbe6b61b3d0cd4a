package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	"go-chat-sync/internal/metrics"
)

// DefaultBackoff is the fixed delay between a dropped connection and the next
// dial. It does not grow across attempts.
const DefaultBackoff = 3 * time.Second

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: session closed")

type Options struct {
	Backoff time.Duration
	Clock   Clock
	Metrics *metrics.Metrics
	// OnStatus observes connected/disconnected transitions. It is called
	// without the session lock held and never concurrently with itself.
	OnStatus func(connected bool)
	// OnOpen supplies envelopes written right after connect on every opened
	// connection, ahead of anything queued. It runs on the connection's
	// goroutine.
	OnOpen        func() []event.Envelope
	InboundBuffer int
}

type queued struct {
	seq   uint64
	env   event.Envelope
	frame []byte
}

// link is one dial attempt and, once it succeeds, one open connection.
type link struct {
	id     string
	gen    uint64
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		l.cancel()
		close(l.done)
		if l.conn != nil {
			l.conn.Close()
		}
	})
}

// Session owns at most one connection for the current identity. It queues
// envelopes while no connection is open, flushes them in order once one is,
// and redials after a fixed delay when the connection drops.
type Session struct {
	dialer   Dialer
	backoff  time.Duration
	clock    Clock
	metrics  *metrics.Metrics
	onStatus func(bool)
	onOpen   func() []event.Envelope

	// writeMu spans pick, write and pop in writePump, so a newer link never
	// picks an envelope an older link is still writing.
	writeMu sync.Mutex

	mu        sync.Mutex
	identity  auth.Identity
	gen       uint64 // bumped on every supersede; stale callbacks compare against it
	live      *link
	connected bool
	pending   []queued
	seq       uint64
	reconnect Timer
	closed    bool

	statusMu     sync.Mutex
	lastNotified bool

	inbound chan []byte
	wg      sync.WaitGroup
}

func NewSession(dialer Dialer, opts Options) *Session {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 256
	}
	return &Session{
		dialer:   dialer,
		backoff:  opts.Backoff,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		onStatus: opts.OnStatus,
		onOpen:   opts.OnOpen,
		inbound:  make(chan []byte, opts.InboundBuffer),
	}
}

// Inbound delivers raw frames in arrival order. It is closed by Close.
func (s *Session) Inbound() <-chan []byte { return s.inbound }

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Pending returns a copy of the envelopes not yet written.
func (s *Session) Pending() []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Envelope, len(s.pending))
	for i, q := range s.pending {
		out[i] = q.env
	}
	return out
}

// Connect starts a session for ident. An empty identity behaves like
// Disconnect. Switching to a different user closes the previous connection
// first and drops envelopes queued on behalf of the previous user.
func (s *Session) Connect(ident auth.Identity) {
	if ident.Empty() {
		s.Disconnect()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.identity == ident && s.live != nil {
		s.mu.Unlock()
		return
	}
	if !s.identity.Empty() && s.identity.UserID != ident.UserID {
		s.dropPendingLocked()
	}
	s.teardownLocked()
	s.identity = ident
	s.startLocked()
	s.mu.Unlock()

	s.notifyStatus()
}

// Disconnect clears the identity: the connection closes, queued envelopes are
// dropped and no reconnect is scheduled.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.teardownLocked()
	s.dropPendingLocked()
	s.identity = auth.Identity{}
	s.mu.Unlock()

	s.notifyStatus()
}

// Send hands env to the current connection or queues it until one opens. It
// never waits for the network; the only errors are encoding bugs and ErrClosed.
func (s *Session) Send(env event.Envelope) error {
	frame, err := event.Encode(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.seq++
	s.pending = append(s.pending, queued{seq: s.seq, env: env, frame: frame})
	s.metrics.EventsQueued.Inc()
	s.metrics.PendingDepth.Set(float64(len(s.pending)))
	l, open := s.live, s.connected
	s.mu.Unlock()

	if open {
		l.signal()
	} else {
		logger.Log.Debug("session not open, queued event", zap.String("type", string(env.Type)))
	}
	return nil
}

// Close tears the session down and waits for its goroutines. Inbound is
// closed once nothing can write to it anymore.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.teardownLocked()
	s.dropPendingLocked()
	s.identity = auth.Identity{}
	s.mu.Unlock()

	s.notifyStatus()
	s.wg.Wait()
	close(s.inbound)
}

func (l *link) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (s *Session) startLocked() {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		id:     uuid.NewString(),
		gen:    s.gen,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.live = l
	s.wg.Add(1)
	go s.run(l, s.identity)
}

// teardownLocked supersedes every in-flight callback: the reconnect timer is
// stopped and the live link is shut down.
func (s *Session) teardownLocked() {
	s.gen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.live != nil {
		s.live.shutdown()
		s.live = nil
	}
	s.connected = false
}

func (s *Session) dropPendingLocked() {
	if n := len(s.pending); n > 0 {
		s.metrics.PendingDropped.Add(float64(n))
		logger.Log.Info("dropping queued events", zap.Int("count", n))
	}
	s.pending = nil
	s.metrics.PendingDepth.Set(0)
}

func (s *Session) scheduleReconnectLocked() {
	if s.closed || s.identity.Empty() {
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	gen := s.gen
	s.reconnect = s.clock.AfterFunc(s.backoff, func() { s.fireReconnect(gen) })
	s.metrics.ReconnectsPlanned.Inc()
	logger.Log.Info("reconnect scheduled", zap.Duration("delay", s.backoff), zap.Int64("user_id", s.identity.UserID))
}

func (s *Session) fireReconnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.identity.Empty() || s.live != nil {
		return
	}
	s.reconnect = nil
	s.startLocked()
}

// run dials, announces the identity, then pumps writes until the link ends.
func (s *Session) run(l *link, ident auth.Identity) {
	defer s.wg.Done()

	s.metrics.Dials.Inc()
	conn, err := s.dialer.Dial(l.ctx, ident)

	s.mu.Lock()
	if l.gen != s.gen || s.live != l {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.live = nil
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		logger.Log.Warn("dial failed", zap.String("conn_id", l.id), zap.Error(err))
		return
	}
	l.conn = conn
	s.mu.Unlock()

	if err := s.writeOpening(conn, ident); err != nil {
		s.drop(l, err)
		return
	}

	s.mu.Lock()
	if l.gen != s.gen || s.live != l {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.mu.Unlock()
	logger.Log.Info("session connected", zap.String("conn_id", l.id), zap.Int64("user_id", ident.UserID))
	s.notifyStatus()

	s.wg.Add(1)
	go s.readPump(l)
	s.writePump(l)
}

// writeOpening writes the connect envelope and then whatever OnOpen supplies.
func (s *Session) writeOpening(conn Conn, ident auth.Identity) error {
	envs := []event.Envelope{event.New(event.TagConnect, &event.Connect{UserID: ident.UserID}, ident.UserID)}
	if s.onOpen != nil {
		envs = append(envs, s.onOpen()...)
	}
	for _, env := range envs {
		frame, err := event.Encode(env)
		if err != nil {
			logger.Log.Warn("skipping opening envelope", zap.String("type", string(env.Type)), zap.Error(err))
			continue
		}
		if err := conn.WriteMessage(frame); err != nil {
			return err
		}
		s.metrics.FramesSent.Inc()
	}
	return nil
}

// writePump drains the pending queue strictly in order. An envelope leaves
// the queue only after it was written, so a failed write is retried on the
// next connection instead of being lost or reordered. A written envelope is
// popped even if the link was superseded meanwhile.
func (s *Session) writePump(l *link) {
	for {
		s.writeMu.Lock()
		s.mu.Lock()
		if l.gen != s.gen {
			s.mu.Unlock()
			s.writeMu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			s.writeMu.Unlock()
			select {
			case <-l.wake:
				continue
			case <-l.done:
				return
			}
		}
		next := s.pending[0]
		s.mu.Unlock()

		err := l.conn.WriteMessage(next.frame)
		if err == nil {
			s.mu.Lock()
			if len(s.pending) > 0 && s.pending[0].seq == next.seq {
				s.pending = s.pending[1:]
				s.metrics.PendingDepth.Set(float64(len(s.pending)))
			}
			s.mu.Unlock()
		}
		s.writeMu.Unlock()

		if err != nil {
			s.drop(l, err)
			return
		}
		s.metrics.FramesSent.Inc()
	}
}

func (s *Session) readPump(l *link) {
	defer s.wg.Done()
	for {
		frame, err := l.conn.ReadMessage()
		if err != nil {
			s.drop(l, err)
			return
		}
		s.metrics.FramesReceived.Inc()
		select {
		case s.inbound <- frame:
		case <-l.done:
			return
		}
	}
}

// drop handles an unexpected close of l. Only the first caller for the live
// link acts; pumps of superseded links are ignored.
func (s *Session) drop(l *link, cause error) {
	s.mu.Lock()
	if l.gen != s.gen || s.live != l {
		s.mu.Unlock()
		return
	}
	l.shutdown()
	s.live = nil
	s.connected = false
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	logger.Log.Warn("session dropped", zap.String("conn_id", l.id), zap.Error(cause))
	s.notifyStatus()
}

// notifyStatus reports the current state if it differs from the last report,
// so observers converge on the truth even when transitions race.
func (s *Session) notifyStatus() {
	if s.onStatus == nil {
		return
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	now := s.Connected()
	if now == s.lastNotified {
		return
	}
	s.lastNotified = now
	s.onStatus(now)
}
