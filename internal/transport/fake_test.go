package transport

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/event"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	reads  chan []byte
	closed chan struct{}
	once   sync.Once
	failW  error

	afterWrite func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.reads:
		return b, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(b []byte) error {
	c.mu.Lock()
	if c.failW != nil {
		c.mu.Unlock()
		return c.failW
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return errConnClosed
	default:
	}
	c.writes = append(c.writes, append([]byte(nil), b...))
	hook := c.afterWrite
	c.afterWrite = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// AfterNextWrite runs f once, right after the next successful write returns
// to the session's write path.
func (c *fakeConn) AfterNextWrite(f func()) {
	c.mu.Lock()
	c.afterWrite = f
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Fail simulates the server dropping the connection.
func (c *fakeConn) Fail() { c.Close() }

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Envelopes() []event.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Envelope, 0, len(c.writes))
	for _, w := range c.writes {
		env, err := event.Decode(w)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	idents []auth.Identity
	fail   error
}

func (d *fakeDialer) Dial(ctx context.Context, ident auth.Identity) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idents = append(d.idents, ident)
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.idents)
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) SetFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// manualClock fires timers only when Advance moves time past their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Armed returns the delays of timers that are neither stopped nor fired.
func (c *manualClock) Armed() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}
