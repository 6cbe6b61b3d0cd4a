package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-chat-sync/internal/auth"
	"go-chat-sync/internal/event"
)

const backoff = 3 * time.Second

var alice = auth.Identity{UserID: 1, Token: "tok-a"}

func newTestSession(d *fakeDialer) (*Session, *manualClock) {
	clock := &manualClock{}
	return NewSession(d, Options{Backoff: backoff, Clock: clock}), clock
}

func typing(chat int64) event.Envelope {
	return event.New(event.TagTyping, &event.Typing{ChatID: chat, IsTyping: true}, alice.UserID)
}

func waitConnected(t *testing.T, s *Session, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connected() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestQueuedEventsFlushInOrderAfterConnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	for chat := int64(1); chat <= 3; chat++ {
		require.NoError(t, s.Send(typing(chat)))
	}
	require.Len(t, s.Pending(), 3)

	s.Connect(alice)
	waitConnected(t, s, true)

	require.Eventually(t, func() bool {
		c := d.Conn(0)
		return c != nil && len(c.Envelopes()) == 4
	}, 2*time.Second, 5*time.Millisecond)

	got := d.Conn(0).Envelopes()
	require.Equal(t, event.TagConnect, got[0].Type)
	require.Equal(t, int64(1), got[0].Payload.(*event.Connect).UserID)
	for i, chat := range []int64{1, 2, 3} {
		require.Equal(t, event.TagTyping, got[i+1].Type)
		require.Equal(t, chat, got[i+1].Payload.(*event.Typing).ChatID)
	}
	require.Empty(t, s.Pending())
}

func TestSendWhileOpenIsWrittenImmediately(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	require.NoError(t, s.Send(typing(9)))
	require.Eventually(t, func() bool { return len(d.Conn(0).Envelopes()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDropSchedulesFixedDelayReconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	d.Conn(0).Fail()
	waitConnected(t, s, false)
	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []time.Duration{backoff}, clock.Armed())
	require.Equal(t, 1, d.Dials())

	clock.Advance(backoff - time.Millisecond)
	require.Equal(t, 1, d.Dials())

	clock.Advance(time.Millisecond)
	waitConnected(t, s, true)
	require.Equal(t, 2, d.Dials())
}

func TestEventsSentDuringOutageArriveOnNextConnection(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)
	d.Conn(0).Fail()
	waitConnected(t, s, false)

	require.NoError(t, s.Send(typing(4)))
	require.NoError(t, s.Send(typing(5)))

	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(backoff)
	require.Eventually(t, func() bool {
		c := d.Conn(1)
		return c != nil && len(c.Envelopes()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	got := d.Conn(1).Envelopes()
	require.Equal(t, event.TagConnect, got[0].Type)
	require.Equal(t, int64(4), got[1].Payload.(*event.Typing).ChatID)
	require.Equal(t, int64(5), got[2].Payload.(*event.Typing).ChatID)
}

func TestDialFailureRetriesWithoutGrowingDelay(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	d.SetFail(errors.New("connection refused"))
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)
		require.Equal(t, []time.Duration{backoff}, clock.Armed())
		require.Equal(t, attempt, d.Dials())
		clock.Advance(backoff)
		require.Eventually(t, func() bool { return d.Dials() == attempt+1 }, 2*time.Second, 5*time.Millisecond)
	}
	require.False(t, s.Connected())
}

func TestClearingIdentityCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)
	d.Conn(0).Fail()
	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Send(typing(1)))
	s.Disconnect()
	require.Empty(t, clock.Armed())
	require.Empty(t, s.Pending())

	clock.Advance(10 * backoff)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, d.Dials())
	require.False(t, s.Connected())
	require.True(t, s.Identity().Empty())
}

func TestStaleTimerCallbackDoesNotDial(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)
	d.Conn(0).Fail()
	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Fire the callback by hand after the identity was cleared, as if the
	// timer raced with Disconnect.
	clock.mu.Lock()
	cb := clock.timers[0].f
	clock.mu.Unlock()
	s.Disconnect()
	cb()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, d.Dials())
}

func TestEmptyIdentityActsAsDisconnect(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	s.Connect(auth.Identity{})
	waitConnected(t, s, false)
	require.True(t, d.Conn(0).IsClosed())
}

func TestSwitchingIdentityClosesPreviousConnection(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	bob := auth.Identity{UserID: 2, Token: "tok-b"}
	s.Connect(bob)
	require.True(t, d.Conn(0).IsClosed())
	waitConnected(t, s, true)
	require.Equal(t, 2, d.Dials())

	require.Eventually(t, func() bool {
		c := d.Conn(1)
		return c != nil && len(c.Envelopes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(2), d.Conn(1).Envelopes()[0].CreatedBy)
}

func TestConnectSameIdentityIsIdempotent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	s.Connect(alice)
	waitConnected(t, s, true)
	require.Equal(t, 1, d.Dials())
}

func TestInboundFramesArriveInOrder(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	c := d.Conn(0)
	c.reads <- []byte("one")
	c.reads <- []byte("two")

	require.Equal(t, "one", string(<-s.Inbound()))
	require.Equal(t, "two", string(<-s.Inbound()))
}

func TestWriteFailureKeepsEnvelopeQueued(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, clock := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	c := d.Conn(0)
	c.mu.Lock()
	c.failW = errors.New("broken pipe")
	c.mu.Unlock()

	require.NoError(t, s.Send(typing(8)))
	waitConnected(t, s, false)
	require.Len(t, s.Pending(), 1)

	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(backoff)
	require.Eventually(t, func() bool {
		c := d.Conn(1)
		return c != nil && len(c.Envelopes()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, s.Pending())
}

func TestStatusCallbackSeesTransitions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []bool
	d := &fakeDialer{}
	s := NewSession(d, Options{Backoff: backoff, Clock: &manualClock{}, OnStatus: func(up bool) {
		mu.Lock()
		seen = append(seen, up)
		mu.Unlock()
	}})
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)
	s.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, false}, seen)
}

func TestCloseIsFinal(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)

	s.Connect(alice)
	waitConnected(t, s, true)
	s.Close()

	_, ok := <-s.Inbound()
	require.False(t, ok)
	require.ErrorIs(t, s.Send(typing(1)), ErrClosed)
	require.True(t, d.Conn(0).IsClosed())

	s.Connect(alice)
	require.Equal(t, 1, d.Dials())
	s.Close()
}

func TestSendRejectsMismatchedPayload(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(&fakeDialer{})
	defer s.Close()

	err := s.Send(event.New(event.TagJoin, &event.Typing{}, 1))
	require.ErrorIs(t, err, event.ErrPayloadMismatch)
	require.Empty(t, s.Pending())
}

func TestSwitchingUserDropsEventsQueuedForPreviousUser(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	d.SetFail(errors.New("connection refused"))
	s, _ := newTestSession(d)
	defer s.Close()

	require.NoError(t, s.Send(typing(1)))
	s.Connect(alice)
	require.Len(t, s.Pending(), 1)

	s.Connect(auth.Identity{UserID: 2, Token: "tok-b"})
	require.Empty(t, s.Pending())
}

func TestOpeningEnvelopesPrecedeQueuedOnReconnect(t *testing.T) {
	t.Parallel()

	join := event.New(event.TagJoin, &event.ChatRef{ChatID: 9}, alice.UserID)
	d := &fakeDialer{}
	clock := &manualClock{}
	s := NewSession(d, Options{Backoff: backoff, Clock: clock, OnOpen: func() []event.Envelope {
		return []event.Envelope{join}
	}})
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)
	d.Conn(0).Fail()
	waitConnected(t, s, false)

	require.NoError(t, s.Send(event.New(event.TagSendMessage, &event.SendMessage{ChatID: 9, Content: "hi"}, alice.UserID)))
	require.Eventually(t, func() bool { return len(clock.Armed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(backoff)

	require.Eventually(t, func() bool {
		c := d.Conn(1)
		return c != nil && len(c.Envelopes()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	got := d.Conn(1).Envelopes()
	require.Equal(t, event.TagConnect, got[0].Type)
	require.Equal(t, join, got[1])
	require.Equal(t, event.TagSendMessage, got[2].Type)
}

func TestEnvelopeWrittenBeforeTokenRefreshIsNotResent(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	s, _ := newTestSession(d)
	defer s.Close()

	s.Connect(alice)
	waitConnected(t, s, true)

	refreshed := auth.Identity{UserID: alice.UserID, Token: "tok-a2"}
	d.Conn(0).AfterNextWrite(func() { s.Connect(refreshed) })
	require.NoError(t, s.Send(typing(7)))

	require.Eventually(t, func() bool {
		c := d.Conn(1)
		return c != nil && len(c.Envelopes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	waitConnected(t, s, true)
	require.Eventually(t, func() bool { return len(s.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)

	require.Len(t, d.Conn(0).Envelopes(), 2)
	require.Never(t, func() bool { return len(d.Conn(1).Envelopes()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}
