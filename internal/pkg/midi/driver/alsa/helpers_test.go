package alsa

import (
	"context"
	"testing"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openConn(t *testing.T, s *loopback.Server) *Connection {
	t.Helper()
	conn, err := Open(s, DefaultClientName, "default", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newClient(t *testing.T, s *loopback.Server, opts ...Option) *Client {
	t.Helper()
	defaults := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithDriver(s),
		WithDevice("default"),
		WithPollInterval(time.Hour),
		WithGracePeriod(200 * time.Millisecond),
	}
	c, err := New(append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// peer is another client of the same server, used as the far end of subscriptions.
func peer(t *testing.T, s *loopback.Server, name string) seq.Sequencer {
	t.Helper()
	h, err := s.Open("default", seq.OpenDuplex)
	require.NoError(t, err)
	require.NoError(t, h.SetClientName(name))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func receive(t *testing.T, h seq.Sequencer) seq.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := h.EventInput(ctx)
	require.NoError(t, err)
	return ev
}

type received struct {
	ev midi.Event
	t  midi.Time
}

func recorder() (midi.HandlerFunc, <-chan received) {
	c := make(chan received, 64)
	return func(ev midi.Event, t midi.Time) {
		c <- received{ev: ev, t: t}
	}, c
}

func await(t *testing.T, c <-chan received) received {
	t.Helper()
	select {
	case r := <-c:
		return r
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	return received{}
}

func assertSilent(t *testing.T, c <-chan received) {
	t.Helper()
	select {
	case r := <-c:
		t.Fatalf("unexpected event delivered: %s", r.ev)
	case <-time.After(50 * time.Millisecond):
	}
}
