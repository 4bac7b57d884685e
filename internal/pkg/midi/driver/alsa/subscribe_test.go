package alsa

import (
	"fmt"
	"testing"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsubscribeSymmetry(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	far := peer(t, s, "thru")
	thru, err := far.CreateSimplePort("thru", inCaps|outCaps, portType)
	require.NoError(t, err)
	remote := seq.Addr{Client: far.ClientID(), Port: thru}
	address := fmt.Sprintf("%s thru:thru", remote)

	port := midi.NewPort("both", midi.ModeDuplex, 0, nil)
	require.NoError(t, c.AddPort(port))
	ids, _ := c.Registry().IDs(port)
	in := seq.Addr{Client: c.ClientID(), Port: ids.In}
	out := seq.Addr{Client: c.ClientID(), Port: ids.Out}

	require.NoError(t, c.SubscribeReadablePort(port, address, false))
	require.NoError(t, c.SubscribeWriteablePort(port, address, false))
	assert.True(t, s.Subscribed(remote, in))
	assert.True(t, s.Subscribed(out, remote))
	assert.Equal(t, 2, s.Subscriptions())

	require.NoError(t, c.SubscribeReadablePort(port, address, true))
	assert.False(t, s.Subscribed(remote, in))
	assert.True(t, s.Subscribed(out, remote))

	require.NoError(t, c.SubscribeWriteablePort(port, address, true))
	assert.False(t, s.Subscribed(out, remote))
	assert.Equal(t, 0, s.Subscriptions())

	err = c.SubscribeReadablePort(port, address, true)
	assert.ErrorIs(t, err, seq.ErrNotSubscribed)
}

func TestSubscribeInvalidAddress(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	port := midi.NewPort("both", midi.ModeDuplex, 0, nil)
	require.NoError(t, c.AddPort(port))

	for _, address := range []string{"", "garbage", "nobody:0", "12:x"} {
		assert.ErrorIs(t, c.SubscribeReadablePort(port, address, false), ErrInvalidAddress, address)
		assert.ErrorIs(t, c.SubscribeWriteablePort(port, address, false), ErrInvalidAddress, address)
	}
	assert.Equal(t, 0, s.Subscriptions())
}

func TestSubscribeNotApplicable(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)

	output := midi.NewPort("output", midi.ModeOutput, 0, nil)
	input := midi.NewPort("input", midi.ModeInput, 0, nil)
	unknown := midi.NewPort("unknown", midi.ModeDuplex, 0, nil)
	require.NoError(t, c.AddPort(output))
	require.NoError(t, c.AddPort(input))

	assert.ErrorIs(t, c.SubscribeReadablePort(output, "0:1", false), ErrNotApplicable)
	assert.ErrorIs(t, c.SubscribeWriteablePort(input, "0:0", false), ErrNotApplicable)
	assert.ErrorIs(t, c.SubscribeReadablePort(unknown, "0:1", false), ErrNotApplicable)
	assert.ErrorIs(t, c.SubscribeWriteablePort(unknown, "0:0", false), ErrNotApplicable)

	// mode changed but not applied yet
	input.SetMode(midi.ModeOutput)
	assert.ErrorIs(t, c.SubscribeReadablePort(input, "0:1", false), ErrNotApplicable)
}
