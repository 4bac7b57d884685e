package alsa

import (
	"testing"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func ownPorts(t *testing.T, conn *Connection) map[int]seq.PortInfo {
	t.Helper()
	ports := make(map[int]seq.PortInfo)
	require.NoError(t, conn.with(func(h seq.Sequencer) error {
		infos, err := h.Ports(h.ClientID())
		for _, info := range infos {
			ports[info.Addr.Port] = info
		}
		return err
	}))
	return ports
}

func TestApplyModeCapabilities(t *testing.T) {
	for _, tc := range []struct {
		mode    midi.Mode
		in, out bool
	}{
		{mode: midi.ModeDuplex, in: true, out: true},
		{mode: midi.ModeInput, in: true},
		{mode: midi.ModeOutput, out: true},
		{mode: midi.ModeNone},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			conn := openConn(t, loopback.NewServer())
			r := NewRegistry(conn, zaptest.NewLogger(t))
			port := midi.NewPort("keys", tc.mode, 0, nil)

			require.NoError(t, r.ApplyMode(port))
			ids, ok := r.IDs(port)
			assert.Equal(t, tc.in || tc.out, ok)
			if !ok {
				assert.Equal(t, 0, r.Len())
				assert.Empty(t, ownPorts(t, conn))
				return
			}

			backend := ownPorts(t, conn)
			if tc.in {
				require.NotEqual(t, NoPort, ids.In)
				assert.Equal(t, inCaps, backend[ids.In].Capability)
				assert.Equal(t, portType, backend[ids.In].Type)
				assert.Equal(t, "keys", backend[ids.In].Name)
			} else {
				assert.Equal(t, NoPort, ids.In)
			}
			if tc.out {
				require.NotEqual(t, NoPort, ids.Out)
				assert.Equal(t, outCaps, backend[ids.Out].Capability)
			} else {
				assert.Equal(t, NoPort, ids.Out)
			}
		})
	}
}

func TestApplyModeTransitions(t *testing.T) {
	conn := openConn(t, loopback.NewServer())
	r := NewRegistry(conn, zaptest.NewLogger(t))
	port := midi.NewPort("pads", midi.ModeDuplex, 0, nil)

	require.NoError(t, r.ApplyMode(port))
	duplex, _ := r.IDs(port)

	port.SetMode(midi.ModeInput)
	require.NoError(t, r.ApplyMode(port))
	input, ok := r.IDs(port)
	require.True(t, ok)
	assert.Equal(t, PortIDs{In: duplex.In, Out: NoPort}, input)
	assert.Len(t, ownPorts(t, conn), 1)

	lookedUp, ok := r.Lookup(duplex.Out)
	assert.False(t, ok)
	assert.Nil(t, lookedUp)

	port.SetMode(midi.ModeOutput)
	require.NoError(t, r.ApplyMode(port))
	output, _ := r.IDs(port)
	assert.Equal(t, NoPort, output.In)
	assert.NotEqual(t, NoPort, output.Out)

	port.SetMode(midi.ModeNone)
	require.NoError(t, r.ApplyMode(port))
	_, ok = r.IDs(port)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, ownPorts(t, conn))
}

func TestLookupBothSides(t *testing.T) {
	conn := openConn(t, loopback.NewServer())
	r := NewRegistry(conn, zaptest.NewLogger(t))
	a := midi.NewPort("a", midi.ModeDuplex, 0, nil)
	b := midi.NewPort("b", midi.ModeInput, 0, nil)
	require.NoError(t, r.ApplyMode(a))
	require.NoError(t, r.ApplyMode(b))

	ids, _ := r.IDs(a)
	for _, id := range []int{ids.In, ids.Out} {
		got, ok := r.Lookup(id)
		assert.True(t, ok)
		assert.Same(t, a, got)
	}
	ids, _ = r.IDs(b)
	got, ok := r.Lookup(ids.In)
	assert.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Lookup(NoPort)
	assert.False(t, ok)
	_, ok = r.Lookup(99)
	assert.False(t, ok)
}

func TestApplyName(t *testing.T) {
	conn := openConn(t, loopback.NewServer())
	r := NewRegistry(conn, zaptest.NewLogger(t))
	port := midi.NewPort("old", midi.ModeDuplex, 0, nil)
	require.NoError(t, r.ApplyMode(port))

	port.SetName("new")
	require.NoError(t, r.ApplyName(port))
	for _, info := range ownPorts(t, conn) {
		assert.Equal(t, "new", info.Name)
	}
}

func TestRemoveClearsState(t *testing.T) {
	conn := openConn(t, loopback.NewServer())
	r := NewRegistry(conn, zaptest.NewLogger(t))
	port := midi.NewPort("gone", midi.ModeDuplex, 0, nil)
	require.NoError(t, r.ApplyMode(port))
	ids, _ := r.IDs(port)

	require.NoError(t, r.Remove(port))
	_, ok := r.IDs(port)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, ownPorts(t, conn))
	_, ok = r.Lookup(ids.In)
	assert.False(t, ok)

	assert.NoError(t, r.ApplyName(port))
	assert.NoError(t, r.Remove(port))
}

func TestRemoveBestEffort(t *testing.T) {
	conn := openConn(t, loopback.NewServer())
	r := NewRegistry(conn, zaptest.NewLogger(t))
	port := midi.NewPort("half", midi.ModeDuplex, 0, nil)
	require.NoError(t, r.ApplyMode(port))
	ids, _ := r.IDs(port)

	// one side disappears behind the registry's back
	require.NoError(t, conn.with(func(h seq.Sequencer) error {
		return h.DeletePort(ids.In)
	}))

	err := r.Remove(port)
	assert.ErrorIs(t, err, seq.ErrNoSuchPort)
	_, ok := r.IDs(port)
	assert.False(t, ok)
	assert.Empty(t, ownPorts(t, conn))
}
