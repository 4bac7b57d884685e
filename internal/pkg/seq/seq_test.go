package seq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddress(t *testing.T) {
	lookup := func(name string) (int, bool) {
		if name == "Midi Through" {
			return 14, true
		}
		return 0, false
	}

	for _, tc := range []struct {
		input    string
		expected Addr
		err      bool
	}{
		{input: "128:0", expected: Addr{128, 0}},
		{input: "20:1 USB Keystation:USB Keystation MIDI 1", expected: Addr{20, 1}},
		{input: "  14:0\tthrough", expected: Addr{14, 0}},
		{input: "14.2", expected: Addr{14, 2}},
		{input: "Midi:0", err: true},
		{input: "", err: true},
		{input: "128", err: true},
		{input: "128:", err: true},
		{input: ":1", err: true},
		{input: "128:x", err: true},
		{input: "-1:0", err: true},
		{input: "128:-3", err: true},
	} {
		t.Run(tc.input, func(t *testing.T) {
			addr, err := ParseAddress(tc.input, lookup)
			if tc.err {
				assert.True(t, errors.Is(err, ErrInvalidAddress), "got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, addr)
		})
	}
}

func TestParseAddressWithoutLookup(t *testing.T) {
	_, err := ParseAddress("Through:0", nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestCapability(t *testing.T) {
	c := CapRead | CapSubsRead | CapWrite
	assert.True(t, c.Has(CapRead|CapSubsRead))
	assert.False(t, c.Has(CapWrite|CapSubsWrite))
	assert.Equal(t, "R|W|SR", c.String())
}

func TestEventSetters(t *testing.T) {
	var ev Event
	ev.Clear()
	assert.Equal(t, QueueDirect, ev.Queue)

	ev.SetSource(3)
	ev.SetSubs()
	ev.ScheduleTick(1, false, 96)
	ev.SetNoteOn(2, 72, 100)

	assert.Equal(t, EventNoteOn, ev.Type)
	assert.True(t, ev.IsNote())
	assert.True(t, ev.ToSubscribers())
	assert.Equal(t, 3, ev.Source.Port)
	assert.Equal(t, uint32(96), ev.Tick)
	assert.True(t, ev.Scheduled)
	assert.Equal(t, NoteData{Channel: 2, Note: 72, Velocity: 100}, ev.Note)

	ev.SetPitchBend(2, -8192)
	assert.False(t, ev.IsNote())
	assert.Equal(t, int32(-8192), ev.Control.Value)
}

func TestRegistry(t *testing.T) {
	d := DriverFunc(func(string, OpenMode) (Sequencer, error) {
		return nil, errors.New("unused")
	})
	Register("test-registry", d)
	assert.Panics(t, func() { Register("test-registry", d) })

	got, err := Get("test-registry")
	assert.NoError(t, err)
	assert.NotNil(t, got)
	assert.Contains(t, Drivers(), "test-registry")

	_, err = Get("missing")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
