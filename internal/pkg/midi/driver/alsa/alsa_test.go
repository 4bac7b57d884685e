package alsa

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/config"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryStore map[string]string

func (m memoryStore) Value(section, key string) (string, bool) {
	v, ok := m[section+"."+key]
	return v, ok
}

func (m memoryStore) SetValue(section, key, value string) {
	m[section+"."+key] = value
}

func (m memoryStore) Save() error {
	return nil
}

func TestNewDisabledOnOpenFailure(t *testing.T) {
	c, err := New(
		WithLogger(zaptest.NewLogger(t)),
		WithDriver(loopback.NewServer()),
		WithSettings(memoryStore{"midi-backend-seq.device": "hw:5"}),
	)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Nil(t, c)
	assert.NoError(t, c.Close())
}

func TestNewUnknownDriver(t *testing.T) {
	_, err := New(WithLogger(zaptest.NewLogger(t)), WithDevice("default"))
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, seq.ErrUnknownDriver)
}

func TestNewDeviceProbing(t *testing.T) {
	s := loopback.NewServer()
	c, err := New(
		WithLogger(zaptest.NewLogger(t)),
		WithDriver(s),
		WithSettings(memoryStore{}),
		WithEnv(func(key string) string {
			if key == config.DeviceEnv {
				return "loopback"
			}
			return ""
		}),
	)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "loopback", c.Device())
	assert.Equal(t, DefaultClientName, c.Name())
	assert.Equal(t, Running, c.State())
}

func TestClientTempo(t *testing.T) {
	s := loopback.NewServer()
	b, err := tempo.NewBroadcaster(120)
	require.NoError(t, err)
	defer b.Close()

	c := newClient(t, s, WithTempo(b), WithBPM(90))

	queueTempo := func() uint32 {
		qt, _, err := s.Queue(0)
		require.NoError(t, err)
		return qt.Tempo
	}
	assert.Equal(t, uint32(500000), queueTempo())

	require.NoError(t, b.SetBPM(150))
	assert.Eventually(t, func() bool {
		return queueTempo() == 400000
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SetTempo(120))
	assert.Equal(t, uint32(500000), queueTempo())
}

func TestClientTempoBurst(t *testing.T) {
	s := loopback.NewServer()
	b, err := tempo.NewBroadcaster(60)
	require.NoError(t, err)
	defer b.Close()

	newClient(t, s, WithTempo(b))

	for bpm := 61; bpm <= 400; bpm++ {
		require.NoError(t, b.SetBPM(bpm))
	}

	expected, err := TempoFromBPM(400)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		qt, _, err := s.Queue(0)
		return err == nil && qt.Tempo == expected
	}, time.Second, 5*time.Millisecond)
}

func TestClientClose(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	id := c.ClientID()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Stopped, c.State())

	far := peer(t, s, "far")
	clients, err := far.Clients()
	require.NoError(t, err)
	for _, info := range clients {
		assert.NotEqual(t, id, info.Client)
	}
}

func TestClientPorts(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)

	keys := midi.NewPort("keys", midi.ModeDuplex, 0, nil)
	require.NoError(t, c.AddPort(keys))
	assert.Equal(t, []*midi.Port{keys}, c.Ports())

	require.NoError(t, c.Refresh())
	own := c.ClientID()
	ids, _ := c.Registry().IDs(keys)
	assert.Contains(t, c.ReadablePorts(), fmt.Sprintf("%d:%d seqmidi:keys", own, ids.Out))
	assert.Contains(t, c.WriteablePorts(), fmt.Sprintf("%d:%d seqmidi:keys", own, ids.In))

	keys.SetName("pads")
	require.NoError(t, c.ApplyPortName(keys))
	keys.SetMode(midi.ModeInput)
	require.NoError(t, c.ApplyPortMode(keys))
	require.NoError(t, c.Refresh())
	assert.NotContains(t, c.ReadablePorts(), fmt.Sprintf("%d:%d seqmidi:keys", own, ids.Out))
	assert.Contains(t, c.WriteablePorts(), fmt.Sprintf("%d:%d seqmidi:pads", own, ids.In))

	c.RemovePort(keys)
	assert.Empty(t, c.Ports())
	assert.Equal(t, 0, c.Registry().Len())

	// removed port is a no-op for everything
	assert.NoError(t, c.ApplyPortName(keys))
	assert.NoError(t, c.ProcessOutEvent(midi.NoteEvent(midi.NoteOn, 0, 60, 100), 0, keys))
}

func TestClientChanges(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	require.NoError(t, c.Refresh())

	id, changes, err := c.SubscribeChanges()
	require.NoError(t, err)
	defer func() { _ = c.UnsubscribeChanges(id) }()

	require.NoError(t, c.AddPort(midi.NewPort("out", midi.ModeOutput, 0, nil)))
	require.NoError(t, c.Refresh())

	select {
	case change := <-changes:
		assert.Equal(t, ReadablePortsChanged, change)
	case <-time.After(time.Second):
		t.Fatal("no change reported")
	}
}

func TestSendToSubscriber(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	far := peer(t, s, "synth")
	in, err := far.CreateSimplePort("in", inCaps, portType)
	require.NoError(t, err)

	lead := midi.NewPort("lead", midi.ModeOutput, 9, nil)
	require.NoError(t, c.AddPort(lead))
	require.NoError(t, c.SubscribeWriteablePort(lead, fmt.Sprintf("%d:%d synth:in", far.ClientID(), in), false))

	require.NoError(t, c.ProcessOutEvent(midi.NoteEvent(midi.NoteOn, 0, 60, 100), 32, lead))
	ev := receive(t, far)
	assert.Equal(t, seq.EventNoteOn, ev.Type)
	assert.Equal(t, seq.NoteData{Channel: 9, Note: 72, Velocity: 100}, ev.Note)
	assert.True(t, ev.Scheduled)
	assert.Equal(t, uint32(32), ev.Tick)

	err = c.ProcessOutEvent(midi.ControlChangeEvent(0, 7, 100), 0, lead)
	assert.ErrorIs(t, err, ErrUnsupportedOutput)

	input := midi.NewPort("input", midi.ModeInput, 0, nil)
	require.NoError(t, c.AddPort(input))
	err = c.ProcessOutEvent(midi.NoteEvent(midi.NoteOn, 0, 60, 100), 0, input)
	assert.ErrorIs(t, err, ErrNotApplicable)
}

func TestConcurrentSendAndTempo(t *testing.T) {
	const (
		producers = 4
		events    = 50
	)
	s := loopback.NewServer()
	c := newClient(t, s)
	far := peer(t, s, "synth")
	in, err := far.CreateSimplePort("in", inCaps, portType)
	require.NoError(t, err)

	ports := make([]*midi.Port, producers)
	for i := range ports {
		ports[i] = midi.NewPort(fmt.Sprintf("voice %d", i), midi.ModeOutput, uint8(i), nil)
		require.NoError(t, c.AddPort(ports[i]))
		require.NoError(t, c.SubscribeWriteablePort(ports[i], fmt.Sprintf("%d:%d", far.ClientID(), in), false))
	}

	var wg sync.WaitGroup
	for i, port := range ports {
		wg.Add(1)
		go func(i int, port *midi.Port) {
			defer wg.Done()
			for j := 0; j < events; j++ {
				ev := midi.NoteEvent(midi.NoteOn, 0, 40+i, uint8(j+1))
				assert.NoError(t, c.ProcessOutEvent(ev, midi.Time(j), port))
			}
		}(i, port)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for bpm := 100; bpm < 200; bpm++ {
			assert.NoError(t, c.SetTempo(bpm))
		}
	}()
	wg.Wait()

	velocities := make(map[uint8][]uint8)
	for n := 0; n < producers*events; n++ {
		ev := receive(t, far)
		require.Equal(t, seq.EventNoteOn, ev.Type)
		assert.Equal(t, 52+ev.Note.Channel, ev.Note.Note, "channel %d", ev.Note.Channel)
		velocities[ev.Note.Channel] = append(velocities[ev.Note.Channel], ev.Note.Velocity)
	}
	require.Len(t, velocities, producers)
	for ch, got := range velocities {
		want := make([]uint8, events)
		for j := range want {
			want[j] = uint8(j + 1)
		}
		assert.Equal(t, want, got, "channel %d", ch)
	}

	expected, err := TempoFromBPM(199)
	require.NoError(t, err)
	qt, _, err := s.Queue(0)
	require.NoError(t, err)
	assert.Equal(t, expected, qt.Tempo)
}

func TestReceiveFromSubscription(t *testing.T) {
	s := loopback.NewServer()
	c := newClient(t, s)
	far := peer(t, s, "keyboard")
	out, err := far.CreateSimplePort("out", outCaps, portType)
	require.NoError(t, err)

	handler, events := recorder()
	port := midi.NewPort("rec", midi.ModeInput, 0, handler)
	require.NoError(t, c.AddPort(port))
	require.NoError(t, c.SubscribeReadablePort(port, "keyboard:0", false))

	var ev seq.Event
	ev.Clear()
	ev.SetSource(out)
	ev.SetSubs()
	ev.SetNoteOff(4, 64, 10)
	ev.ScheduleTick(0, false, 8)
	require.NoError(t, far.EventOutput(ev))
	require.NoError(t, far.DrainOutput())

	got := await(t, events)
	assert.Equal(t, midi.NoteEvent(midi.NoteOff, 4, 52, 10), got.ev)
	assert.Equal(t, midi.Time(8), got.t)
}
