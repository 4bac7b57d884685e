package alsa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/seq/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLister struct {
	mutex sync.Mutex
	ports []ListedPort
	err   error
}

func (f *fakeLister) set(ports ...ListedPort) {
	f.mutex.Lock()
	f.ports = ports
	f.mutex.Unlock()
}

func (f *fakeLister) ListPorts() ([]ListedPort, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.ports, f.err
}

func listed(client, port int, caps seq.Capability) ListedPort {
	return ListedPort{
		Info:       seq.PortInfo{Addr: seq.Addr{Client: client, Port: port}, Name: "port", Capability: caps},
		ClientName: "client",
	}
}

func TestPollerFilters(t *testing.T) {
	lister := &fakeLister{}
	lister.set(
		listed(20, 0, seq.CapRead|seq.CapSubsRead),
		listed(20, 1, seq.CapWrite|seq.CapSubsWrite),
		listed(20, 2, seq.CapRead|seq.CapWrite),
		listed(20, 3, outCaps|inCaps),
		listed(20, 4, seq.CapRead|seq.CapSubsWrite),
	)
	p := NewPoller(lister, time.Hour, zaptest.NewLogger(t))
	defer p.Close()

	changes, err := p.Update()
	require.NoError(t, err)
	assert.Equal(t, []Change{ReadablePortsChanged, WriteablePortsChanged}, changes)
	assert.Equal(t, []string{"20:0 client:port", "20:3 client:port"}, p.Readable())
	assert.Equal(t, []string{"20:1 client:port", "20:3 client:port"}, p.Writeable())
}

func TestPollerOrderSensitive(t *testing.T) {
	lister := &fakeLister{}
	p := NewPoller(lister, time.Hour, zaptest.NewLogger(t))
	defer p.Close()

	changes, err := p.Update()
	require.NoError(t, err)
	assert.Empty(t, changes)

	lister.set(listed(20, 0, outCaps), listed(21, 0, outCaps), listed(22, 0, inCaps))
	changes, err = p.Update()
	require.NoError(t, err)
	assert.Equal(t, []Change{ReadablePortsChanged, WriteablePortsChanged}, changes)

	changes, err = p.Update()
	require.NoError(t, err)
	assert.Empty(t, changes, "identical snapshot")

	// same set, different order
	lister.set(listed(21, 0, outCaps), listed(20, 0, outCaps), listed(22, 0, inCaps))
	changes, err = p.Update()
	require.NoError(t, err)
	assert.Equal(t, []Change{ReadablePortsChanged}, changes)
	assert.Equal(t, []string{"21:0 client:port", "20:0 client:port"}, p.Readable())

	lister.set(listed(21, 0, outCaps), listed(20, 0, outCaps))
	changes, err = p.Update()
	require.NoError(t, err)
	assert.Equal(t, []Change{WriteablePortsChanged}, changes)
	assert.Empty(t, p.Writeable())
}

func TestPollerNotifications(t *testing.T) {
	lister := &fakeLister{}
	p := NewPoller(lister, time.Hour, zaptest.NewLogger(t))

	id, notifications, err := p.Subscribe()
	require.NoError(t, err)

	lister.set(listed(20, 0, inCaps))
	_, err = p.Update()
	require.NoError(t, err)

	select {
	case c := <-notifications:
		assert.Equal(t, WriteablePortsChanged, c)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	require.NoError(t, p.Unsubscribe(id))

	_, notifications, err = p.Subscribe()
	require.NoError(t, err)
	p.Close()
	_, ok := <-notifications
	assert.False(t, ok)

	_, err = p.Update()
	assert.Error(t, err)
}

func TestPollerError(t *testing.T) {
	lister := &fakeLister{err: errors.New("enumeration broken")}
	p := NewPoller(lister, time.Hour, zaptest.NewLogger(t))
	defer p.Close()

	_, err := p.Update()
	assert.Error(t, err)
	assert.Empty(t, p.Readable())
}

func TestPollerRun(t *testing.T) {
	lister := &fakeLister{}
	p := NewPoller(lister, 10*time.Millisecond, zaptest.NewLogger(t))
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	lister.set(listed(30, 1, outCaps))
	assert.Eventually(t, func() bool {
		return len(p.Readable()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPollerWithConnection(t *testing.T) {
	s := loopback.NewServer()
	conn := openConn(t, s)
	far := peer(t, s, "synth")
	_, err := far.CreateSimplePort("in", inCaps, portType)
	require.NoError(t, err)

	p := NewPoller(conn, time.Hour, zaptest.NewLogger(t))
	defer p.Close()
	_, err = p.Update()
	require.NoError(t, err)

	assert.Equal(t, []string{"0:0 System:Timer", "0:1 System:Announce"}, p.Readable())
	assert.Equal(t, []string{"0:0 System:Timer", "129:0 synth:in"}, p.Writeable())
}
