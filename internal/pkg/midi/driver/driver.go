package driver

import (
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
)

// Client is what the application expects from any MIDI backend client.
type Client interface {
	Name() string

	AddPort(port *midi.Port) error
	RemovePort(port *midi.Port)
	ApplyPortMode(port *midi.Port) error
	ApplyPortName(port *midi.Port) error

	// ProcessOutEvent schedules ev at tick t on behalf of port.
	ProcessOutEvent(ev midi.Event, t midi.Time, port *midi.Port) error

	ReadablePorts() []string
	WriteablePorts() []string
	SubscribeReadablePort(port *midi.Port, address string, unsubscribe bool) error
	SubscribeWriteablePort(port *midi.Port, address string, unsubscribe bool) error

	Close() error
}

// Base keeps track of ports handed to a client, independent of any backend.
type Base struct {
	mutex sync.RWMutex
	ports []*midi.Port
}

// AddPort registers port, adding the same port twice is a no-op.
func (b *Base) AddPort(port *midi.Port) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, p := range b.ports {
		if p == port {
			return
		}
	}
	b.ports = append(b.ports, port)
}

// RemovePort forgets port, unknown ports are ignored.
func (b *Base) RemovePort(port *midi.Port) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for i, p := range b.ports {
		if p == port {
			b.ports = append(b.ports[:i], b.ports[i+1:]...)
			return
		}
	}
}

// Ports returns registered ports in registration order.
func (b *Base) Ports() []*midi.Port {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	ports := make([]*midi.Port, len(b.ports))
	copy(ports, b.ports)
	return ports
}

// FindPort returns first port with given name.
func (b *Base) FindPort(name string) (*midi.Port, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	for _, p := range b.ports {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
