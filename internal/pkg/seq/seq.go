// Package seq describes the sequencer service a MIDI client attaches to.
//
// The vocabulary follows the ALSA sequencer: clients own ports, ports carry capability bits,
// subscriptions link a sender port to a destination port and events may be scheduled on a
// timing queue. Backends implement Sequencer and register a Driver under a name.
package seq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrClosed         = errors.New("sequencer handle closed")
	ErrNoSuchClient   = errors.New("no such client")
	ErrNoSuchPort     = errors.New("no such port")
	ErrNoSuchQueue    = errors.New("no such queue")
	ErrExists         = errors.New("already exists")
	ErrNotSubscribed  = errors.New("not subscribed")
	ErrPermission     = errors.New("operation not permitted by port capabilities")
	ErrInvalidAddress = errors.New("invalid address")
	ErrUnknownDriver  = errors.New("unknown sequencer driver")
)

// Capability bits, values match the ALSA sequencer.
type Capability uint32

const (
	CapRead      Capability = 1 << 0
	CapWrite     Capability = 1 << 1
	CapSyncRead  Capability = 1 << 2
	CapSyncWrite Capability = 1 << 3
	CapDuplex    Capability = 1 << 4
	CapSubsRead  Capability = 1 << 5
	CapSubsWrite Capability = 1 << 6
	CapNoExport  Capability = 1 << 7
)

// Has reports whether all given bits are set.
func (c Capability) Has(bits Capability) bool {
	return c&bits == bits
}

func (c Capability) String() string {
	var flags []string
	for _, f := range []struct {
		bit  Capability
		name string
	}{
		{CapRead, "R"}, {CapWrite, "W"}, {CapSyncRead, "r"}, {CapSyncWrite, "w"},
		{CapDuplex, "D"}, {CapSubsRead, "SR"}, {CapSubsWrite, "SW"}, {CapNoExport, "X"},
	} {
		if c&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, "|")
}

type PortType uint32

const (
	TypeSpecific    PortType = 1 << 0
	TypeMidiGeneric PortType = 1 << 1
	TypeHardware    PortType = 1 << 16
	TypeSoftware    PortType = 1 << 17
	TypeSynthesizer PortType = 1 << 18
	TypePort        PortType = 1 << 19
	TypeApplication PortType = 1 << 20
)

// Special client and port numbers.
const (
	ClientSystem       = 0
	AddressUnknown     = 253
	AddressSubscribers = 254
	AddressBroadcast   = 255

	QueueDirect = 253
)

// Addr identifies a port of a client.
type Addr struct {
	Client int
	Port   int
}

func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.Client, a.Port)
}

// ParseAddress parses "client:port" form. Only the first whitespace delimited token is taken
// into account so descriptive text following an address is ignored. Client names are resolved
// with lookup if given, lookup may be nil.
func ParseAddress(s string, lookup func(name string) (int, bool)) (Addr, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Addr{}, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}
	token := fields[0]

	sep := strings.LastIndexAny(token, ":.")
	if sep <= 0 || sep == len(token)-1 {
		return Addr{}, fmt.Errorf("%w: \"%s\"", ErrInvalidAddress, token)
	}
	clientRaw, portRaw := token[:sep], token[sep+1:]

	port, err := strconv.Atoi(portRaw)
	if err != nil || port < 0 {
		return Addr{}, fmt.Errorf("%w: bad port \"%s\"", ErrInvalidAddress, portRaw)
	}

	client, err := strconv.Atoi(clientRaw)
	if err != nil {
		if lookup == nil {
			return Addr{}, fmt.Errorf("%w: bad client \"%s\"", ErrInvalidAddress, clientRaw)
		}
		id, ok := lookup(clientRaw)
		if !ok {
			return Addr{}, fmt.Errorf("%w: unknown client \"%s\"", ErrInvalidAddress, clientRaw)
		}
		client = id
	}
	if client < 0 {
		return Addr{}, fmt.Errorf("%w: bad client \"%s\"", ErrInvalidAddress, clientRaw)
	}

	return Addr{Client: client, Port: port}, nil
}

type ClientInfo struct {
	Client int
	Name   string
}

type PortInfo struct {
	Addr       Addr
	Name       string
	Capability Capability
	Type       PortType
}

// QueueTempo holds tempo in microseconds per quarter note and queue resolution.
type QueueTempo struct {
	Tempo uint32
	PPQ   int
}

type OpenMode int

const (
	OpenOutput OpenMode = 1 << iota
	OpenInput
	OpenDuplex = OpenOutput | OpenInput
)

// Sequencer is an open handle to the sequencer service.
//
// Implementations must tolerate EventInput running on one goroutine while other methods are
// invoked from another one. Everything else may be serialized by the caller.
type Sequencer interface {
	ClientID() int
	SetClientName(name string) error

	CreateSimplePort(name string, caps Capability, typ PortType) (int, error)
	DeletePort(port int) error
	PortInfo(port int) (PortInfo, error)
	SetPortInfo(port int, info PortInfo) error

	ParseAddress(s string) (Addr, error)
	Subscribe(sender, dest Addr) error
	Unsubscribe(sender, dest Addr) error

	AllocQueue() (int, error)
	FreeQueue(queue int) error
	SetQueueTempo(queue int, tempo QueueTempo) error
	ChangeQueueTempo(queue int, tempo uint32) error
	StartQueue(queue int) error
	StopQueue(queue int) error

	EventOutput(ev Event) error
	DrainOutput() error
	// EventInput blocks until an event addressed to one of own ports arrives, ctx is done or
	// the handle is closed.
	EventInput(ctx context.Context) (Event, error)

	Clients() ([]ClientInfo, error)
	Ports(client int) ([]PortInfo, error)

	Close() error
}

// Driver opens sequencer handles. device is backend specific, "default" must always work.
type Driver interface {
	Open(device string, mode OpenMode) (Sequencer, error)
}

type DriverFunc func(device string, mode OpenMode) (Sequencer, error)

func (f DriverFunc) Open(device string, mode OpenMode) (Sequencer, error) {
	return f(device, mode)
}

var (
	driversMutex sync.RWMutex
	drivers      = make(map[string]Driver)
)

// Register makes driver available by name, it panics on duplicates.
func Register(name string, d Driver) {
	driversMutex.Lock()
	defer driversMutex.Unlock()
	if d == nil {
		panic("seq: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("seq: Register called twice for driver " + name)
	}
	drivers[name] = d
}

func Get(name string) (Driver, error) {
	driversMutex.RLock()
	defer driversMutex.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: \"%s\"", ErrUnknownDriver, name)
	}
	return d, nil
}

// Drivers returns sorted names of registered drivers.
func Drivers() []string {
	driversMutex.RLock()
	defer driversMutex.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
