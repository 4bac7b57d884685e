package midi

import (
	"fmt"
	"strings"
	"sync"
)

type Mode int

const (
	ModeNone Mode = iota
	ModeInput
	ModeOutput
	ModeDuplex
)

var modeToString = map[Mode]string{
	ModeNone:   "none",
	ModeInput:  "input",
	ModeOutput: "output",
	ModeDuplex: "duplex",
}

func (m Mode) String() string {
	s, ok := modeToString[m]
	if !ok {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return s
}

// Receives tells whether port in this mode accepts events from the sequencer.
func (m Mode) Receives() bool {
	return m == ModeInput || m == ModeDuplex
}

// Sends tells whether port in this mode emits events into the sequencer.
func (m Mode) Sends() bool {
	return m == ModeOutput || m == ModeDuplex
}

func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return ModeNone, nil
	}
	for m, v := range modeToString {
		if v == name {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown port mode \"%s\"", s)
}

// InboundHandler consumes events arriving at a port.
type InboundHandler interface {
	ProcessInEvent(ev Event, t Time)
}

type HandlerFunc func(ev Event, t Time)

func (f HandlerFunc) ProcessInEvent(ev Event, t Time) {
	f(ev, t)
}

// Port is an application level MIDI endpoint, it is referenced by pointer identity.
// All accessors are safe for concurrent use.
type Port struct {
	mutex         sync.RWMutex
	name          string
	mode          Mode
	outputChannel uint8
	handler       InboundHandler
}

func NewPort(name string, mode Mode, outputChannel uint8, handler InboundHandler) *Port {
	return &Port{
		name:          name,
		mode:          mode,
		outputChannel: outputChannel & 0x0f,
		handler:       handler,
	}
}

func (p *Port) Name() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.name
}

func (p *Port) SetName(name string) {
	p.mutex.Lock()
	p.name = name
	p.mutex.Unlock()
}

func (p *Port) Mode() Mode {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.mode
}

func (p *Port) SetMode(mode Mode) {
	p.mutex.Lock()
	p.mode = mode
	p.mutex.Unlock()
}

// OutputChannel returns 0-based channel used for outgoing events.
func (p *Port) OutputChannel() uint8 {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.outputChannel
}

func (p *Port) SetOutputChannel(channel uint8) {
	p.mutex.Lock()
	p.outputChannel = channel & 0x0f
	p.mutex.Unlock()
}

func (p *Port) SetHandler(h InboundHandler) {
	p.mutex.Lock()
	p.handler = h
	p.mutex.Unlock()
}

// ProcessInEvent forwards event to the handler, ports without handler swallow everything.
func (p *Port) ProcessInEvent(ev Event, t Time) {
	p.mutex.RLock()
	h := p.handler
	p.mutex.RUnlock()
	if h != nil {
		h.ProcessInEvent(ev, t)
	}
}

func (p *Port) String() string {
	return fmt.Sprintf("%s (%s)", p.Name(), p.Mode())
}
