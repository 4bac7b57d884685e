package alsa

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"go.uber.org/zap"
)

// NoPort marks absent side of PortIDs.
const NoPort = -1

const (
	inCaps   = seq.CapWrite | seq.CapSubsWrite
	outCaps  = seq.CapRead | seq.CapSubsRead
	portType = seq.TypeMidiGeneric | seq.TypeApplication
)

// PortIDs holds backend ports created for a single application port.
// In receives events from the sequencer, Out emits them.
type PortIDs struct {
	In, Out int
}

var noPorts = PortIDs{In: NoPort, Out: NoPort}

func (p PortIDs) Empty() bool {
	return p.In == NoPort && p.Out == NoPort
}

// Has matches id against both sides.
func (p PortIDs) Has(id int) bool {
	return id != NoPort && (p.In == id || p.Out == id)
}

// Registry maps application ports to backend ports.
type Registry struct {
	conn *Connection
	log  *zap.Logger

	mutex sync.RWMutex
	ports map[*midi.Port]PortIDs
	index map[int]*midi.Port
}

func NewRegistry(conn *Connection, log *zap.Logger) *Registry {
	return &Registry{
		conn:  conn,
		log:   log,
		ports: make(map[*midi.Port]PortIDs),
		index: make(map[int]*midi.Port),
	}
}

// store has to be called with mutex held
func (r *Registry) store(port *midi.Port, ids PortIDs) {
	if old, ok := r.ports[port]; ok {
		delete(r.index, old.In)
		delete(r.index, old.Out)
	}
	if ids.Empty() {
		delete(r.ports, port)
		return
	}
	r.ports[port] = ids
	if ids.In != NoPort {
		r.index[ids.In] = port
	}
	if ids.Out != NoPort {
		r.index[ids.Out] = port
	}
}

// applySide creates, updates or deletes one backend port so it matches needed state.
func (r *Registry) applySide(id int, needed bool, caps seq.Capability, name string) (int, error) {
	switch {
	case needed && id == NoPort:
		err := r.conn.with(func(h seq.Sequencer) error {
			var err error
			id, err = h.CreateSimplePort(name, caps, portType)
			return err
		})
		if err != nil {
			return NoPort, fmt.Errorf("create port: %w", err)
		}
		return id, nil
	case needed:
		err := r.conn.with(func(h seq.Sequencer) error {
			info, err := h.PortInfo(id)
			if err != nil {
				return err
			}
			info.Capability = caps
			return h.SetPortInfo(id, info)
		})
		if err != nil {
			return id, fmt.Errorf("update port %d: %w", id, err)
		}
		return id, nil
	case id != NoPort:
		err := r.conn.with(func(h seq.Sequencer) error {
			return h.DeletePort(id)
		})
		if err != nil {
			return NoPort, fmt.Errorf("delete port %d: %w", id, err)
		}
		return NoPort, nil
	}
	return id, nil
}

// ApplyMode makes backend ports reflect current mode of port.
func (r *Registry) ApplyMode(port *midi.Port) error {
	mode, name := port.Mode(), port.Name()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids, ok := r.ports[port]
	if !ok {
		ids = noPorts
	}

	in, inErr := r.applySide(ids.In, mode.Receives(), inCaps, name)
	out, outErr := r.applySide(ids.Out, mode.Sends(), outCaps, name)
	r.store(port, PortIDs{In: in, Out: out})

	err := errors.Join(inErr, outErr)
	if err != nil {
		r.log.Info("cannot apply port mode", zap.String("port", name), zap.Stringer("mode", mode), zap.Error(err), logger.Warning)
		return err
	}
	r.log.Info("port mode applied", zap.String("port", name), zap.Stringer("mode", mode), zap.Int("in", in), zap.Int("out", out), logger.Debug)
	return nil
}

// ApplyName renames every backend port of port, unknown ports are ignored.
func (r *Registry) ApplyName(port *midi.Port) error {
	name := port.Name()

	r.mutex.RLock()
	ids, ok := r.ports[port]
	r.mutex.RUnlock()
	if !ok {
		return nil
	}

	var errs []error
	for _, id := range []int{ids.In, ids.Out} {
		if id == NoPort {
			continue
		}
		err := r.conn.with(func(h seq.Sequencer) error {
			info, err := h.PortInfo(id)
			if err != nil {
				return err
			}
			info.Name = name
			return h.SetPortInfo(id, info)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("rename port %d: %w", id, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		r.log.Info("cannot rename port", zap.String("port", name), zap.Error(err), logger.Warning)
	}
	return err
}

// Remove deletes backend ports of port on best-effort basis and forgets it.
func (r *Registry) Remove(port *midi.Port) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids, ok := r.ports[port]
	if !ok {
		return nil
	}

	var errs []error
	for _, id := range []int{ids.In, ids.Out} {
		if id == NoPort {
			continue
		}
		err := r.conn.with(func(h seq.Sequencer) error {
			return h.DeletePort(id)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete port %d: %w", id, err))
		}
	}
	r.store(port, noPorts)

	err := errors.Join(errs...)
	if err != nil {
		r.log.Info("port removed with errors", zap.String("port", port.Name()), zap.Error(err), logger.Warning)
	}
	return err
}

// Lookup finds application port owning backend port id, both sides are matched.
func (r *Registry) Lookup(id int) (*midi.Port, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	port, ok := r.index[id]
	return port, ok
}

func (r *Registry) IDs(port *midi.Port) (PortIDs, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ids, ok := r.ports[port]
	return ids, ok
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.ports)
}
