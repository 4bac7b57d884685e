package layout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/config"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/midi/driver"
	"go.uber.org/zap"
)

// HandlerFactory provides inbound handler for a newly created port.
type HandlerFactory func(name string) midi.InboundHandler

type applied struct {
	port *midi.Port
	spec PortSpec
}

// Manager keeps client ports in sync with the most recently applied layout.
type Manager struct {
	client  driver.Client
	handler HandlerFactory
	log     *zap.Logger

	mutex sync.Mutex
	ports map[string]*applied
	order []string
}

func NewManager(client driver.Client, handler HandlerFactory, log *zap.Logger) *Manager {
	return &Manager{
		client:  client,
		handler: handler,
		log:     log,
		ports:   make(map[string]*applied),
	}
}

func (m *Manager) subscribe(a *applied, readable, writeable []string, unsubscribe bool) []error {
	var errs []error
	for _, address := range readable {
		if err := m.client.SubscribeReadablePort(a.port, address, unsubscribe); err != nil {
			errs = append(errs, fmt.Errorf("port \"%s\" readable \"%s\": %w", a.spec.Name, address, err))
		}
	}
	for _, address := range writeable {
		if err := m.client.SubscribeWriteablePort(a.port, address, unsubscribe); err != nil {
			errs = append(errs, fmt.Errorf("port \"%s\" writeable \"%s\": %w", a.spec.Name, address, err))
		}
	}
	return errs
}

func missing(from, in []string) []string {
	var diff []string
	for _, v := range from {
		if !slices.Contains(in, v) {
			diff = append(diff, v)
		}
	}
	return diff
}

// Apply adds, updates and removes ports so they match l. Every port is processed even if
// some operations fail, all failures are returned together.
func (m *Manager) Apply(l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var errs []error
	wanted := make(map[string]bool)
	for _, spec := range l.Ports {
		wanted[spec.Name] = true
	}
	for _, name := range m.order {
		if wanted[name] {
			continue
		}
		a := m.ports[name]
		m.client.RemovePort(a.port)
		delete(m.ports, name)
		m.log.Info(fmt.Sprintf("port removed: %s", name), zap.String("port", name), logger.Info)
	}

	order := make([]string, 0, len(l.Ports))
	for _, spec := range l.Ports {
		order = append(order, spec.Name)
		mode, _ := spec.mode()

		a, ok := m.ports[spec.Name]
		if !ok {
			var handler midi.InboundHandler
			if m.handler != nil {
				handler = m.handler(spec.Name)
			}
			a = &applied{port: midi.NewPort(spec.Name, mode, spec.outputChannel(), handler), spec: spec}
			m.ports[spec.Name] = a
			if err := m.client.AddPort(a.port); err != nil {
				errs = append(errs, fmt.Errorf("port \"%s\": %w", spec.Name, err))
			}
			errs = append(errs, m.subscribe(a, spec.Readable, spec.Writeable, false)...)
			m.log.Info(fmt.Sprintf("port added: %s", a.port), zap.String("port", spec.Name), logger.Info)
			continue
		}

		a.port.SetOutputChannel(spec.outputChannel())
		if a.port.Mode() != mode {
			// backend ports may be recreated, links have to be made again
			errs = append(errs, m.subscribe(a, a.spec.Readable, a.spec.Writeable, true)...)
			a.port.SetMode(mode)
			if err := m.client.ApplyPortMode(a.port); err != nil {
				errs = append(errs, fmt.Errorf("port \"%s\": %w", spec.Name, err))
			}
			errs = append(errs, m.subscribe(a, spec.Readable, spec.Writeable, false)...)
			m.log.Info(fmt.Sprintf("port mode changed: %s", a.port), zap.String("port", spec.Name), logger.Info)
		} else {
			errs = append(errs, m.subscribe(a,
				missing(a.spec.Readable, spec.Readable), missing(a.spec.Writeable, spec.Writeable), true)...)
			errs = append(errs, m.subscribe(a,
				missing(spec.Readable, a.spec.Readable), missing(spec.Writeable, a.spec.Writeable), false)...)
		}
		a.spec = spec
	}
	m.order = order

	err := errors.Join(errs...)
	if err != nil {
		m.log.Info("layout applied with errors", zap.Error(err), logger.Warning)
	}
	return err
}

// Ports returns managed ports in layout order.
func (m *Manager) Ports() []*midi.Port {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ports := make([]*midi.Port, 0, len(m.order))
	for _, name := range m.order {
		ports = append(ports, m.ports[name].port)
	}
	return ports
}

func (m *Manager) Port(name string) (*midi.Port, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	a, ok := m.ports[name]
	if !ok {
		return nil, false
	}
	return a.port, true
}

// Follow loads and applies layout from path every time the file changes, until ctx is done.
func (m *Manager) Follow(ctx context.Context, path string) error {
	changes, err := config.Monitor(ctx, path)
	if err != nil {
		return err
	}
	for range changes {
		l, err := Load(path)
		if err != nil {
			m.log.Info("cannot reload layout", zap.String("path", path), zap.Error(err), logger.Warning)
			continue
		}
		_ = m.Apply(l)
	}
	return nil
}
