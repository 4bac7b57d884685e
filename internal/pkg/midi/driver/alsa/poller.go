package alsa

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/gethiox/seqmidi/internal/pkg/utils"
	"go.uber.org/zap"
)

// Change tells which port snapshot changed.
type Change int

const (
	ReadablePortsChanged Change = iota + 1
	WriteablePortsChanged
)

func (c Change) String() string {
	switch c {
	case ReadablePortsChanged:
		return "readable ports changed"
	case WriteablePortsChanged:
		return "writeable ports changed"
	default:
		return fmt.Sprintf("Change(%d)", int(c))
	}
}

// ListedPort is a single enumerated port together with the name of its client.
type ListedPort struct {
	Info       seq.PortInfo
	ClientName string
}

// Descriptor renders port as "<client>:<port> <client name>:<port name>".
func (p ListedPort) Descriptor() string {
	return fmt.Sprintf("%d:%d %s:%s", p.Info.Addr.Client, p.Info.Addr.Port, p.ClientName, p.Info.Name)
}

func (p ListedPort) Readable() bool {
	return p.Info.Capability.Has(seq.CapRead | seq.CapSubsRead)
}

func (p ListedPort) Writeable() bool {
	return p.Info.Capability.Has(seq.CapWrite | seq.CapSubsWrite)
}

type PortLister interface {
	ListPorts() ([]ListedPort, error)
}

// Poller keeps snapshots of subscribable ports and reports when they change.
// Snapshots are compared with respect to order.
type Poller struct {
	lister   PortLister
	interval time.Duration
	log      *zap.Logger

	mutex     sync.RWMutex
	readable  []string
	writeable []string
	closed    bool

	changes chan Change
	fan     *utils.DynamicFanOut[Change]
}

func NewPoller(lister PortLister, interval time.Duration, log *zap.Logger) *Poller {
	changes := make(chan Change, 8)
	return &Poller{
		lister:   lister,
		interval: interval,
		log:      log,
		changes:  changes,
		fan:      utils.NewDynamicFanOut[Change](changes),
	}
}

// Update takes a single snapshot and returns notifications it emitted.
func (p *Poller) Update() ([]Change, error) {
	ports, err := p.lister.ListPorts()
	if err != nil {
		return nil, err
	}

	var readable, writeable []string
	for _, port := range ports {
		if port.Readable() {
			readable = append(readable, port.Descriptor())
		}
		if port.Writeable() {
			writeable = append(writeable, port.Descriptor())
		}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.closed {
		return nil, utils.ErrClosed
	}

	var emitted []Change
	if !slices.Equal(p.readable, readable) {
		p.readable = readable
		emitted = append(emitted, ReadablePortsChanged)
	}
	if !slices.Equal(p.writeable, writeable) {
		p.writeable = writeable
		emitted = append(emitted, WriteablePortsChanged)
	}
	for _, c := range emitted {
		p.log.Info(c.String(), logger.Debug)
		p.changes <- c
	}
	return emitted, nil
}

// Run updates snapshots right away and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Update(); err != nil {
			p.log.Info("port enumeration failed", zap.Error(err), logger.Warning)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) Readable() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return slices.Clone(p.readable)
}

func (p *Poller) Writeable() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return slices.Clone(p.writeable)
}

// Subscribe returns channel receiving snapshot change notifications.
func (p *Poller) Subscribe() (int64, <-chan Change, error) {
	return p.fan.SpawnOutput()
}

func (p *Poller) Unsubscribe(id int64) error {
	return p.fan.DespawnOutput(id)
}

// Close releases subscribers, Update fails afterwards.
func (p *Poller) Close() {
	p.mutex.Lock()
	if !p.closed {
		p.closed = true
		close(p.changes)
	}
	p.mutex.Unlock()
	<-p.fan.Done()
}
