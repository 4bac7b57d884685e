// Package alsa is a MIDI client attached to a sequencer service.
//
// Client exposes application ports as sequencer ports, sends their events through a timing queue,
// routes received events back to them and keeps track of ports available for subscription.
package alsa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/midi/driver"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	"go.uber.org/zap"
)

type Client struct {
	driver.Base

	log        *zap.Logger
	name       string
	device     string
	grace      time.Duration
	conn       *Connection
	registry   *Registry
	poller     *Poller
	dispatcher *Dispatcher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ driver.Client = (*Client)(nil)

// New opens the sequencer, starts the queue, the receive loop and port polling.
// On failure the client is unusable, nothing is retried.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.resolve(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	log := o.log

	conn, err := Open(o.driver, o.clientName, o.device, log)
	if err != nil {
		log.Info("sequencer unavailable, client disabled", zap.String("device", o.device), zap.Error(err), logger.Error)
		return nil, err
	}
	if err = conn.CreateQueue(o.bpm); err != nil {
		log.Info("cannot create queue", zap.Int("bpm", o.bpm), zap.Error(err), logger.Error)
		_ = conn.Close()
		return nil, fmt.Errorf("create queue: %w", err)
	}

	registry := NewRegistry(conn, log)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:        log,
		name:       o.clientName,
		device:     o.device,
		grace:      o.grace,
		conn:       conn,
		registry:   registry,
		poller:     NewPoller(conn, o.pollInterval, log),
		dispatcher: NewDispatcher(conn, registry, log),
		cancel:     cancel,
	}
	c.dispatcher.Start()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poller.Run(ctx)
	}()

	if o.tempo != nil {
		id, changes, err := o.tempo.Subscribe()
		if err != nil {
			log.Info("cannot follow tempo", zap.Error(err), logger.Warning)
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.followTempo(ctx, o.tempo, changes)
				_ = o.tempo.Unsubscribe(id)
			}()
		}
	}

	log.Info("client ready", zap.String("device", o.device), zap.Int("client", conn.ClientID()), zap.Int("bpm", o.bpm), logger.Info)
	return c, nil
}

// followTempo applies current tempo of src every time it reports a change.
func (c *Client) followTempo(ctx context.Context, src tempo.Source, changes <-chan int) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			bpm := src.BPM()
			if err := c.conn.SetTempo(bpm); err != nil {
				c.log.Info("cannot change tempo", zap.Int("bpm", bpm), zap.Error(err), logger.Warning)
				continue
			}
			c.log.Info(fmt.Sprintf("tempo changed (%d bpm)", bpm), logger.Debug)
		}
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Device() string {
	return c.device
}

func (c *Client) ClientID() int {
	return c.conn.ClientID()
}

// State reports state of the receive loop.
func (c *Client) State() State {
	return c.dispatcher.State()
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// AddPort registers port and creates its backend ports according to its mode.
func (c *Client) AddPort(port *midi.Port) error {
	c.Base.AddPort(port)
	return c.registry.ApplyMode(port)
}

func (c *Client) RemovePort(port *midi.Port) {
	_ = c.registry.Remove(port)
	c.Base.RemovePort(port)
}

func (c *Client) ApplyPortMode(port *midi.Port) error {
	return c.registry.ApplyMode(port)
}

func (c *Client) ApplyPortName(port *midi.Port) error {
	return c.registry.ApplyName(port)
}

// ProcessOutEvent sends ev from the output side of port. Ports that are not registered are ignored.
func (c *Client) ProcessOutEvent(ev midi.Event, t midi.Time, port *midi.Port) error {
	ids, ok := c.registry.IDs(port)
	if !ok {
		return nil
	}
	if ids.Out == NoPort {
		return fmt.Errorf("%w: %s has no output", ErrNotApplicable, port)
	}

	err := c.conn.Send(ev, t, port.OutputChannel(), ids.Out)
	if err != nil {
		c.log.Info("event dropped", zap.String("port", port.Name()), zap.String("event", ev.String()), zap.Error(err), logger.Warning)
		return err
	}
	c.log.Info(ev.String(), zap.String("port", port.Name()), zap.Stringer("time", t), logger.Event)
	return nil
}

// SetTempo changes queue tempo directly, clients following a tempo source don't need it.
func (c *Client) SetTempo(bpm int) error {
	return c.conn.SetTempo(bpm)
}

func (c *Client) ReadablePorts() []string {
	return c.poller.Readable()
}

func (c *Client) WriteablePorts() []string {
	return c.poller.Writeable()
}

// Refresh enumerates ports right away instead of waiting for the next poll.
func (c *Client) Refresh() error {
	_, err := c.poller.Update()
	return err
}

// SubscribeChanges returns channel receiving ReadablePortsChanged and WriteablePortsChanged.
func (c *Client) SubscribeChanges() (int64, <-chan Change, error) {
	return c.poller.Subscribe()
}

func (c *Client) UnsubscribeChanges(id int64) error {
	return c.poller.Unsubscribe(id)
}

// Close stops the receive loop and polling and closes the connection. Nil and closed clients are fine.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.cancel()
		// abandoned loop gets unblocked by closing the handle
		_ = c.dispatcher.Stop(c.grace)
		c.wg.Wait()
		c.closeErr = c.conn.Close()
		c.poller.Close()
		c.log.Info("client closed", zap.String("device", c.device), logger.Info)
	})
	return c.closeErr
}
