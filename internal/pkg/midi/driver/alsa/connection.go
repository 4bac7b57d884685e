package alsa

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"go.uber.org/zap"
)

const (
	// TicksPerQuarter is the queue resolution.
	TicksPerQuarter = 16

	noQueue = -1
)

var (
	ErrOpen    = errors.New("cannot open sequencer")
	ErrNoQueue = errors.New("queue not allocated")
)

// TempoFromBPM returns queue tempo in microseconds per quarter note.
func TempoFromBPM(bpm int) (uint32, error) {
	if bpm <= 0 {
		return 0, fmt.Errorf("invalid bpm %d", bpm)
	}
	return uint32(60_000_000 / bpm), nil
}

// Connection owns sequencer handle and its timing queue.
// Every backend call except event input is serialized by a single mutex.
type Connection struct {
	log *zap.Logger

	mutex  sync.Mutex
	handle seq.Sequencer
	queue  int
	closed bool
}

// Open establishes duplex connection to device and registers it under clientName.
func Open(drv seq.Driver, clientName, device string, log *zap.Logger) (*Connection, error) {
	handle, err := drv.Open(device, seq.OpenDuplex)
	if err != nil {
		return nil, fmt.Errorf("%w \"%s\": %w", ErrOpen, device, err)
	}
	if err = handle.SetClientName(clientName); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("%w \"%s\": set client name: %w", ErrOpen, device, err)
	}

	log.Info("sequencer opened", zap.String("device", device), zap.Int("client", handle.ClientID()), logger.Debug)
	return &Connection{
		log:    log,
		handle: handle,
		queue:  noQueue,
	}, nil
}

func (c *Connection) with(fn func(h seq.Sequencer) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return seq.ErrClosed
	}
	return fn(c.handle)
}

func (c *Connection) ClientID() int {
	return c.handle.ClientID()
}

// CreateQueue allocates, configures and starts the timing queue.
func (c *Connection) CreateQueue(bpm int) error {
	tempo, err := TempoFromBPM(bpm)
	if err != nil {
		return err
	}

	return c.with(func(h seq.Sequencer) error {
		if c.queue != noQueue {
			return fmt.Errorf("queue %d already allocated", c.queue)
		}
		q, err := h.AllocQueue()
		if err != nil {
			return fmt.Errorf("alloc queue: %w", err)
		}
		if err = h.SetQueueTempo(q, seq.QueueTempo{Tempo: tempo, PPQ: TicksPerQuarter}); err != nil {
			_ = h.FreeQueue(q)
			return fmt.Errorf("set queue tempo: %w", err)
		}
		if err = h.StartQueue(q); err != nil {
			_ = h.FreeQueue(q)
			return fmt.Errorf("start queue: %w", err)
		}
		c.queue = q
		return h.DrainOutput()
	})
}

// SetTempo changes queue tempo, it never interleaves with Send.
func (c *Connection) SetTempo(bpm int) error {
	tempo, err := TempoFromBPM(bpm)
	if err != nil {
		return err
	}

	return c.with(func(h seq.Sequencer) error {
		if c.queue == noQueue {
			return ErrNoQueue
		}
		if err := h.ChangeQueueTempo(c.queue, tempo); err != nil {
			return fmt.Errorf("change queue tempo: %w", err)
		}
		return h.DrainOutput()
	})
}

// Send translates ev and delivers it to subscribers of source port at given tick.
// midi.Now, or missing queue, makes the event direct.
func (c *Connection) Send(ev midi.Event, tick midi.Time, channel uint8, source int) error {
	wire, err := Outbound(ev, channel)
	if err != nil {
		return err
	}
	wire.SetSource(source)
	wire.SetSubs()

	return c.with(func(h seq.Sequencer) error {
		if tick == midi.Now || tick < 0 || c.queue == noQueue {
			wire.SetDirect()
		} else {
			wire.ScheduleTick(c.queue, false, uint32(tick))
		}
		if err := h.EventOutput(wire); err != nil {
			return fmt.Errorf("event output: %w", err)
		}
		if err := h.DrainOutput(); err != nil {
			return fmt.Errorf("drain output: %w", err)
		}
		return nil
	})
}

// Input blocks until next event arrives, it's the only call that doesn't take the connection lock.
func (c *Connection) Input(ctx context.Context) (seq.Event, error) {
	return c.handle.EventInput(ctx)
}

// ListPorts enumerates ports of every client in enumeration order.
func (c *Connection) ListPorts() ([]ListedPort, error) {
	var ports []ListedPort
	err := c.with(func(h seq.Sequencer) error {
		clients, err := h.Clients()
		if err != nil {
			return fmt.Errorf("query clients: %w", err)
		}
		for _, client := range clients {
			infos, err := h.Ports(client.Client)
			if errors.Is(err, seq.ErrNoSuchClient) {
				continue // gone in the meantime
			}
			if err != nil {
				return fmt.Errorf("query ports of client %d: %w", client.Client, err)
			}
			for _, info := range infos {
				ports = append(ports, ListedPort{Info: info, ClientName: client.Name})
			}
		}
		return nil
	})
	return ports, err
}

// Close stops and frees the queue and closes the handle. It's safe to call more than once, also on nil.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.queue != noQueue {
		if err := c.handle.StopQueue(c.queue); err != nil {
			errs = append(errs, fmt.Errorf("stop queue: %w", err))
		}
		if err := c.handle.FreeQueue(c.queue); err != nil {
			errs = append(errs, fmt.Errorf("free queue: %w", err))
		}
		c.queue = noQueue
	}
	if err := c.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close handle: %w", err))
	}
	return errors.Join(errs...)
}
