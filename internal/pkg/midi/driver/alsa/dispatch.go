package alsa

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"go.uber.org/zap"
)

type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var ErrStopTimeout = errors.New("dispatch loop did not stop in time")

const inputRetryDelay = 50 * time.Millisecond

type inputSource interface {
	Input(ctx context.Context) (seq.Event, error)
}

// Dispatcher receives events from the sequencer and hands them to owning application ports.
type Dispatcher struct {
	input    inputSource
	registry *Registry
	log      *zap.Logger

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(input inputSource, registry *Registry, log *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		input:    input,
		registry: registry,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Start spawns the receive loop, it can be started only once.
func (d *Dispatcher) Start() {
	if !d.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return
	}
	go d.run(d.ctx)
}

// Stop cancels pending receive and waits up to grace for the loop to finish.
// Loop still blocked after that is abandoned and ErrStopTimeout is returned.
func (d *Dispatcher) Stop(grace time.Duration) error {
	if d.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		d.cancel()
		close(d.done)
		return nil
	}
	if !d.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return nil
	}
	d.cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-d.done:
		return nil
	case <-timer.C:
		d.log.Info("dispatch loop abandoned", zap.Duration("grace", grace), logger.Warning)
		return ErrStopTimeout
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer func() {
		d.state.Store(int32(Stopped))
		close(d.done)
	}()

	for {
		ev, err := d.input.Input(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, seq.ErrClosed) {
				return
			}
			d.log.Info("event input failed", zap.Error(err), logger.Warning)
			select {
			case <-ctx.Done():
				return
			case <-time.After(inputRetryDelay):
			}
			continue
		}
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev seq.Event) {
	event, t, err := Inbound(ev)
	if errors.Is(err, ErrIgnored) {
		return
	}
	if err != nil {
		d.log.Info("unhandled input event", zap.Stringer("type", ev.Type), zap.Error(err), logger.Warning)
		return
	}

	port, ok := d.registry.Lookup(ev.Dest.Port)
	if !ok {
		return
	}
	d.log.Info(event.String(), zap.String("port", port.Name()), zap.Stringer("time", t), logger.Event)
	port.ProcessInEvent(event, t)
}
