package main

import (
	"fmt"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"go.uber.org/zap"
)

// traffic counts events received by every port.
type traffic struct {
	mutex   sync.Mutex
	counts  map[string]uint64
	changed chan struct{}
	log     *zap.Logger
}

func newTraffic(log *zap.Logger) *traffic {
	return &traffic{
		counts:  make(map[string]uint64),
		changed: make(chan struct{}, 1),
		log:     log,
	}
}

// Handler returns inbound handler for port with given name.
func (t *traffic) Handler(name string) midi.InboundHandler {
	return midi.HandlerFunc(func(ev midi.Event, at midi.Time) {
		t.mutex.Lock()
		t.counts[name]++
		t.mutex.Unlock()

		select {
		case t.changed <- struct{}{}:
		default:
		}
		t.log.Info(fmt.Sprintf("%s received %s", name, ev), zap.String("port", name), zap.Stringer("time", at), logger.Debug)
	})
}

func (t *traffic) Count(name string) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.counts[name]
}

func (t *traffic) Changed() <-chan struct{} {
	return t.changed
}
