// Package tempo broadcasts beats-per-minute changes to interested parties.
package tempo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/utils"
)

const DefaultBPM = 120

var ErrInvalidBPM = errors.New("bpm has to be positive")

// Source is a read-only view of the current tempo.
type Source interface {
	BPM() int
	// Subscribe returns a channel receiving accepted tempo changes. A slow reader may miss
	// intermediate values but always gets the last one, BPM is authoritative.
	Subscribe() (int64, <-chan int, error)
	Unsubscribe(id int64) error
}

// Broadcaster holds current tempo and notifies subscribers about changes.
type Broadcaster struct {
	mutex   sync.RWMutex
	bpm     int
	changes chan int
	fan     *utils.DynamicFanOut[int]
	closed  bool
}

func NewBroadcaster(bpm int) (*Broadcaster, error) {
	if bpm <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBPM, bpm)
	}
	changes := make(chan int, 8)
	return &Broadcaster{
		bpm:     bpm,
		changes: changes,
		fan:     utils.NewDynamicFanOut[int](changes),
	}, nil
}

func (b *Broadcaster) BPM() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.bpm
}

// SetBPM changes tempo, setting the same value again doesn't notify anybody.
func (b *Broadcaster) SetBPM(bpm int) error {
	if bpm <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBPM, bpm)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return utils.ErrClosed
	}
	if b.bpm == bpm {
		return nil
	}
	b.bpm = bpm
	b.changes <- bpm
	return nil
}

// Shift adds delta to current tempo, result below 1 is rejected.
func (b *Broadcaster) Shift(delta int) (int, error) {
	bpm := b.BPM() + delta
	if err := b.SetBPM(bpm); err != nil {
		return b.BPM(), err
	}
	return bpm, nil
}

func (b *Broadcaster) Subscribe() (int64, <-chan int, error) {
	return b.fan.SpawnOutput()
}

func (b *Broadcaster) Unsubscribe(id int64) error {
	return b.fan.DespawnOutput(id)
}

// Close releases every subscriber.
func (b *Broadcaster) Close() {
	b.mutex.Lock()
	if !b.closed {
		b.closed = true
		close(b.changes)
	}
	b.mutex.Unlock()
	<-b.fan.Done()
}
