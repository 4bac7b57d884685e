package utils

import (
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("fan-out input is closed")

// DynamicFanOut copies every value received on input into all currently spawned outputs.
// Slow outputs don't stall the others. When an output is full, pending values equal to the new one
// and then the oldest ones are discarded, so the most recent value always reaches every output.
type DynamicFanOut[T comparable] struct {
	input    <-chan T
	inputCap int

	mutex   sync.Mutex
	closed  bool
	nextID  int64
	outputs map[int64]chan T
	done    chan struct{}
}

func NewDynamicFanOut[T comparable](input <-chan T) *DynamicFanOut[T] {
	f := DynamicFanOut[T]{
		input:    input,
		inputCap: cap(input),
		outputs:  make(map[int64]chan T),
		done:     make(chan struct{}),
	}
	go f.run()
	return &f
}

func (f *DynamicFanOut[T]) run() {
	for e := range f.input {
		f.mutex.Lock()
		for _, o := range f.outputs {
			offer(o, e)
		}
		f.mutex.Unlock()
	}

	f.mutex.Lock()
	f.closed = true
	for id, o := range f.outputs {
		close(o)
		delete(f.outputs, id)
	}
	f.mutex.Unlock()
	close(f.done)
}

// offer puts e into o without blocking, only the fan-out goroutine sends to o.
func offer[T comparable](o chan T, e T) {
	select {
	case o <- e:
		return
	default:
	}

	pending := make([]T, 0, cap(o)+1)
drain:
	for {
		select {
		case v := <-o:
			if v != e {
				pending = append(pending, v)
			}
		default:
			break drain
		}
	}
	pending = append(pending, e)
	if len(pending) > cap(o) {
		pending = pending[len(pending)-cap(o):]
	}
	for _, v := range pending {
		o <- v
	}
}

// SpawnOutput creates new output channel and its ID for later despawning.
// Output channel has the size of input channel, it will always be buffered with at least size 1.
// Outputs are closed once the input channel gets closed.
func (f *DynamicFanOut[T]) SpawnOutput() (int64, <-chan T, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return 0, nil, ErrClosed
	}

	ocap := f.inputCap
	if ocap == 0 {
		ocap = 1
	}
	newChan := make(chan T, ocap)

	id := f.nextID
	f.nextID++
	f.outputs[id] = newChan
	return id, newChan, nil
}

// DespawnOutput removes output channel with given ID
func (f *DynamicFanOut[T]) DespawnOutput(id int64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	c, ok := f.outputs[id]
	if !ok {
		return fmt.Errorf("output id %d not found", id)
	}
	close(c)
	delete(f.outputs, id)

	return nil
}

// Done is closed after the input got closed and every output was released.
func (f *DynamicFanOut[T]) Done() <-chan struct{} {
	return f.done
}
