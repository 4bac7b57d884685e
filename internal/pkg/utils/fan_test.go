package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	var zero T
	return zero
}

func TestDynamicFanOut(t *testing.T) {
	input := make(chan int, 4)
	f := NewDynamicFanOut(input)

	id1, out1, err := f.SpawnOutput()
	require.NoError(t, err)
	_, out2, err := f.SpawnOutput()
	require.NoError(t, err)
	assert.Equal(t, 4, cap(out1))

	input <- 7
	assert.Equal(t, 7, receive(t, out1))
	assert.Equal(t, 7, receive(t, out2))

	require.NoError(t, f.DespawnOutput(id1))
	_, ok := <-out1
	assert.False(t, ok)
	assert.Error(t, f.DespawnOutput(id1))

	input <- 8
	assert.Equal(t, 8, receive(t, out2))

	close(input)
	<-f.Done()
	_, ok = <-out2
	assert.False(t, ok)

	_, _, err = f.SpawnOutput()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDynamicFanOutSlowOutput(t *testing.T) {
	input := make(chan int)
	f := NewDynamicFanOut(input)

	_, slow, err := f.SpawnOutput()
	require.NoError(t, err)
	_, fast, err := f.SpawnOutput()
	require.NoError(t, err)

	// unbuffered input gives outputs of size 1, newer value replaces the pending one
	input <- 1
	assert.Equal(t, 1, receive(t, fast))
	input <- 2
	assert.Equal(t, 2, receive(t, fast))
	// wait for the distribution round to finish
	f.mutex.Lock()
	f.mutex.Unlock()

	assert.Equal(t, 2, receive(t, slow))
	select {
	case v := <-slow:
		t.Fatalf("unexpected value %d", v)
	default:
	}
	close(input)
}

func TestDynamicFanOutKeepsDistinctValues(t *testing.T) {
	input := make(chan int, 2)
	f := NewDynamicFanOut(input)

	_, out, err := f.SpawnOutput()
	require.NoError(t, err)

	// two alternating kinds of notification, the reader is far behind
	for i := 0; i < 10; i++ {
		input <- 1
	}
	input <- 2
	for i := 0; i < 10; i++ {
		input <- 1
	}
	close(input)
	<-f.Done()

	var got []int
	for v := range out {
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 1}, got)
}

func TestOfferBurst(t *testing.T) {
	o := make(chan int, 8)
	for v := 61; v <= 400; v++ {
		offer(o, v)
	}
	assert.Len(t, o, 8)

	var last int
	for len(o) > 0 {
		last = <-o
	}
	assert.Equal(t, 400, last)
}
