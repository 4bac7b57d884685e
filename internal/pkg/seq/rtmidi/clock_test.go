package rtmidi

import (
	"testing"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"github.com/stretchr/testify/assert"
)

func TestQueueTimeOf(t *testing.T) {
	t0 := time.Unix(1000, 0)
	q := &queue{tempo: seq.QueueTempo{Tempo: 500000, PPQ: 16}}
	q.start(t0)

	// 120 bpm, 16 ticks per quarter, 31.25ms per tick
	assert.Equal(t, t0.Add(10*time.Second), q.timeOf(320))
	assert.InDelta(t, 320, q.position(t0.Add(10*time.Second)), 1e-9)

	// slowing down to 60 bpm after 10s keeps played ticks in place
	q.setTempo(t0.Add(10*time.Second), seq.QueueTempo{Tempo: 1000000, PPQ: 16})
	assert.InDelta(t, 320, q.anchorTick, 1e-9)
	assert.Equal(t, t0.Add(10*time.Second), q.timeOf(320))
	assert.Equal(t, t0.Add(10*time.Second+625*time.Millisecond), q.timeOf(330))
	assert.Equal(t, t0.Add(20*time.Second), q.timeOf(480))

	// speeding up to 240 bpm after another 5s
	q.setTempo(t0.Add(15*time.Second), seq.QueueTempo{Tempo: 250000, PPQ: 16})
	assert.InDelta(t, 400, q.position(t0.Add(15*time.Second)), 1e-9)
	assert.Equal(t, t0.Add(16*time.Second), q.timeOf(464))
}

func TestQueueResolutionChange(t *testing.T) {
	t0 := time.Unix(1000, 0)
	q := &queue{tempo: seq.QueueTempo{Tempo: 500000, PPQ: 16}}
	q.start(t0)

	q.setTempo(t0.Add(time.Second), seq.QueueTempo{Tempo: 500000, PPQ: 96})
	assert.InDelta(t, 32, q.anchorTick, 1e-9)
	assert.WithinDuration(t, t0.Add(time.Second+500*time.Millisecond), q.timeOf(32+96), time.Microsecond)
}

func TestQueueStopHoldsPosition(t *testing.T) {
	t0 := time.Unix(1000, 0)
	q := &queue{tempo: seq.QueueTempo{Tempo: 500000, PPQ: 16}}
	q.start(t0)

	q.stop(t0.Add(2 * time.Second))
	assert.InDelta(t, 64, q.position(t0.Add(time.Minute)), 1e-9)

	q.start(t0.Add(time.Minute))
	assert.InDelta(t, 0, q.position(t0.Add(time.Minute)), 1e-9)
	assert.Equal(t, t0.Add(time.Minute+time.Second), q.timeOf(32))
}
