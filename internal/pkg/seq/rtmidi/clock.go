package rtmidi

import (
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
)

// queue position is tracked from the last anchor, tempo changes move the
// anchor so ticks already played keep their wall clock time.
type queue struct {
	tempo   seq.QueueTempo
	running bool

	anchorTick float64
	anchorTime time.Time
}

func (q *queue) tickDuration() float64 {
	return float64(time.Duration(q.tempo.Tempo)*time.Microsecond) / float64(q.tempo.PPQ)
}

// position returns queue tick at given time
func (q *queue) position(now time.Time) float64 {
	if !q.running {
		return q.anchorTick
	}
	return q.anchorTick + float64(now.Sub(q.anchorTime))/q.tickDuration()
}

// reanchor has to be called before tempo or state changes
func (q *queue) reanchor(now time.Time) {
	q.anchorTick = q.position(now)
	q.anchorTime = now
}

func (q *queue) start(now time.Time) {
	q.running = true
	q.anchorTick = 0
	q.anchorTime = now
}

func (q *queue) stop(now time.Time) {
	q.reanchor(now)
	q.running = false
}

func (q *queue) setTempo(now time.Time, tempo seq.QueueTempo) {
	q.reanchor(now)
	q.tempo = tempo
}

// timeOf returns wall clock time at which tick is due under current tempo
func (q *queue) timeOf(tick uint32) time.Time {
	return q.anchorTime.Add(time.Duration((float64(tick) - q.anchorTick) * q.tickDuration()))
}
