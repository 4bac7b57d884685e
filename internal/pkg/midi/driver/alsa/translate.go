package alsa

import (
	"errors"
	"fmt"

	"github.com/gethiox/seqmidi/internal/pkg/midi"
	"github.com/gethiox/seqmidi/internal/pkg/seq"
)

// OctaveOffset is the distance between application key space and wire key space.
const OctaveOffset = midi.KeysPerOctave

var (
	ErrUnsupportedOutput = errors.New("unsupported output event")
	ErrUnsupportedInput  = errors.New("unsupported input event")
	ErrIgnored           = errors.New("ignored event")
	ErrKeyOutOfRange     = errors.New("key out of wire range")
)

func wireKey(key int) (uint8, error) {
	k := key + OctaveOffset
	if k < 0 || k > 127 {
		return 0, fmt.Errorf("%w: %d", ErrKeyOutOfRange, key)
	}
	return uint8(k), nil
}

// Outbound builds wire event for ev sent on given channel, routing and scheduling is left to the caller.
func Outbound(ev midi.Event, channel uint8) (seq.Event, error) {
	var out seq.Event
	out.Clear()

	switch ev.Type {
	case midi.NoteOn, midi.NoteOff, midi.KeyPressure:
		key, err := wireKey(ev.Key)
		if err != nil {
			return out, err
		}
		switch ev.Type {
		case midi.NoteOn:
			out.SetNoteOn(channel, key, ev.Velocity)
		case midi.NoteOff:
			out.SetNoteOff(channel, key, ev.Velocity)
		default:
			out.SetKeyPress(channel, key, ev.Velocity)
		}
	case midi.PitchBend:
		out.SetPitchBend(channel, int32(ev.Param)-midi.PitchBendCenter)
	case midi.ProgramChange:
		out.SetPgmChange(channel, int32(ev.Param))
	case midi.ChannelPressure:
		out.SetChanPress(channel, int32(ev.Param))
	default:
		return out, fmt.Errorf("%w: %s", ErrUnsupportedOutput, ev.Type)
	}
	return out, nil
}

// Inbound converts wire event into application event and the time it should be handled at.
func Inbound(ev seq.Event) (midi.Event, midi.Time, error) {
	switch ev.Type {
	case seq.EventNoteOn:
		key := int(ev.Note.Note) - OctaveOffset
		return midi.NoteEvent(midi.NoteOn, ev.Note.Channel, key, ev.Note.Velocity), midi.Time(ev.Tick), nil
	case seq.EventNoteOff:
		key := int(ev.Note.Note) - OctaveOffset
		return midi.NoteEvent(midi.NoteOff, ev.Note.Channel, key, ev.Note.Velocity), midi.Time(ev.Tick), nil
	case seq.EventKeyPress:
		key := int(ev.Note.Note) - OctaveOffset
		return midi.NoteEvent(midi.KeyPressure, ev.Note.Channel, key, ev.Note.Velocity), midi.Now, nil
	case seq.EventPitchBend:
		return midi.PitchBendEvent(ev.Control.Channel, int(ev.Control.Value)+midi.PitchBendCenter), midi.Now, nil
	case seq.EventPgmChange:
		return midi.ProgramChangeEvent(ev.Control.Channel, uint8(ev.Control.Value)), midi.Now, nil
	case seq.EventChanPress:
		return midi.ChannelPressureEvent(ev.Control.Channel, uint8(ev.Control.Value)), midi.Now, nil
	case seq.EventClock, seq.EventSensing:
		return midi.Event{}, midi.Now, ErrIgnored
	default:
		return midi.Event{}, midi.Now, fmt.Errorf("%w: %s", ErrUnsupportedInput, ev.Type)
	}
}
