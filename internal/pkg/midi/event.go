package midi

import (
	"fmt"
)

// EventType reuses channel voice status nibbles.
type EventType uint8

const (
	NoteOff         EventType = 0b1000 << 4
	NoteOn          EventType = 0b1001 << 4
	KeyPressure     EventType = 0b1010 << 4 // polyphonic after-touch
	ControlChange   EventType = 0b1011 << 4
	ProgramChange   EventType = 0b1100 << 4
	ChannelPressure EventType = 0b1101 << 4 // after-touch
	PitchBend       EventType = 0b1110 << 4
)

const (
	KeysPerOctave = 12

	// PitchBendCenter is the 14-bit pitch bend value meaning "no bend".
	PitchBendCenter = 8192
	PitchBendMax    = 1<<14 - 1
)

func (t EventType) String() string {
	switch t {
	case NoteOff:
		return "Note Off"
	case NoteOn:
		return "Note On"
	case KeyPressure:
		return "Key Pressure"
	case ControlChange:
		return "Control Change"
	case ProgramChange:
		return "Program Change"
	case ChannelPressure:
		return "Channel Pressure"
	case PitchBend:
		return "Pitch Bend"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

var valToPitch = map[int]string{
	0: "C", 1: "C#", 2: "D", 3: "D#",
	4: "E", 5: "F", 6: "F#", 7: "G",
	8: "G#", 9: "A", 10: "A#", 11: "B",
}

// KeyToPitch returns pitch class name of the key, keys below 0 are supported.
func KeyToPitch(key int) string {
	return valToPitch[((key%KeysPerOctave)+KeysPerOctave)%KeysPerOctave]
}

// KeyToOctave uses floored division, key 0 is the first key of octave 0.
func KeyToOctave(key int) int {
	if key < 0 {
		return (key+1)/KeysPerOctave - 1
	}
	return key / KeysPerOctave
}

func keyToString(key int) string {
	return fmt.Sprintf("%-2s%2d", KeyToPitch(key), KeyToOctave(key))
}

// Event is the application side representation of a single channel voice message.
// Key is kept in application key space, which is one octave below the wire key space.
type Event struct {
	Type     EventType
	Channel  uint8
	Key      int
	Velocity uint8
	// Param holds program number, pressure, controller value or 14-bit pitch bend value
	// depending on Type.
	Param uint16
}

func (e Event) String() string {
	channel := e.Channel + 1
	switch e.Type {
	case NoteOff:
		return fmt.Sprintf("Note Off: %s (channel: %2d, velocity: %3d)", keyToString(e.Key), channel, e.Velocity)
	case NoteOn:
		return fmt.Sprintf("Note On : %s (channel: %2d, velocity: %3d)", keyToString(e.Key), channel, e.Velocity)
	case KeyPressure:
		return fmt.Sprintf("Key Pressure: %s (channel: %2d, pressure: %3d)", keyToString(e.Key), channel, e.Velocity)
	case ControlChange:
		return fmt.Sprintf("Control Change: %3d, value: %3d (channel: %2d)", e.Key, e.Param, channel)
	case ProgramChange:
		return fmt.Sprintf("Program Change: %3d (channel: %2d)", e.Param, channel)
	case ChannelPressure:
		return fmt.Sprintf("Channel Pressure: %3d (channel: %2d)", e.Param, channel)
	case PitchBend:
		val := float64(int(e.Param)-PitchBendCenter) / PitchBendCenter
		return fmt.Sprintf("Pitch Bend: %4.0f%% (channel: %2d)", val*100, channel)
	default:
		return fmt.Sprintf("Unexpected event: %s (channel: %2d)", e.Type, channel)
	}
}

func NoteEvent(eventType EventType, channel uint8, key int, velocity uint8) Event {
	return Event{Type: eventType, Channel: channel, Key: key, Velocity: velocity}
}

func ControlChangeEvent(channel uint8, controller int, value uint8) Event {
	return Event{Type: ControlChange, Channel: channel, Key: controller, Param: uint16(value)}
}

func ProgramChangeEvent(channel, program uint8) Event {
	return Event{Type: ProgramChange, Channel: channel, Param: uint16(program)}
}

func ChannelPressureEvent(channel, pressure uint8) Event {
	return Event{Type: ChannelPressure, Channel: channel, Param: uint16(pressure)}
}

// PitchBendEvent accepts a 14-bit value, 8192 is the center, values beyond range are clamped.
func PitchBendEvent(channel uint8, value int) Event {
	if value < 0 {
		value = 0
	}
	if value > PitchBendMax {
		value = PitchBendMax
	}
	return Event{Type: PitchBend, Channel: channel, Param: uint16(value)}
}

// Time is a position on the sequencer queue in ticks.
type Time int64

// Now marks events that should be handled immediately rather than at a queue position.
const Now Time = -1

func (t Time) String() string {
	if t == Now {
		return "now"
	}
	return fmt.Sprintf("%d", int64(t))
}
