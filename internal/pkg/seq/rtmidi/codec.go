package rtmidi

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"gitlab.com/gomidi/midi/v2"
)

// encode converts wire event into raw midi message.
func encode(ev seq.Event) (midi.Message, error) {
	n, c := ev.Note, ev.Control
	switch ev.Type {
	case seq.EventNoteOn:
		return midi.NoteOn(n.Channel, n.Note, n.Velocity), nil
	case seq.EventNoteOff:
		return midi.NoteOffVelocity(n.Channel, n.Note, n.Velocity), nil
	case seq.EventKeyPress:
		return midi.PolyAfterTouch(n.Channel, n.Note, n.Velocity), nil
	case seq.EventController:
		return midi.ControlChange(c.Channel, uint8(c.Param), uint8(c.Value)), nil
	case seq.EventPgmChange:
		return midi.ProgramChange(c.Channel, uint8(c.Value)), nil
	case seq.EventChanPress:
		return midi.AfterTouch(c.Channel, uint8(c.Value)), nil
	case seq.EventPitchBend:
		return midi.Pitchbend(c.Channel, int16(c.Value)), nil
	case seq.EventClock:
		return midi.Message{0xf8}, nil
	case seq.EventStart:
		return midi.Message{0xfa}, nil
	case seq.EventContinue:
		return midi.Message{0xfb}, nil
	case seq.EventStop:
		return midi.Message{0xfc}, nil
	case seq.EventSensing:
		return midi.Message{0xfe}, nil
	case seq.EventReset:
		return midi.Message{0xff}, nil
	default:
		return nil, fmt.Errorf("no midi representation of %s event", ev.Type)
	}
}

var realtime = map[byte]seq.EventType{
	0xf8: seq.EventClock,
	0xfa: seq.EventStart,
	0xfb: seq.EventContinue,
	0xfc: seq.EventStop,
	0xfe: seq.EventSensing,
	0xff: seq.EventReset,
}

// decode converts raw midi message into a direct wire event.
func decode(raw []byte) (seq.Event, bool) {
	var ev seq.Event
	ev.Clear()
	if len(raw) == 0 {
		return ev, false
	}
	if typ, ok := realtime[raw[0]]; ok {
		ev.Type = typ
		return ev, true
	}
	if raw[0] == 0xf0 {
		ev.Type = seq.EventSysex
		return ev, true
	}

	msg := midi.Message(raw)
	var ch, key, vel, val uint8
	var relative int16
	var absolute uint16
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		ev.SetNoteOn(ch, key, vel)
	case msg.GetNoteOff(&ch, &key, &vel):
		ev.SetNoteOff(ch, key, vel)
	case msg.GetPolyAfterTouch(&ch, &key, &vel):
		ev.SetKeyPress(ch, key, vel)
	case msg.GetControlChange(&ch, &key, &val):
		ev.SetController(ch, uint32(key), int32(val))
	case msg.GetProgramChange(&ch, &val):
		ev.SetPgmChange(ch, int32(val))
	case msg.GetAfterTouch(&ch, &val):
		ev.SetChanPress(ch, int32(val))
	case msg.GetPitchBend(&ch, &relative, &absolute):
		ev.SetPitchBend(ch, int32(relative))
	default:
		return ev, false
	}
	return ev, true
}

// splitPortName splits ALSA flavoured rtmidi port name "client:port client-id:port-id".
// Names without trailing address (other platforms) are returned as they are with ok unset.
func splitPortName(name string) (client, port string, addr seq.Addr, ok bool) {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return name, name, seq.Addr{}, false
	}
	last := fields[len(fields)-1]
	if !strings.Contains(last, ":") {
		return name, name, seq.Addr{}, false
	}
	addr, err := seq.ParseAddress(last, nil)
	if err != nil {
		return name, name, seq.Addr{}, false
	}

	rest := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), last))
	client, port, found := strings.Cut(rest, ":")
	if !found {
		port = rest
	}
	return client, port, addr, true
}

// client names rtmidi registers virtual ports under when none is given
var rtmidiClients = []string{"RtMidi Input Client", "RtMidi Output Client"}

// ownPortName reports whether driver port name refers to one of own virtual ports.
func ownPortName(name, clientName string, own map[string]struct{}) bool {
	client, port, _, ok := splitPortName(name)
	if _, found := own[port]; !found {
		return false
	}
	if !ok {
		return true
	}
	return client == clientName || slices.Contains(rtmidiClients, client)
}
