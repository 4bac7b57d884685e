package seq

import "fmt"

// EventType values match the ALSA sequencer event types.
type EventType uint8

const (
	EventSystem     EventType = 0
	EventResult     EventType = 1
	EventNote       EventType = 5
	EventNoteOn     EventType = 6
	EventNoteOff    EventType = 7
	EventKeyPress   EventType = 8
	EventController EventType = 10
	EventPgmChange  EventType = 11
	EventChanPress  EventType = 12
	EventPitchBend  EventType = 13
	EventStart      EventType = 30
	EventContinue   EventType = 31
	EventStop       EventType = 32
	EventTempo      EventType = 35
	EventClock      EventType = 36
	EventTick       EventType = 37
	EventReset      EventType = 41
	EventSensing    EventType = 42
	EventSysex      EventType = 130
)

var eventTypeNames = map[EventType]string{
	EventSystem:     "system",
	EventResult:     "result",
	EventNote:       "note",
	EventNoteOn:     "note-on",
	EventNoteOff:    "note-off",
	EventKeyPress:   "key-pressure",
	EventController: "controller",
	EventPgmChange:  "program-change",
	EventChanPress:  "channel-pressure",
	EventPitchBend:  "pitch-bend",
	EventStart:      "start",
	EventContinue:   "continue",
	EventStop:       "stop",
	EventTempo:      "tempo",
	EventClock:      "clock",
	EventTick:       "tick",
	EventReset:      "reset",
	EventSensing:    "sensing",
	EventSysex:      "sysex",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event-%d", uint8(t))
}

type NoteData struct {
	Channel     uint8
	Note        uint8
	Velocity    uint8
	OffVelocity uint8
	Duration    uint32
}

type CtrlData struct {
	Channel uint8
	Param   uint32
	Value   int32
}

// Event is the wire representation of a sequencer event.
type Event struct {
	Type EventType

	// Scheduled is set when the event is to be delivered at Tick on Queue.
	Scheduled bool
	Relative  bool
	Queue     int
	Tick      uint32

	Source Addr
	Dest   Addr

	Note    NoteData
	Control CtrlData
}

// Clear resets event to a direct, unscheduled state.
func (ev *Event) Clear() {
	*ev = Event{Queue: QueueDirect}
}

// SetSource sets own port as source, client part is filled by the sequencer.
func (ev *Event) SetSource(port int) {
	ev.Source.Port = port
}

// SetSubs sends event to every subscriber of the source port.
func (ev *Event) SetSubs() {
	ev.Dest = Addr{Client: AddressSubscribers, Port: AddressUnknown}
}

func (ev *Event) SetDest(addr Addr) {
	ev.Dest = addr
}

func (ev *Event) ScheduleTick(queue int, relative bool, tick uint32) {
	ev.Scheduled = true
	ev.Queue = queue
	ev.Relative = relative
	ev.Tick = tick
}

func (ev *Event) SetDirect() {
	ev.Scheduled = false
	ev.Queue = QueueDirect
}

func (ev *Event) SetNoteOn(channel, note, velocity uint8) {
	ev.Type = EventNoteOn
	ev.Note = NoteData{Channel: channel, Note: note, Velocity: velocity}
}

func (ev *Event) SetNoteOff(channel, note, velocity uint8) {
	ev.Type = EventNoteOff
	ev.Note = NoteData{Channel: channel, Note: note, Velocity: velocity}
}

func (ev *Event) SetKeyPress(channel, note, velocity uint8) {
	ev.Type = EventKeyPress
	ev.Note = NoteData{Channel: channel, Note: note, Velocity: velocity}
}

func (ev *Event) SetController(channel uint8, param uint32, value int32) {
	ev.Type = EventController
	ev.Control = CtrlData{Channel: channel, Param: param, Value: value}
}

// SetPitchBend takes a signed value, 0 means no bend.
func (ev *Event) SetPitchBend(channel uint8, value int32) {
	ev.Type = EventPitchBend
	ev.Control = CtrlData{Channel: channel, Value: value}
}

func (ev *Event) SetPgmChange(channel uint8, value int32) {
	ev.Type = EventPgmChange
	ev.Control = CtrlData{Channel: channel, Value: value}
}

func (ev *Event) SetChanPress(channel uint8, value int32) {
	ev.Type = EventChanPress
	ev.Control = CtrlData{Channel: channel, Value: value}
}

// IsNote reports whether event carries note data.
func (ev Event) IsNote() bool {
	switch ev.Type {
	case EventNote, EventNoteOn, EventNoteOff, EventKeyPress:
		return true
	}
	return false
}

// ToSubscribers reports whether destination is the subscribers pseudo address.
func (ev Event) ToSubscribers() bool {
	return ev.Dest.Client == AddressSubscribers
}

func (ev Event) String() string {
	var data string
	if ev.IsNote() {
		data = fmt.Sprintf("ch=%d note=%d vel=%d", ev.Note.Channel, ev.Note.Note, ev.Note.Velocity)
	} else {
		data = fmt.Sprintf("ch=%d param=%d value=%d", ev.Control.Channel, ev.Control.Param, ev.Control.Value)
	}
	return fmt.Sprintf("%s %s -> %s tick=%d [%s]", ev.Type, ev.Source, ev.Dest, ev.Tick, data)
}
