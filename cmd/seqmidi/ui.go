package main

import (
	"errors"
	"fmt"

	"github.com/awesome-gocui/gocui"
	"github.com/gethiox/seqmidi/internal/pkg/layout"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"github.com/gethiox/seqmidi/internal/pkg/midi/driver/alsa"
	"github.com/gethiox/seqmidi/internal/pkg/tempo"
	"github.com/logrusorgru/aurora"
	"go.uber.org/zap"
)

const (
	ViewPorts     = "ports"
	ViewReadable  = "readable"
	ViewWriteable = "writeable"
	ViewLogs      = "logs"
)

// Displayable draws its content, called from the gui goroutine only.
type Displayable interface {
	Render(g *gocui.Gui) error
}

// ModelObserver gets notified when observed data changes.
type ModelObserver interface {
	Notify(change alsa.Change)
}

func writeLines(v *gocui.View, lines []string) {
	v.Clear()
	for _, l := range lines {
		fmt.Fprintln(v, l)
	}
}

// portList shows ports available for subscription in one direction.
type portList struct {
	g     *gocui.Gui
	view  string
	kind  alsa.Change
	ports func() []string
}

func (p *portList) Render(g *gocui.Gui) error {
	v, err := g.View(p.view)
	if err != nil {
		return err
	}
	writeLines(v, p.ports())
	return nil
}

func (p *portList) Notify(change alsa.Change) {
	if change == p.kind {
		p.g.Update(p.Render)
	}
}

// clientView shows the client, its tempo and ports created from layout.
type clientView struct {
	g       *gocui.Gui
	au      aurora.Aurora
	client  *alsa.Client
	manager *layout.Manager
	tempo   tempo.Source
	traffic *traffic
}

func (c *clientView) Render(g *gocui.Gui) error {
	v, err := g.View(ViewPorts)
	if err != nil {
		return err
	}
	lines := []string{fmt.Sprintf("client %s (%d) @ %s, %d bpm",
		colorForString(c.au, c.client.Name()), c.client.ClientID(), c.client.Device(), c.tempo.BPM())}
	for _, p := range c.manager.Ports() {
		lines = append(lines, fmt.Sprintf("%s %s ch:%d in:%d",
			colorForString(c.au, p.Name()), p.Mode(), p.OutputChannel()+1, c.traffic.Count(p.Name())))
	}
	writeLines(v, lines)
	return nil
}

// Notify redraws on any change, port subscriptions may affect displayed counters.
func (c *clientView) Notify(alsa.Change) {
	c.g.Update(c.Render)
}

// logView shows most recent log entries that fit into the view.
type logView struct {
	au       aurora.Aurora
	logLevel int
	buffer   *logBuffer
}

func (l *logView) Render(g *gocui.Gui) error {
	v, err := g.View(ViewLogs)
	if err != nil {
		return err
	}
	x, y := v.Size()
	var lines []string
	for _, data := range l.buffer.ReadLastMessages(y) {
		msg, err := logger.Unpack(data)
		if err != nil {
			lines = append(lines, string(data))
			continue
		}
		if s := prepareString(msg, l.au, x, l.logLevel); s != "" {
			lines = append(lines, s)
		}
	}
	writeLines(v, lines)
	return nil
}

type monitor struct {
	g         *gocui.Gui
	views     []Displayable
	observers []ModelObserver
	logs      *logView

	client  *alsa.Client
	tempo   *tempo.Broadcaster
	traffic *traffic
	log     *zap.Logger
}

func newMonitor(colors bool, logLevel int, client *alsa.Client, manager *layout.Manager,
	bpm *tempo.Broadcaster, t *traffic, log *zap.Logger) (*monitor, error) {
	g, err := gocui.NewGui(gocui.Output256, true)
	if err != nil {
		return nil, err
	}
	au := aurora.NewAurora(colors)

	overview := &clientView{g: g, au: au, client: client, manager: manager, tempo: bpm, traffic: t}
	readable := &portList{g: g, view: ViewReadable, kind: alsa.ReadablePortsChanged, ports: client.ReadablePorts}
	writeable := &portList{g: g, view: ViewWriteable, kind: alsa.WriteablePortsChanged, ports: client.WriteablePorts}
	logs := &logView{au: au, logLevel: logLevel, buffer: newLogBuffer(512)}

	m := &monitor{
		g:         g,
		views:     []Displayable{overview, readable, writeable, logs},
		observers: []ModelObserver{overview, readable, writeable},
		logs:      logs,
		client:    client,
		tempo:     bpm,
		traffic:   t,
		log:       log,
	}
	g.SetManagerFunc(m.layout)

	for _, kb := range []struct {
		key     interface{}
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, quit},
		{'q', quit},
		{'+', m.shiftTempo(1)},
		{'=', m.shiftTempo(1)},
		{'-', m.shiftTempo(-1)},
	} {
		if err := g.SetKeybinding("", kb.key, gocui.ModNone, kb.handler); err != nil {
			g.Close()
			return nil, err
		}
	}
	return m, nil
}

func quit(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}

func (m *monitor) shiftTempo(delta int) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, v *gocui.View) error {
		bpm, err := m.tempo.Shift(delta)
		if err != nil {
			m.log.Info("cannot change tempo", zap.Error(err), logger.Warning)
			return nil
		}
		m.log.Info(fmt.Sprintf("tempo: %d bpm", bpm), logger.Info)
		return nil
	}
}

func (m *monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	top := maxY / 3
	if top < 6 {
		top = 6
	}
	third := maxX / 3

	for _, v := range []struct {
		name, title    string
		x0, y0, x1, y1 int
	}{
		{ViewPorts, "[Ports]", 0, 0, third - 1, top},
		{ViewReadable, "[Readable]", third, 0, 2*third - 1, top},
		{ViewWriteable, "[Writeable]", 2 * third, 0, maxX - 1, top},
		{ViewLogs, "[Logs]", 0, top + 1, maxX - 1, maxY - 1},
	} {
		view, err := g.SetView(v.name, v.x0, v.y0, v.x1, v.y1, 0)
		if err != nil {
			if !errors.Is(err, gocui.ErrUnknownView) {
				return err
			}
			view.Title = v.title
			view.Autoscroll = false
			view.Wrap = false
			view.Frame = true
		}
	}
	return nil
}

// render redraws every view.
func (m *monitor) render(g *gocui.Gui) error {
	for _, v := range m.views {
		if err := v.Render(g); err != nil {
			return err
		}
	}
	return nil
}

// feedLogs moves entries from logger.Messages into the log view until Messages is closed.
func (m *monitor) feedLogs(done chan<- struct{}) {
	defer close(done)
	for data := range logger.Messages {
		m.logs.buffer.WriteMessage(data)
		m.g.Update(m.logs.Render)
	}
}

func (m *monitor) notify(change alsa.Change) {
	for _, o := range m.observers {
		o.Notify(change)
	}
}

// followChanges forwards port list changes to observers and redraws on tempo or traffic change.
func (m *monitor) followChanges(stop <-chan struct{}) {
	id, changes, err := m.client.SubscribeChanges()
	if err != nil {
		m.log.Info("cannot follow port changes", zap.Error(err), logger.Warning)
		return
	}
	defer func() { _ = m.client.UnsubscribeChanges(id) }()

	tid, bpm, err := m.tempo.Subscribe()
	if err != nil {
		m.log.Info("cannot follow tempo", zap.Error(err), logger.Warning)
		return
	}
	defer func() { _ = m.tempo.Unsubscribe(tid) }()

	m.g.Update(m.render)
	for {
		select {
		case <-stop:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			m.notify(change)
		case _, ok := <-bpm:
			if !ok {
				return
			}
			m.g.Update(m.views[0].Render)
		case <-m.traffic.Changed():
			m.g.Update(m.views[0].Render)
		}
	}
}

// Quit makes Run return.
func (m *monitor) Quit() {
	m.g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
}

// Run blocks until user quits.
func (m *monitor) Run() error {
	defer m.g.Close()
	err := m.g.MainLoop()
	if errors.Is(err, gocui.ErrQuit) {
		return nil
	}
	return err
}
