// Package rtmidi implements sequencer service on top of the rtmidi driver.
//
// Own ports are virtual rtmidi ports. Subscriptions between own and foreign ports are bridged
// in process: foreign inputs are listened to and foreign outputs are written directly.
// Queue ticks are converted to wall clock delays using current queue tempo.
package rtmidi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ownClient stands for the client number of this process, rtmidi doesn't reveal the real one.
const ownClient = 1000

const inboxSize = 256

func init() {
	seq.Register("rtmidi", seq.DriverFunc(Open))
}

var listenConfig = drivers.ListenConfig{
	TimeCode:    true,
	ActiveSense: true,
}

type ownPort struct {
	info seq.PortInfo
	in   drivers.In
	out  drivers.Out
	stop func()
}

type foreignPort struct {
	info       seq.PortInfo
	clientName string
	in         drivers.In
	out        drivers.Out
}

type link struct {
	sender, dest seq.Addr
}

type bridge struct {
	stop func()
	in   drivers.In
	out  drivers.Out
}

type Handle struct {
	drv  *rtmididrv.Driver
	mode seq.OpenMode

	mutex     sync.Mutex
	name      string
	ports     map[int]*ownPort
	nextPort  int
	bridges   map[link]*bridge
	queues    map[int]*queue
	nextQueue int
	pending   []seq.Event
	timers    map[*time.Timer]struct{}
	closed    bool

	inbox chan seq.Event
	done  chan struct{}
}

// Open initializes rtmidi, the only device is "default".
func Open(device string, mode seq.OpenMode) (seq.Sequencer, error) {
	if device != "default" {
		return nil, fmt.Errorf("cannot open device \"%s\": rtmidi supports only \"default\"", device)
	}
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmidi: %w", err)
	}
	return &Handle{
		drv:     drv,
		mode:    mode,
		name:    "rtmidi",
		ports:   make(map[int]*ownPort),
		bridges: make(map[link]*bridge),
		queues:  make(map[int]*queue),
		timers:  make(map[*time.Timer]struct{}),
		inbox:   make(chan seq.Event, inboxSize),
		done:    make(chan struct{}),
	}, nil
}

// live has to be called with mutex held
func (h *Handle) live() error {
	if h.closed {
		return seq.ErrClosed
	}
	return nil
}

func (h *Handle) ClientID() int {
	return ownClient
}

func (h *Handle) SetClientName(name string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	h.name = name
	return nil
}

func (h *Handle) receive(raw []byte, source, dest seq.Addr) {
	ev, ok := decode(raw)
	if !ok {
		return
	}
	ev.Source, ev.Dest = source, dest
	select {
	case h.inbox <- ev:
	default:
	}
}

// openSides opens virtual ports required by caps, it has to be called with mutex held
func (h *Handle) openSides(p *ownPort) error {
	name := p.info.Name
	if p.info.Capability&seq.CapWrite != 0 && p.in == nil {
		in, err := h.drv.OpenVirtualIn(name)
		if err != nil {
			return fmt.Errorf("open virtual input \"%s\": %w", name, err)
		}
		dest := p.info.Addr
		source := seq.Addr{Client: seq.AddressUnknown, Port: seq.AddressUnknown}
		stop, err := in.Listen(func(msg []byte, _ int32) {
			h.receive(msg, source, dest)
		}, listenConfig)
		if err != nil {
			_ = in.Close()
			return fmt.Errorf("listen on \"%s\": %w", name, err)
		}
		p.in, p.stop = in, stop
	}
	if p.info.Capability&seq.CapRead != 0 && p.out == nil {
		out, err := h.drv.OpenVirtualOut(name)
		if err != nil {
			return fmt.Errorf("open virtual output \"%s\": %w", name, err)
		}
		p.out = out
	}
	return nil
}

func (p *ownPort) closeSides() error {
	var errs []error
	if p.in != nil {
		p.stop()
		errs = append(errs, p.in.Close())
		p.in, p.stop = nil, nil
	}
	if p.out != nil {
		errs = append(errs, p.out.Close())
		p.out = nil
	}
	return errors.Join(errs...)
}

func (h *Handle) CreateSimplePort(name string, caps seq.Capability, typ seq.PortType) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return 0, err
	}

	id := h.nextPort
	p := &ownPort{info: seq.PortInfo{
		Addr:       seq.Addr{Client: ownClient, Port: id},
		Name:       name,
		Capability: caps,
		Type:       typ,
	}}
	if err := h.openSides(p); err != nil {
		_ = p.closeSides()
		return 0, err
	}
	h.nextPort++
	h.ports[id] = p
	return id, nil
}

// dropBridges has to be called with mutex held
func (h *Handle) dropBridges(addr seq.Addr) {
	for l, b := range h.bridges {
		if l.sender == addr || l.dest == addr {
			b.close()
			delete(h.bridges, l)
		}
	}
}

func (h *Handle) DeletePort(id int) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	p, ok := h.ports[id]
	if !ok {
		return fmt.Errorf("%w: %d", seq.ErrNoSuchPort, id)
	}
	delete(h.ports, id)
	h.dropBridges(p.info.Addr)
	return p.closeSides()
}

func (h *Handle) PortInfo(id int) (seq.PortInfo, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return seq.PortInfo{}, err
	}
	p, ok := h.ports[id]
	if !ok {
		return seq.PortInfo{}, fmt.Errorf("%w: %d", seq.ErrNoSuchPort, id)
	}
	return p.info, nil
}

// SetPortInfo reopens virtual ports when name or capabilities change, virtual ports can't be altered.
func (h *Handle) SetPortInfo(id int, info seq.PortInfo) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	p, ok := h.ports[id]
	if !ok {
		return fmt.Errorf("%w: %d", seq.ErrNoSuchPort, id)
	}
	if p.info.Name == info.Name && p.info.Capability == info.Capability {
		p.info.Type = info.Type
		return nil
	}

	if err := p.closeSides(); err != nil {
		return err
	}
	if p.info.Capability != info.Capability {
		h.dropBridges(p.info.Addr)
	}
	p.info.Name, p.info.Capability, p.info.Type = info.Name, info.Capability, info.Type
	return h.openSides(p)
}

// scan enumerates foreign ports, it has to be called with mutex held
func (h *Handle) scan() ([]*foreignPort, error) {
	ins, err := h.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	outs, err := h.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	var (
		ports    []*foreignPort
		byName   = make(map[string]*foreignPort)
		clients  = make(map[string]int)
		numbered = make(map[int]int)
	)
	get := func(name string) *foreignPort {
		if p, ok := byName[name]; ok {
			return p
		}
		client, port, addr, ok := splitPortName(name)
		if !ok {
			id, known := clients[client]
			if !known {
				id = len(clients) + 1
				clients[client] = id
			}
			addr = seq.Addr{Client: id, Port: numbered[id]}
			numbered[id]++
		}
		p := &foreignPort{
			info:       seq.PortInfo{Addr: addr, Name: port, Type: seq.TypeMidiGeneric},
			clientName: client,
		}
		byName[name] = p
		ports = append(ports, p)
		return p
	}

	own := make(map[string]struct{}, len(h.ports))
	for _, p := range h.ports {
		own[p.info.Name] = struct{}{}
	}
	for _, in := range ins {
		if ownPortName(in.String(), h.name, own) {
			continue
		}
		p := get(in.String())
		p.in = in
		p.info.Capability |= seq.CapRead | seq.CapSubsRead
	}
	for _, out := range outs {
		if ownPortName(out.String(), h.name, own) {
			continue
		}
		p := get(out.String())
		p.out = out
		p.info.Capability |= seq.CapWrite | seq.CapSubsWrite
	}

	sort.SliceStable(ports, func(i, j int) bool {
		a, b := ports[i].info.Addr, ports[j].info.Addr
		if a.Client != b.Client {
			return a.Client < b.Client
		}
		return a.Port < b.Port
	})
	return ports, nil
}

// foreign has to be called with mutex held
func (h *Handle) foreign(addr seq.Addr) (*foreignPort, error) {
	ports, err := h.scan()
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		if p.info.Addr == addr {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", seq.ErrNoSuchPort, addr)
}

func (h *Handle) ParseAddress(s string) (seq.Addr, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return seq.Addr{}, err
	}

	return seq.ParseAddress(s, func(name string) (int, bool) {
		if name == h.name {
			return ownClient, true
		}
		ports, err := h.scan()
		if err != nil {
			return 0, false
		}
		for _, p := range ports {
			if p.clientName == name {
				return p.info.Addr.Client, true
			}
		}
		return 0, false
	})
}

func (b *bridge) close() {
	if b.stop != nil {
		b.stop()
	}
	if b.in != nil {
		_ = b.in.Close()
	}
	if b.out != nil {
		_ = b.out.Close()
	}
}

// Subscribe bridges own port with a foreign one, links between foreign ports are not supported.
func (h *Handle) Subscribe(sender, dest seq.Addr) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	l := link{sender: sender, dest: dest}
	if _, ok := h.bridges[l]; ok {
		return fmt.Errorf("%w: %s -> %s", seq.ErrExists, sender, dest)
	}

	switch {
	case dest.Client == ownClient:
		p, ok := h.ports[dest.Port]
		if !ok {
			return fmt.Errorf("%w: destination %s", seq.ErrNoSuchPort, dest)
		}
		if p.in == nil {
			return fmt.Errorf("%w: destination %s is not writeable", seq.ErrPermission, dest)
		}
		f, err := h.foreign(sender)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		if f.in == nil {
			return fmt.Errorf("%w: sender %s is not readable", seq.ErrPermission, sender)
		}
		if err = f.in.Open(); err != nil {
			return fmt.Errorf("open %s: %w", sender, err)
		}
		stop, err := f.in.Listen(func(msg []byte, _ int32) {
			h.receive(msg, sender, dest)
		}, listenConfig)
		if err != nil {
			_ = f.in.Close()
			return fmt.Errorf("listen on %s: %w", sender, err)
		}
		h.bridges[l] = &bridge{stop: stop, in: f.in}
	case sender.Client == ownClient:
		p, ok := h.ports[sender.Port]
		if !ok {
			return fmt.Errorf("%w: sender %s", seq.ErrNoSuchPort, sender)
		}
		if p.out == nil {
			return fmt.Errorf("%w: sender %s is not readable", seq.ErrPermission, sender)
		}
		f, err := h.foreign(dest)
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		if f.out == nil {
			return fmt.Errorf("%w: destination %s is not writeable", seq.ErrPermission, dest)
		}
		if err = f.out.Open(); err != nil {
			return fmt.Errorf("open %s: %w", dest, err)
		}
		h.bridges[l] = &bridge{out: f.out}
	default:
		return fmt.Errorf("%w: neither %s nor %s belongs to this client", seq.ErrPermission, sender, dest)
	}
	return nil
}

func (h *Handle) Unsubscribe(sender, dest seq.Addr) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	l := link{sender: sender, dest: dest}
	b, ok := h.bridges[l]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", seq.ErrNotSubscribed, sender, dest)
	}
	b.close()
	delete(h.bridges, l)
	return nil
}

func (h *Handle) AllocQueue() (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return 0, err
	}
	id := h.nextQueue
	h.nextQueue++
	h.queues[id] = &queue{tempo: seq.QueueTempo{Tempo: 500000, PPQ: 96}}
	return id, nil
}

// withQueue runs fn with mutex held
func (h *Handle) withQueue(id int, fn func(q *queue) error) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	q, ok := h.queues[id]
	if !ok {
		return fmt.Errorf("%w: %d", seq.ErrNoSuchQueue, id)
	}
	return fn(q)
}

func (h *Handle) FreeQueue(id int) error {
	return h.withQueue(id, func(*queue) error {
		delete(h.queues, id)
		return nil
	})
}

func (h *Handle) SetQueueTempo(id int, tempo seq.QueueTempo) error {
	return h.withQueue(id, func(q *queue) error {
		if tempo.Tempo == 0 || tempo.PPQ <= 0 {
			return fmt.Errorf("invalid queue tempo %+v", tempo)
		}
		q.setTempo(time.Now(), tempo)
		return nil
	})
}

func (h *Handle) ChangeQueueTempo(id int, tempo uint32) error {
	return h.withQueue(id, func(q *queue) error {
		if tempo == 0 {
			return fmt.Errorf("invalid tempo %d", tempo)
		}
		t := q.tempo
		t.Tempo = tempo
		q.setTempo(time.Now(), t)
		return nil
	})
}

func (h *Handle) StartQueue(id int) error {
	return h.withQueue(id, func(q *queue) error {
		q.start(time.Now())
		return nil
	})
}

func (h *Handle) StopQueue(id int) error {
	return h.withQueue(id, func(q *queue) error {
		q.stop(time.Now())
		return nil
	})
}

func (h *Handle) EventOutput(ev seq.Event) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	if h.mode&seq.OpenOutput == 0 {
		return fmt.Errorf("%w: handle not opened for output", seq.ErrPermission)
	}
	if _, ok := h.ports[ev.Source.Port]; !ok {
		return fmt.Errorf("%w: source %d", seq.ErrNoSuchPort, ev.Source.Port)
	}
	if ev.Scheduled {
		if _, ok := h.queues[ev.Queue]; !ok {
			return fmt.Errorf("%w: %d", seq.ErrNoSuchQueue, ev.Queue)
		}
	}
	ev.Source.Client = ownClient
	h.pending = append(h.pending, ev)
	return nil
}

// delay has to be called with mutex held
func (h *Handle) delay(ev seq.Event) time.Duration {
	if !ev.Scheduled {
		return 0
	}
	q, ok := h.queues[ev.Queue]
	if !ok || !q.running {
		return 0
	}
	return time.Until(q.timeOf(ev.Tick))
}

// send has to be called with mutex held
func (h *Handle) send(ev seq.Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}

	var targets []drivers.Out
	if ev.ToSubscribers() {
		if p, ok := h.ports[ev.Source.Port]; ok && p.out != nil {
			targets = append(targets, p.out)
		}
		for l, b := range h.bridges {
			if l.sender == ev.Source && b.out != nil {
				targets = append(targets, b.out)
			}
		}
	} else {
		b, ok := h.bridges[link{sender: ev.Source, dest: ev.Dest}]
		if !ok || b.out == nil {
			return fmt.Errorf("%w: destination %s is not connected", seq.ErrNoSuchPort, ev.Dest)
		}
		targets = append(targets, b.out)
	}

	var errs []error
	for _, out := range targets {
		if err := out.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handle) DrainOutput() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}

	pending := h.pending
	h.pending = nil

	var errs []error
	for _, ev := range pending {
		d := h.delay(ev)
		if d <= 0 {
			errs = append(errs, h.send(ev))
			continue
		}

		ev := ev
		var timer *time.Timer
		timer = time.AfterFunc(d, func() {
			h.mutex.Lock()
			defer h.mutex.Unlock()
			delete(h.timers, timer)
			if !h.closed {
				_ = h.send(ev)
			}
		})
		h.timers[timer] = struct{}{}
	}
	return errors.Join(errs...)
}

func (h *Handle) EventInput(ctx context.Context) (seq.Event, error) {
	if h.mode&seq.OpenInput == 0 {
		return seq.Event{}, fmt.Errorf("%w: handle not opened for input", seq.ErrPermission)
	}
	select {
	case ev := <-h.inbox:
		return ev, nil
	case <-ctx.Done():
		return seq.Event{}, ctx.Err()
	case <-h.done:
		return seq.Event{}, seq.ErrClosed
	}
}

func (h *Handle) Clients() ([]seq.ClientInfo, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return nil, err
	}
	ports, err := h.scan()
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{ownClient: true}
	clients := []seq.ClientInfo{{Client: ownClient, Name: h.name}}
	for _, p := range ports {
		if seen[p.info.Addr.Client] {
			continue
		}
		seen[p.info.Addr.Client] = true
		clients = append(clients, seq.ClientInfo{Client: p.info.Addr.Client, Name: p.clientName})
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Client < clients[j].Client
	})
	return clients, nil
}

func (h *Handle) Ports(client int) ([]seq.PortInfo, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return nil, err
	}

	var infos []seq.PortInfo
	if client == ownClient {
		for _, p := range h.ports {
			infos = append(infos, p.info)
		}
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].Addr.Port < infos[j].Addr.Port
		})
		return infos, nil
	}

	ports, err := h.scan()
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		if p.info.Addr.Client == client {
			infos = append(infos, p.info)
		}
	}
	if infos == nil {
		return nil, fmt.Errorf("%w: %d", seq.ErrNoSuchClient, client)
	}
	return infos, nil
}

func (h *Handle) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	h.closed = true
	close(h.done)

	for timer := range h.timers {
		timer.Stop()
	}
	h.timers = nil
	for l, b := range h.bridges {
		b.close()
		delete(h.bridges, l)
	}

	var errs []error
	for id, p := range h.ports {
		errs = append(errs, p.closeSides())
		delete(h.ports, id)
	}
	errs = append(errs, h.drv.Close())
	return errors.Join(errs...)
}
