// Package loopback implements an in-process sequencer service.
//
// It keeps the same bookkeeping a kernel sequencer does (clients, ports, capabilities,
// subscriptions and queues) and routes events between handles opened on the same Server.
// Scheduled events are delivered on drain, their tick is preserved for the receiver.
package loopback

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gethiox/seqmidi/internal/pkg/seq"
)

const (
	firstClientID = 128
	inboxSize     = 256
)

// Default is registered as "loopback" driver.
var Default = NewServer()

func init() {
	seq.Register("loopback", Default)
}

type port struct {
	info seq.PortInfo
}

type client struct {
	id       int
	name     string
	ports    map[int]*port
	nextPort int
	inbox    chan seq.Event
	closed   chan struct{}
	pending  []seq.Event
}

type queue struct {
	owner   int
	tempo   seq.QueueTempo
	running bool
}

type subscription struct {
	sender, dest seq.Addr
}

type Server struct {
	mutex      sync.Mutex
	clients    map[int]*client
	nextClient int
	queues     map[int]*queue
	nextQueue  int
	subs       map[subscription]struct{}
}

func NewServer() *Server {
	s := &Server{
		clients:    make(map[int]*client),
		nextClient: firstClientID,
		queues:     make(map[int]*queue),
		subs:       make(map[subscription]struct{}),
	}

	system := s.newClient(seq.ClientSystem, "System")
	system.ports[0] = &port{info: seq.PortInfo{
		Addr:       seq.Addr{Client: seq.ClientSystem, Port: 0},
		Name:       "Timer",
		Capability: seq.CapRead | seq.CapWrite | seq.CapSubsRead | seq.CapSubsWrite,
	}}
	system.ports[1] = &port{info: seq.PortInfo{
		Addr:       seq.Addr{Client: seq.ClientSystem, Port: 1},
		Name:       "Announce",
		Capability: seq.CapRead | seq.CapSubsRead,
	}}
	system.nextPort = 2
	return s
}

func (s *Server) newClient(id int, name string) *client {
	c := &client{
		id:     id,
		name:   name,
		ports:  make(map[int]*port),
		inbox:  make(chan seq.Event, inboxSize),
		closed: make(chan struct{}),
	}
	s.clients[id] = c
	return c
}

// Open creates new client. Only "default" and "loopback" devices exist.
func (s *Server) Open(device string, mode seq.OpenMode) (seq.Sequencer, error) {
	if device != "default" && device != "loopback" {
		return nil, fmt.Errorf("cannot open device \"%s\": no such device", device)
	}
	if mode&seq.OpenDuplex == 0 {
		return nil, fmt.Errorf("invalid open mode %d", mode)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextClient
	s.nextClient++
	c := s.newClient(id, fmt.Sprintf("Client-%d", id))
	return &Handle{server: s, c: c, mode: mode}, nil
}

// Subscribed reports whether sender is currently linked to dest.
func (s *Server) Subscribed(sender, dest seq.Addr) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.subs[subscription{sender: sender, dest: dest}]
	return ok
}

// Subscriptions returns number of active subscriptions.
func (s *Server) Subscriptions() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.subs)
}

// Queue returns tempo and running state of a queue.
func (s *Server) Queue(id int) (seq.QueueTempo, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	q, ok := s.queues[id]
	if !ok {
		return seq.QueueTempo{}, false, seq.ErrNoSuchQueue
	}
	return q.tempo, q.running, nil
}

func (s *Server) lookupPort(addr seq.Addr) (*port, error) {
	c, ok := s.clients[addr.Client]
	if !ok {
		return nil, fmt.Errorf("%w: client %d", seq.ErrNoSuchClient, addr.Client)
	}
	p, ok := c.ports[addr.Port]
	if !ok {
		return nil, fmt.Errorf("%w: %s", seq.ErrNoSuchPort, addr)
	}
	return p, nil
}

func (s *Server) lookupClientName(name string) (int, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, c := range s.clients {
		if c.name == name {
			return id, true
		}
	}
	return 0, false
}

// deliver has to be called with mutex held
func (s *Server) deliver(ev seq.Event) error {
	var targets []seq.Addr
	if ev.ToSubscribers() {
		for sub := range s.subs {
			if sub.sender == ev.Source {
				targets = append(targets, sub.dest)
			}
		}
	} else {
		targets = append(targets, ev.Dest)
	}

	var dropped int
	for _, target := range targets {
		c, ok := s.clients[target.Client]
		if !ok {
			continue
		}
		if _, ok := c.ports[target.Port]; !ok {
			continue
		}
		out := ev
		out.Dest = target
		select {
		case c.inbox <- out:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%d receivers of %s overflowed", dropped, ev.Type)
	}
	return nil
}

func (s *Server) removeSubscriptionsOf(addr seq.Addr) {
	for sub := range s.subs {
		if sub.sender == addr || sub.dest == addr {
			delete(s.subs, sub)
		}
	}
}

// Handle is a client connection to Server.
type Handle struct {
	server *Server
	c      *client
	mode   seq.OpenMode
	closed bool
}

// live has to be called with server mutex held
func (h *Handle) live() error {
	if h.closed {
		return seq.ErrClosed
	}
	return nil
}

func (h *Handle) ClientID() int {
	return h.c.id
}

func (h *Handle) SetClientName(name string) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	h.c.name = name
	return nil
}

func (h *Handle) CreateSimplePort(name string, caps seq.Capability, typ seq.PortType) (int, error) {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return 0, err
	}

	id := h.c.nextPort
	h.c.nextPort++
	h.c.ports[id] = &port{info: seq.PortInfo{
		Addr:       seq.Addr{Client: h.c.id, Port: id},
		Name:       name,
		Capability: caps,
		Type:       typ,
	}}
	return id, nil
}

func (h *Handle) DeletePort(id int) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	if _, ok := h.c.ports[id]; !ok {
		return fmt.Errorf("%w: %d:%d", seq.ErrNoSuchPort, h.c.id, id)
	}
	delete(h.c.ports, id)
	h.server.removeSubscriptionsOf(seq.Addr{Client: h.c.id, Port: id})
	return nil
}

func (h *Handle) PortInfo(id int) (seq.PortInfo, error) {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return seq.PortInfo{}, err
	}
	p, ok := h.c.ports[id]
	if !ok {
		return seq.PortInfo{}, fmt.Errorf("%w: %d:%d", seq.ErrNoSuchPort, h.c.id, id)
	}
	return p.info, nil
}

func (h *Handle) SetPortInfo(id int, info seq.PortInfo) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	p, ok := h.c.ports[id]
	if !ok {
		return fmt.Errorf("%w: %d:%d", seq.ErrNoSuchPort, h.c.id, id)
	}
	p.info.Name = info.Name
	p.info.Capability = info.Capability
	p.info.Type = info.Type
	return nil
}

func (h *Handle) ParseAddress(s string) (seq.Addr, error) {
	return seq.ParseAddress(s, h.server.lookupClientName)
}

func (h *Handle) Subscribe(sender, dest seq.Addr) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}

	sp, err := h.server.lookupPort(sender)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	dp, err := h.server.lookupPort(dest)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	senderCaps := seq.CapRead
	if sender.Client != h.c.id {
		senderCaps |= seq.CapSubsRead
	}
	if !sp.info.Capability.Has(senderCaps) {
		return fmt.Errorf("%w: sender %s is %s", seq.ErrPermission, sender, sp.info.Capability)
	}
	destCaps := seq.CapWrite
	if dest.Client != h.c.id {
		destCaps |= seq.CapSubsWrite
	}
	if !dp.info.Capability.Has(destCaps) {
		return fmt.Errorf("%w: destination %s is %s", seq.ErrPermission, dest, dp.info.Capability)
	}

	sub := subscription{sender: sender, dest: dest}
	if _, ok := h.server.subs[sub]; ok {
		return fmt.Errorf("%w: %s -> %s", seq.ErrExists, sender, dest)
	}
	h.server.subs[sub] = struct{}{}
	return nil
}

func (h *Handle) Unsubscribe(sender, dest seq.Addr) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}

	sub := subscription{sender: sender, dest: dest}
	if _, ok := h.server.subs[sub]; !ok {
		return fmt.Errorf("%w: %s -> %s", seq.ErrNotSubscribed, sender, dest)
	}
	delete(h.server.subs, sub)
	return nil
}

func (h *Handle) AllocQueue() (int, error) {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return 0, err
	}

	id := h.server.nextQueue
	h.server.nextQueue++
	h.server.queues[id] = &queue{owner: h.c.id, tempo: seq.QueueTempo{Tempo: 500000, PPQ: 96}}
	return id, nil
}

// ownQueue has to be called with server mutex held
func (h *Handle) ownQueue(id int) (*queue, error) {
	if err := h.live(); err != nil {
		return nil, err
	}
	q, ok := h.server.queues[id]
	if !ok || q.owner != h.c.id {
		return nil, fmt.Errorf("%w: %d", seq.ErrNoSuchQueue, id)
	}
	return q, nil
}

func (h *Handle) FreeQueue(id int) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if _, err := h.ownQueue(id); err != nil {
		return err
	}
	delete(h.server.queues, id)
	return nil
}

func (h *Handle) SetQueueTempo(id int, tempo seq.QueueTempo) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	q, err := h.ownQueue(id)
	if err != nil {
		return err
	}
	if tempo.Tempo == 0 || tempo.PPQ <= 0 {
		return fmt.Errorf("invalid queue tempo %+v", tempo)
	}
	q.tempo = tempo
	return nil
}

func (h *Handle) ChangeQueueTempo(id int, tempo uint32) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	q, err := h.ownQueue(id)
	if err != nil {
		return err
	}
	if tempo == 0 {
		return fmt.Errorf("invalid tempo %d", tempo)
	}
	q.tempo.Tempo = tempo
	return nil
}

func (h *Handle) StartQueue(id int) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	q, err := h.ownQueue(id)
	if err != nil {
		return err
	}
	q.running = true
	return nil
}

func (h *Handle) StopQueue(id int) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	q, err := h.ownQueue(id)
	if err != nil {
		return err
	}
	q.running = false
	return nil
}

func (h *Handle) EventOutput(ev seq.Event) error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	if h.mode&seq.OpenOutput == 0 {
		return fmt.Errorf("%w: handle not opened for output", seq.ErrPermission)
	}
	if _, ok := h.c.ports[ev.Source.Port]; !ok {
		return fmt.Errorf("%w: source %d:%d", seq.ErrNoSuchPort, h.c.id, ev.Source.Port)
	}
	if ev.Scheduled {
		if _, ok := h.server.queues[ev.Queue]; !ok {
			return fmt.Errorf("%w: %d", seq.ErrNoSuchQueue, ev.Queue)
		}
	}
	ev.Source.Client = h.c.id
	h.c.pending = append(h.c.pending, ev)
	return nil
}

func (h *Handle) DrainOutput() error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}

	pending := h.c.pending
	h.c.pending = nil

	var firstErr error
	for _, ev := range pending {
		if err := h.server.deliver(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *Handle) EventInput(ctx context.Context) (seq.Event, error) {
	if h.mode&seq.OpenInput == 0 {
		return seq.Event{}, fmt.Errorf("%w: handle not opened for input", seq.ErrPermission)
	}
	select {
	case ev := <-h.c.inbox:
		return ev, nil
	case <-ctx.Done():
		return seq.Event{}, ctx.Err()
	case <-h.c.closed:
		return seq.Event{}, seq.ErrClosed
	}
}

func (h *Handle) Clients() ([]seq.ClientInfo, error) {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return nil, err
	}

	clients := make([]seq.ClientInfo, 0, len(h.server.clients))
	for id, c := range h.server.clients {
		clients = append(clients, seq.ClientInfo{Client: id, Name: c.name})
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Client < clients[j].Client
	})
	return clients, nil
}

func (h *Handle) Ports(clientID int) ([]seq.PortInfo, error) {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return nil, err
	}

	c, ok := h.server.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", seq.ErrNoSuchClient, clientID)
	}
	ports := make([]seq.PortInfo, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p.info)
	}
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Addr.Port < ports[j].Addr.Port
	})
	return ports, nil
}

func (h *Handle) Close() error {
	h.server.mutex.Lock()
	defer h.server.mutex.Unlock()
	if err := h.live(); err != nil {
		return err
	}
	h.closed = true

	for id := range h.c.ports {
		h.server.removeSubscriptionsOf(seq.Addr{Client: h.c.id, Port: id})
	}
	for id, q := range h.server.queues {
		if q.owner == h.c.id {
			delete(h.server.queues, id)
		}
	}
	delete(h.server.clients, h.c.id)
	close(h.c.closed)
	return nil
}
