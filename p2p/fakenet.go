package p2p

import (
	"fmt"
	"slices"
	"sync"
)

// FakeNet is an in-process network that delivers messages one at a time, in FIFO order, on
// the caller's goroutine. Runs are deterministic for a given sequence of sends.
type FakeNet struct {
	mu        sync.Mutex
	endpoints map[string]*FakeEndpoint
	order     []string
	queue     []delivery
	delivered int
}

type delivery struct {
	to  string
	msg Message
}

// NewFakeNet creates an empty network.
func NewFakeNet() *FakeNet {
	return &FakeNet{endpoints: make(map[string]*FakeEndpoint)}
}

// Join registers a participant. Broadcasts reach participants in join order.
func (n *FakeNet) Join(id string) *FakeEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &FakeEndpoint{net: n, id: id, handlers: make(map[string]Handler)}
	n.endpoints[id] = ep
	n.order = append(n.order, id)
	return ep
}

func (n *FakeNet) enqueue(to string, msg Message) {
	msg.Payload = slices.Clone(msg.Payload)
	n.queue = append(n.queue, delivery{to: to, msg: msg})
}

// Step delivers the oldest pending message. It reports false when the queue is empty.
func (n *FakeNet) Step() bool {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return false
	}
	d := n.queue[0]
	n.queue = n.queue[1:]
	ep := n.endpoints[d.to]
	n.delivered++
	n.mu.Unlock()

	ep.dispatch(d.msg)
	return true
}

// Run delivers messages until the queue drains or maxSteps messages have been delivered.
// It returns the number of deliveries made.
func (n *FakeNet) Run(maxSteps int) int {
	steps := 0
	for steps < maxSteps && n.Step() {
		steps++
	}
	return steps
}

// RunUntil delivers messages until done returns true, the queue drains, or maxSteps is hit.
func (n *FakeNet) RunUntil(maxSteps int, done func() bool) int {
	steps := 0
	for steps < maxSteps && !done() && n.Step() {
		steps++
	}
	return steps
}

// Pending returns the number of queued messages.
func (n *FakeNet) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Delivered returns the number of messages delivered so far.
func (n *FakeNet) Delivered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered
}

// FakeEndpoint is one participant's attachment to a FakeNet.
type FakeEndpoint struct {
	net      *FakeNet
	id       string
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (e *FakeEndpoint) ID() string { return e.id }

func (e *FakeEndpoint) Send(to string, msg Message) error {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	if _, ok := e.net.endpoints[to]; !ok {
		return fmt.Errorf("peer '%s' not found in directory", to)
	}
	msg.SenderID = e.id
	e.net.enqueue(to, msg)
	return nil
}

func (e *FakeEndpoint) Broadcast(msg Message) error {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	msg.SenderID = e.id
	for _, id := range e.net.order {
		if id != e.id {
			e.net.enqueue(id, msg)
		}
	}
	return nil
}

func (e *FakeEndpoint) RegisterHandler(messageType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[messageType] = h
}

func (e *FakeEndpoint) dispatch(msg Message) {
	e.mu.RLock()
	h, ok := e.handlers[msg.Type]
	e.mu.RUnlock()
	if ok {
		h(msg)
	}
}
