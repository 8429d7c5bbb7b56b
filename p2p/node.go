package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const inboxSize = 1024

// Node is a participant's HTTP endpoint.
// Incoming messages are queued and handed to handlers one at a time by Run, so a participant
// never processes two messages concurrently.
type Node struct {
	id      string
	Address string

	peersMu sync.RWMutex
	peers   map[string]string // node ID -> host:port

	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	client   *resty.Client
	log      zerolog.Logger
	limiter  *PeerRateLimiter
	inbox    chan Message

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	healthMutex sync.Mutex
	health      map[string]bool
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(n *Node) { n.log = log }
}

// WithTimeout sets the timeout of outgoing requests.
func WithTimeout(d time.Duration) Option {
	return func(n *Node) { n.client.SetTimeout(d) }
}

// WithRateLimit allows each sender perSecond messages per second, with bursts of the same size.
func WithRateLimit(perSecond int) Option {
	return func(n *Node) { n.limiter = NewPeerRateLimiter(perSecond, perSecond, time.Second) }
}

// NewNode creates and initializes a new Node.
func NewNode(id, address string, peers map[string]string, opts ...Option) *Node {
	n := &Node{
		id:       id,
		Address:  address,
		peers:    make(map[string]string, len(peers)),
		mux:      http.NewServeMux(),
		client:   resty.New().SetTimeout(5 * time.Second).SetHeader("Content-Type", "application/json"),
		log:      zerolog.Nop(),
		limiter:  NewPeerRateLimiter(100, 100, time.Second),
		inbox:    make(chan Message, inboxSize),
		handlers: make(map[string]Handler),
		health:   make(map[string]bool),
	}
	for pid, addr := range peers {
		if pid != id {
			n.peers[pid] = addr
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	n.mux.HandleFunc("/message", n.messageHandler)
	n.RegisterHandler(Ping, n.handlePing)
	n.RegisterHandler(Pong, n.handlePong)
	return n
}

// ID returns the node's participant name.
func (n *Node) ID() string { return n.id }

// AddPeer records or updates a peer's address.
func (n *Node) AddPeer(id, address string) {
	if id == n.id {
		return
	}
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	n.peers[id] = address
}

// Peers returns a copy of the peer directory.
func (n *Node) Peers() map[string]string {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	out := make(map[string]string, len(n.peers))
	for k, v := range n.peers {
		out[k] = v
	}
	return out
}

// Handle mounts an extra HTTP handler, such as /metrics or /health, on the node's server.
func (n *Node) Handle(pattern string, h http.Handler) {
	n.mux.Handle(pattern, h)
}


// RegisterHandler sets the handler for a message type.
func (n *Node) RegisterHandler(messageType string, h Handler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers[messageType] = h
}

// messageHandler is the HTTP handler for receiving messages.
// It decodes the envelope and queues it for Run.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		n.log.Debug().Err(err).Msg("received a bad request")
		return
	}
	if !n.limiter.Allow(msg.SenderID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		n.log.Warn().Str("sender", msg.SenderID).Msg("rate limit exceeded")
		return
	}
	if !n.enqueue(msg) {
		http.Error(w, "inbox full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Message received")
}

func (n *Node) enqueue(msg Message) bool {
	select {
	case n.inbox <- msg:
		return true
	default:
		n.log.Warn().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("inbox full, dropping message")
		return false
	}
}

// Run dispatches queued messages to handlers until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.inbox:
			n.dispatch(msg)
		}
	}
}

func (n *Node) dispatch(msg Message) {
	n.handlersMu.RLock()
	h, ok := n.handlers[msg.Type]
	n.handlersMu.RUnlock()
	if !ok {
		n.log.Debug().Str("type", msg.Type).Msg("received unknown message type")
		return
	}
	n.log.Trace().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("dispatching message")
	h(msg)
}

// StartServer starts the node's HTTP server in a new goroutine.
// It signals on the 'ready' channel once the server is actively listening. An address with
// port 0 is replaced by the port actually bound.
func (n *Node) StartServer(ready chan<- struct{}) error {
	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.Address, err)
	}
	n.listener = listener
	n.Address = listener.Addr().String()
	n.server = &http.Server{Handler: n.mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		n.log.Info().Str("addr", n.Address).Msg("server starting")
		if ready != nil {
			ready <- struct{}{}
		}
		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error().Err(err).Msg("server failed")
		}
		n.log.Info().Msg("server stopped")
	}()
	return nil
}

// ListenAndServe serves until ctx is done, then shuts the server down.
func (n *Node) ListenAndServe(ctx context.Context) error {
	if err := n.StartServer(nil); err != nil {
		return err
	}
	<-ctx.Done()
	return n.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return n.server.Shutdown(ctx)
}

// Close stops the HTTP server immediately.
func (n *Node) Close() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// Send delivers msg to targetID. Messages addressed to the node itself are queued locally.
func (n *Node) Send(targetID string, msg Message) error {
	msg.SenderID = n.id
	if targetID == n.id {
		if !n.enqueue(msg) {
			return fmt.Errorf("inbox full")
		}
		return nil
	}
	n.peersMu.RLock()
	addr, ok := n.peers[targetID]
	n.peersMu.RUnlock()
	if !ok {
		return fmt.Errorf("peer '%s' not found in directory", targetID)
	}
	return n.post(addr, msg)
}

// SendMessage sends a message to another node in the network.
// The payload can be any struct that is marshallable to JSON.
func (n *Node) SendMessage(targetID, messageType string, payload any) error {
	msg, err := NewMessage(messageType, n.id, payload)
	if err != nil {
		return err
	}
	return n.Send(targetID, msg)
}

// Broadcast sends msg to every peer concurrently. Every peer is attempted; the first error is
// returned.
func (n *Node) Broadcast(msg Message) error {
	msg.SenderID = n.id
	var g errgroup.Group
	for id, addr := range n.Peers() {
		id, addr := id, addr
		g.Go(func() error {
			if err := n.post(addr, msg); err != nil {
				n.log.Debug().Err(err).Str("peer", id).Str("type", msg.Type).Msg("broadcast delivery failed")
				return fmt.Errorf("peer %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// BroadcastMessage encodes payload and broadcasts it.
func (n *Node) BroadcastMessage(messageType string, payload any) error {
	msg, err := NewMessage(messageType, n.id, payload)
	if err != nil {
		return err
	}
	return n.Broadcast(msg)
}

func (n *Node) post(addr string, msg Message) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	resp, err := n.client.R().SetBody(msg).Post(strings.TrimSuffix(url, "/") + "/message")
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status())
	}
	return nil
}

// HealthCheck pings every peer and marks those that fail to accept the ping as unhealthy.
// Peers become healthy again when their pong arrives.
func (n *Node) HealthCheck() {
	for id := range n.Peers() {
		if err := n.SendMessage(id, Ping, nil); err != nil {
			n.setHealth(id, false)
		}
	}
}

// Healthy reports whether peer answered the last ping.
func (n *Node) Healthy(peer string) bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	return n.health[peer]
}

// HealthStatus returns the last known health of every peer.
func (n *Node) HealthStatus() map[string]bool {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	out := make(map[string]bool, len(n.health))
	for k, v := range n.health {
		out[k] = v
	}
	return out
}

func (n *Node) setHealth(peer string, ok bool) {
	n.healthMutex.Lock()
	defer n.healthMutex.Unlock()
	n.health[peer] = ok
}

func (n *Node) handlePing(msg Message) {
	if err := n.SendMessage(msg.SenderID, Pong, nil); err != nil {
		n.log.Debug().Err(err).Str("peer", msg.SenderID).Msg("pong failed")
	}
}

func (n *Node) handlePong(msg Message) {
	n.setHealth(msg.SenderID, true)
}
