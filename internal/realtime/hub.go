package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/observability"
)

// Transport is the minimal websocket surface a session needs.
type Transport interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Ping() error
	SetReadDeadline(t time.Time) error
	Close() error
}

// ConversationRoom names the room of one conversation.
func ConversationRoom(id int64) string { return fmt.Sprintf("conversation:%d", id) }

// DepartmentRoom names the room every agent of a department joins on connect.
func DepartmentRoom(id int64) string { return fmt.Sprintf("department:%d", id) }

// AgentRoom names the room holding every connection of one agent.
func AgentRoom(id int64) string { return fmt.Sprintf("agent:%d", id) }

// DefaultSendBuffer is the outbound queue length used when none is configured.
const DefaultSendBuffer = 256

var (
	// ErrClientClosed is returned by Send after the connection was closed.
	ErrClientClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a peer stopped draining its queue; the connection is
	// closed.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one authenticated connection. Outbound envelopes go through a bounded queue drained
// by a single write pump.
type Client struct {
	ID        string
	Principal *domain.Principal

	transport Transport
	send      chan Envelope
	closed    chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewClient wraps a transport and starts its write pump. A non-positive sendBuffer selects
// DefaultSendBuffer.
func NewClient(id string, principal *domain.Principal, transport Transport, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	c := &Client{
		ID:        id,
		Principal: principal,
		transport: transport,
		send:      make(chan Envelope, sendBuffer),
		closed:    make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues one envelope without blocking. When the queue is full the connection is closed.
func (c *Client) Send(env Envelope) error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.send:
			if err := c.write(env); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteJSON(env)
}

func (c *Client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Ping()
}

// Close stops the write pump and closes the transport once; the read loop then exits and runs
// cleanup.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.transport.Close()
	})
	return err
}

// Hub is the registry of live connections and their room memberships.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	rooms        map[string]map[string]*Client
	memberships  map[string]map[string]struct{}
	conversation map[string]int64
	singleRoom   bool
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewHub creates an empty hub. With singleRoom set, an agent connection holds at most one
// conversation room at a time.
func NewHub(singleRoom bool, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		memberships:  make(map[string]map[string]struct{}),
		conversation: make(map[string]int64),
		singleRoom:   singleRoom,
		metrics:      metrics,
		logger:       logger.Named("hub"),
	}
}

// Register adds a connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.memberships[c.ID] = make(map[string]struct{})
}

// Unregister removes a connection from every room and returns the rooms it held.
func (h *Hub) Unregister(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []string
	for room := range h.memberships[c.ID] {
		h.leaveLocked(room, c)
		left = append(left, room)
	}
	delete(h.memberships, c.ID)
	delete(h.conversation, c.ID)
	delete(h.clients, c.ID)
	return left
}

// Join adds c to room.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(room, c)
}

// Leave removes c from room and reports whether it was a member.
func (h *Hub) Leave(room string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(room, c)
}

// EnterConversation joins the conversation room. When the single-room rule applies to c, the
// previously held conversation is left and its id returned.
func (h *Hub) EnterConversation(c *Client, conversationID int64) (previous int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return 0
	}
	if h.singleRoom && c.Principal.IsAgent() {
		if prev, ok := h.conversation[c.ID]; ok && prev != conversationID {
			if h.leaveLocked(ConversationRoom(prev), c) {
				previous = prev
			}
		}
	}
	h.joinLocked(ConversationRoom(conversationID), c)
	h.conversation[c.ID] = conversationID
	return previous
}

// LeaveConversation leaves the conversation room.
func (h *Hub) LeaveConversation(c *Client, conversationID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conversation[c.ID] == conversationID {
		delete(h.conversation, c.ID)
	}
	return h.leaveLocked(ConversationRoom(conversationID), c)
}

// InRoom reports membership.
func (h *Hub) InRoom(room string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c.ID]
	return ok
}

// Members returns a snapshot of the connections in room.
func (h *Hub) Members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	return members
}

// Clients returns every connection matching keep.
func (h *Hub) Clients(keep func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends env to every member of room except the connection with id except.
func (h *Hub) Broadcast(room string, env Envelope, except string) int {
	members := h.Members(room)
	targets := members[:0]
	for _, c := range members {
		if c.ID != except {
			targets = append(targets, c)
		}
	}
	return h.SendTo(targets, env)
}

// BroadcastAll sends env to every connection.
func (h *Hub) BroadcastAll(env Envelope) int {
	return h.SendTo(h.Clients(nil), env)
}

// SendTo queues env for each distinct connection and returns how many accepted it. It never
// waits on a peer: a connection whose queue is full is closed.
func (h *Hub) SendTo(targets []*Client, env Envelope) int {
	seen := make(map[string]struct{}, len(targets))
	delivered := 0
	for _, c := range targets {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if err := c.Send(env); err != nil {
			h.logger.Debug("connection dropped from fan-out",
				zap.String("connection_id", c.ID),
				zap.String("event", env.Type),
				zap.Error(err))
			continue
		}
		delivered++
	}
	h.metrics.RecordEvent("outbound." + env.Type)
	return delivered
}

func (h *Hub) joinLocked(room string, c *Client) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	if m, ok := h.memberships[c.ID]; ok {
		m[room] = struct{}{}
	}
}

func (h *Hub) leaveLocked(room string, c *Client) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c.ID]; !ok {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(h.memberships[c.ID], room)
	return true
}
