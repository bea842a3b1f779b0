package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shooting-range/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Mode      domain.Mode `json:"mode,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// LeaderboardUpdate contains leaderboard data for broadcast
type LeaderboardUpdate struct {
	Mode    domain.Mode               `json:"mode"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// SnapshotFunc loads the current leaderboard of a mode for new subscribers
type SnapshotFunc func(ctx context.Context, mode domain.Mode) ([]domain.LeaderboardEntry, error)

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Subscribed clients by mode. The value reports whether the client still
	// awaits its subscription snapshot.
	clients map[domain.Mode]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest
	snapshots   chan *snapshotDelivery

	snapshot SnapshotFunc

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	mode   domain.Mode
}

// snapshotDelivery carries a loaded snapshot back to the hub loop
type snapshotDelivery struct {
	client *Client
	mode   domain.Mode
	data   []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[domain.Mode]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		snapshots:   make(chan *snapshotDelivery, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetSnapshot sets the loader used to greet new subscribers with the
// current leaderboard. Must be called before Run.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for mode, clients := range h.clients {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.clients, mode)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; !ok {
				h.mu.Unlock()
				continue
			}
			if _, ok := h.clients[req.mode]; !ok {
				h.clients[req.mode] = make(map[*Client]bool)
			}
			h.clients[req.mode][req.client] = h.snapshot != nil
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "mode", req.mode)
			if h.snapshot != nil {
				go h.loadSnapshot(req.client, req.mode)
			}

		case delivery := <-h.snapshots:
			h.deliverSnapshot(delivery)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.mode]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.mode)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "mode", req.mode)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// loadSnapshot fetches the current leaderboard for a new subscriber outside
// the hub loop and hands it back through the snapshots channel
func (h *Hub) loadSnapshot(client *Client, mode domain.Mode) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	entries, err := h.snapshot(ctx, mode)
	if err != nil {
		h.logger.Warn("failed to load leaderboard snapshot", "mode", mode, "error", err)
		return
	}

	data, err := json.Marshal(newLeaderboardMessage(mode, entries))
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	select {
	case h.snapshots <- &snapshotDelivery{client: client, mode: mode, data: data}:
	case <-h.ctx.Done():
	}
}

// deliverSnapshot sends a loaded snapshot unless the client left the mode or
// already received a newer broadcast for it
func (h *Hub) deliverSnapshot(delivery *snapshotDelivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if awaiting := h.clients[delivery.mode][delivery.client]; !awaiting {
		return
	}
	h.clients[delivery.mode][delivery.client] = false

	select {
	case delivery.client.send <- delivery.data:
	default:
		h.logger.Warn("client buffer full, skipping", "client_id", delivery.client.id)
	}
}

// broadcastMessage sends a message to the clients subscribed to its mode
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[message.Mode]
	for client := range clients {
		// a pending snapshot is older than this update
		clients[client] = false
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func newLeaderboardMessage(mode domain.Mode, entries []domain.LeaderboardEntry) *Message {
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return &Message{
		Type: MessageTypeLeaderboardUpdate,
		Mode: mode,
		Data: LeaderboardUpdate{
			Mode:    mode,
			Entries: entries,
		},
		Timestamp: time.Now().UTC(),
	}
}

// BroadcastLeaderboardUpdate sends a leaderboard update to all subscribers of a mode
func (h *Hub) BroadcastLeaderboardUpdate(mode domain.Mode, entries []domain.LeaderboardEntry) {
	select {
	case h.broadcast <- newLeaderboardMessage(mode, entries):
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a mode's subscribers
func (h *Hub) Subscribe(client *Client, mode domain.Mode) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, mode: mode}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a mode's subscribers
func (h *Hub) Unsubscribe(client *Client, mode domain.Mode) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, mode: mode}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a mode
func (h *Hub) GetSubscriberCount(mode domain.Mode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[mode])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
