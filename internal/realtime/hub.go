// Package realtime fans portfolio, achievement, and leaderboard events out
// to connected WebSocket clients. Delivery is best-effort and at-most-once:
// a slow client's messages are dropped, never allowed to block the mutation
// path, and clients reconcile by polling the authoritative state.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message kinds pushed to clients.
const (
	TypePortfolio   = "portfolio"
	TypeAchievement = "achievement_unlocked"
	TypeLeaderboard = "leaderboard"
)

// Message is a JSON push message. Money fields are decimal strings.
type Message struct {
	Type        string `json:"type"`
	LeagueID    string `json:"league_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Cash        string `json:"cash,omitempty"`
	TotalValue  string `json:"total_value,omitempty"`
	Rank        int    `json:"rank,omitempty"`
	Achievement string `json:"achievement,omitempty"`
	Points      int    `json:"points,omitempty"`
}

// clientCommand is a subscription change sent by a connected client.
type clientCommand struct {
	Action   string `json:"action"` // subscribe | unsubscribe
	LeagueID string `json:"league_id"`
}

const sendBuffer = 32

// client is one WebSocket connection with its subscriptions.
type client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	leagues map[string]struct{}

	closeMu sync.Mutex
	closed  bool
}

// Hub is the connection registry, keyed by user id. One user may hold
// multiple connections (several tabs); events to that user reach all of
// them. League events reach every connection subscribed to the league.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*client]struct{}
	clients  map[*client]struct{}
	OnResize func(total int) // optional gauge hook
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byUser:  make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	conns, ok := h.byUser[c.userID]
	if !ok {
		conns = make(map[*client]struct{})
		h.byUser[c.userID] = conns
	}
	conns[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("ws client connected", "user", c.userID, "total", total)
	if h.OnResize != nil {
		h.OnResize(total)
	}
}

func (h *Hub) deregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if conns := h.byUser[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.closeMu.Lock()
	c.closed = true
	close(c.send)
	c.closeMu.Unlock()

	slog.Info("ws client disconnected", "user", c.userID, "total", total)
	if h.OnResize != nil {
		h.OnResize(total)
	}
}

// SendToUser pushes a message to every connection of one user.
func (h *Hub) SendToUser(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	// Snapshot subscribers under the read lock; write outside it.
	h.mu.RLock()
	targets := make([]*client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.offer(data)
	}
}

// BroadcastLeague pushes a message to every connection subscribed to a league.
func (h *Hub) BroadcastLeague(leagueID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	var targets []*client
	for c := range h.clients {
		if _, ok := c.leagues[leagueID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.offer(data)
	}
}

// offer enqueues without blocking; a full buffer means the client is too
// slow and the message is dropped, as is a message racing a disconnect.
func (c *client) offer(data []byte) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// Handle upgrades GET /api/v1/ws. The client identifies itself with a
// user_id query parameter (the id is minted by the external identity
// provider; the engine trusts it) and manages league subscriptions with
// {"action":"subscribe","league_id":...} messages.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBuffer),
		leagues: make(map[string]struct{}),
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump consumes subscription commands and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.deregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.LeagueID == "" {
			continue
		}
		h.mu.Lock()
		switch cmd.Action {
		case "subscribe":
			c.leagues[cmd.LeagueID] = struct{}{}
		case "unsubscribe":
			delete(c.leagues, cmd.LeagueID)
		}
		h.mu.Unlock()
	}
}

// writePump drains the send buffer and keeps the connection alive through
// proxies with periodic pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
