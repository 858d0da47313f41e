// Package ws streams cycle lines and execution events to dashboard clients
// over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	defaultReplayWindow = time.Hour
	defaultReplayLimit  = 50
	replayTimeout       = 3 * time.Second
)

// upgrader configures the WebSocket upgrade parameters. Origins are checked
// by the CORS and auth middleware in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the JSON frame sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
	Replay  bool   `json:"replay,omitempty"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels, "ch:*" style wildcards allowed
	mu   sync.RWMutex

	sendMu sync.Mutex
	closed bool
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"`   // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // channel names
}

// Hub manages connected WebSocket clients. Cycle lines arrive through
// WriteLine; other events are bridged from the signal bus.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	bus        domain.SignalBus // optional
	channels   []string         // bus channels to bridge
	status     func() any
	replay     replayConfig
	mu         sync.RWMutex
	logger     *slog.Logger
	now        func() time.Time
}

type replayConfig struct {
	stream  string
	channel string
	window  time.Duration
	limit   int
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config configures a Hub.
type Config struct {
	// BusChannels are bridged from the signal bus when a bus is given.
	BusChannels []string
	// Status, when set, is sent to each client on connect as a bot_status
	// frame.
	Status func() any
	// ReplayStream, when set with a bus, is read on connect and every entry
	// newer than ReplayWindow (at most ReplayLimit) is sent as a frame on
	// ReplayChannel with replay=true.
	ReplayStream  string
	ReplayChannel string
	ReplayWindow  time.Duration
	ReplayLimit   int
}

// NewHub creates a hub. bus may be nil, in which case only WriteLine feeds
// clients.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	rc := replayConfig{
		stream:  cfg.ReplayStream,
		channel: cfg.ReplayChannel,
		window:  cfg.ReplayWindow,
		limit:   cfg.ReplayLimit,
	}
	if rc.window <= 0 {
		rc.window = defaultReplayWindow
	}
	if rc.limit <= 0 {
		rc.limit = defaultReplayLimit
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channels:   cfg.BusChannels,
		status:     cfg.Status,
		replay:     rc,
		logger:     logger.With(slog.String("component", "ws_hub")),
		now:        time.Now,
	}
}

// WriteLine broadcasts one cycle line on domain.ChannelCycle. It never
// blocks the caller; lines are dropped when the hub is backed up.
func (h *Hub) WriteLine(line string) {
	data, err := json.Marshal(envelope{Type: "cycle", Channel: domain.ChannelCycle, Payload: line})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: domain.ChannelCycle, data: data}:
	default:
		h.logger.Warn("ws: broadcast buffer full, dropping cycle line")
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when ctx is cancelled.
// Once Run has returned, new connections are refused and disconnecting
// clients no longer wait for the hub.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		for _, ch := range h.channels {
			go h.subscribeToChannel(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) && !c.trySend(msg.data) {
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel forwards one bus channel to the hub. Bus payloads are
// JSON and are embedded as-is.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	kind := strings.TrimPrefix(channel, "ch:")
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			data, err := json.Marshal(envelope{Type: kind, Channel: channel, Payload: busPayload(payload)})
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// busPayload embeds JSON payloads as-is and anything else as a string.
func busPayload(payload []byte) any {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. New clients receive every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"ch:*": true},
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	c.sendInitialStatus()
	h.replayTo(r.Context(), c)

	go c.writePump()
	go c.readPump()
}

// replayTo sends the recent entries of the replay stream to c so a freshly
// connected dashboard shows executions that happened before it connected.
func (h *Hub) replayTo(ctx context.Context, c *client) {
	if h.bus == nil || h.replay.stream == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	since := h.now().Add(-h.replay.window).UnixMilli()
	msgs, err := h.bus.StreamRead(ctx, h.replay.stream, fmt.Sprintf("%d-0", since), h.replay.limit)
	if err != nil {
		h.logger.Warn("ws: replay read failed",
			slog.String("stream", h.replay.stream),
			slog.String("error", err.Error()),
		)
		return
	}
	kind := strings.TrimPrefix(h.replay.channel, "ch:")
	for _, m := range msgs {
		c.push(envelope{Type: kind, Channel: h.replay.channel, Payload: busPayload(m.Payload), Replay: true})
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests from the connection until it closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe/unsubscribe request and acknowledges
// it with the resulting channel set.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	current := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		current = append(current, ch)
	}
	c.mu.Unlock()

	c.push(envelope{Type: "subscriptions", Payload: current})
}

// sendInitialStatus pushes a bot_status frame so clients can render state
// before the first cycle completes.
func (c *client) sendInitialStatus() {
	var payload any = map[string]any{}
	if c.hub.status != nil {
		payload = c.hub.status()
	}
	c.push(envelope{Type: "bot_status", Payload: payload})
}

func (c *client) push(e envelope) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.trySend(msg)
}

// trySend queues msg without blocking. It reports false when the buffer is
// full or the hub has already closed the client.
func (c *client) trySend(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once; writePump then closes the socket.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	// Wildcard match: "ch:*" matches "ch:cycle".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump sends queued frames as text messages and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
