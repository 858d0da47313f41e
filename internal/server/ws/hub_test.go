package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

type fakeBus struct {
	ch     chan []byte
	stream []domain.StreamMessage

	mu       sync.Mutex
	readFrom string
	readMax  int
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readFrom, b.readMax = lastID, count
	return b.stream, nil
}

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Replay  bool            `json:"replay"`
}

func testHubConfig() Config {
	return Config{
		BusChannels: []string{domain.ChannelExecution},
		Status:      func() any { return map[string]any{"running": true} },
	}
}

func newTestHub(bus domain.SignalBus, cfg Config) *Hub {
	return NewHub(bus, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// serveHub runs hub until the returned cancel is called and serves it over
// an httptest server.
func serveHub(t *testing.T, hub *Hub) (string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := newTestHub(bus, testHubConfig())
	url, _ := serveHub(t, hub)
	return hub, dial(t, url)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubSendsStatusThenCycleLines(t *testing.T) {
	hub, conn := startHub(t, nil)

	status := readFrame(t, conn)
	assert.Equal(t, "bot_status", status.Type)
	assert.JSONEq(t, `{"running":true}`, string(status.Payload))

	hub.WriteLine("cycle=1 outcome=no_opportunity")
	f := readFrame(t, conn)
	assert.Equal(t, "cycle", f.Type)
	assert.Equal(t, domain.ChannelCycle, f.Channel)
	assert.JSONEq(t, `"cycle=1 outcome=no_opportunity"`, string(f.Payload))
}

func TestHubBridgesBusAndHonoursUnsubscribe(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 1)}
	hub, conn := startHub(t, bus)
	readFrame(t, conn) // bot_status

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "subscribe",
		"channels": []string{domain.ChannelExecution},
	}))
	readFrame(t, conn) // subscriptions ack
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "unsubscribe",
		"channels": []string{"ch:*"},
	}))
	ack := readFrame(t, conn)
	assert.Equal(t, "subscriptions", ack.Type)
	assert.JSONEq(t, `["ch:execution"]`, string(ack.Payload))

	hub.WriteLine("cycle=1 outcome=no_opportunity") // filtered out
	bus.ch <- []byte(`{"id":"abc","status":"submitted"}`)

	f := readFrame(t, conn)
	assert.Equal(t, "execution", f.Type)
	assert.Equal(t, domain.ChannelExecution, f.Channel)
	assert.JSONEq(t, `{"id":"abc","status":"submitted"}`, string(f.Payload))
}

func TestHubReplaysRecentExecutionsOnConnect(t *testing.T) {
	bus := &fakeBus{
		ch: make(chan []byte),
		stream: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"id":"old","status":"submitted"}`)},
			{ID: "2-0", Payload: []byte(`{"id":"new","status":"partial"}`)},
		},
	}
	cfg := testHubConfig()
	cfg.ReplayStream = domain.StreamExecutions
	cfg.ReplayChannel = domain.ChannelExecution
	cfg.ReplayWindow = 30 * time.Minute
	cfg.ReplayLimit = 20
	hub := newTestHub(bus, cfg)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return now }

	url, _ := serveHub(t, hub)
	conn := dial(t, url)

	assert.Equal(t, "bot_status", readFrame(t, conn).Type)
	first := readFrame(t, conn)
	second := readFrame(t, conn)
	assert.Equal(t, "execution", first.Type)
	assert.Equal(t, domain.ChannelExecution, first.Channel)
	assert.True(t, first.Replay)
	assert.JSONEq(t, `{"id":"old","status":"submitted"}`, string(first.Payload))
	assert.JSONEq(t, `{"id":"new","status":"partial"}`, string(second.Payload))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, fmt.Sprintf("%d-0", now.Add(-30*time.Minute).UnixMilli()), bus.readFrom)
	assert.Equal(t, 20, bus.readMax)
}

func TestHubWithoutReplayStreamSkipsReplay(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte), stream: []domain.StreamMessage{{ID: "1-0", Payload: []byte(`{}`)}}}
	_, conn := startHub(t, bus)
	readFrame(t, conn) // bot_status

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Empty(t, bus.readFrom)
}

func TestHubRefusesConnectionsAfterShutdown(t *testing.T) {
	hub := newTestHub(nil, testHubConfig())
	url, cancel := serveHub(t, hub)

	conn := dial(t, url)
	readFrame(t, conn) // bot_status

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// The existing client is closed by the hub.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// A late client is told to go away instead of blocking its handler.
	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestClientSendAfterCloseIsDropped(t *testing.T) {
	c := &client{send: make(chan []byte, 1), subs: map[string]bool{}}
	c.closeSend()
	assert.NotPanics(t, func() {
		c.push(envelope{Type: "bot_status"})
		c.closeSend()
	})
	assert.False(t, c.trySend([]byte("x")))
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	assert.True(t, c.isSubscribed(domain.ChannelCycle))
	assert.False(t, c.isSubscribed("other"))

	c = &client{subs: map[string]bool{domain.ChannelCycle: true}}
	assert.True(t, c.isSubscribed(domain.ChannelCycle))
	assert.False(t, c.isSubscribed(domain.ChannelExecution))
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
