package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"execution", " partial_execution "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "execution", "filled", "body"))
	require.NoError(t, n.Notify(context.Background(), "partial_execution", "partial", "body"))
	require.NoError(t, n.Notify(context.Background(), "execution_failed", "failed", "body"))
	require.NoError(t, n.NotifyAll(context.Background(), "always", "body"))

	assert.Equal(t, []string{"filled", "partial", "always"}, s.titles)
}

func TestNotifierNoFilterPassesEverything(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "execution", "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Len(t, good.titles, 1)
}

func TestFromSettings(t *testing.T) {
	assert.Nil(t, FromSettings(Settings{}, quietLogger()))
	assert.Nil(t, FromSettings(Settings{TelegramToken: "tok"}, quietLogger()), "chat id required")

	n := FromSettings(Settings{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/hook",
	}, quietLogger())
	require.NotNil(t, n)
	assert.Equal(t, []string{"telegram", "discord"}, n.Senders())
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Arbitrage executed", "net=1.2"))

	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "*Arbitrage executed*\nnet=1.2", payload["text"])
}

func TestDiscordSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400: bad webhook")
}

func TestDiscordSendNoContent(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		content = p["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"))
	assert.Equal(t, "**t**\nm", content)
}
