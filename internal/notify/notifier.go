// Package notify delivers execution alerts to chat channels. Notifications are
// fanned out to every registered sender (Telegram, Discord) and filtered by
// event type so operators only hear about the outcomes they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events in the allowed set, NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Settings selects the channels to build with FromSettings. Empty credentials
// leave a channel out.
type Settings struct {
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	Events            []string
}

// FromSettings builds a Notifier from channel credentials. It returns nil when
// no channel is configured so callers can skip wiring it.
func FromSettings(s Settings, logger *slog.Logger) *Notifier {
	var senders []Sender
	if s.TelegramToken != "" && s.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(s.TelegramToken, s.TelegramChatID))
	}
	if s.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(s.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, s.Events, logger)
}

// Senders returns the names of the configured channels.
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
