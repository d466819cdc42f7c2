// Package notify forwards protocol events to Telegram chats.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"agentlink/internal/bus"
)

const (
	telegramMaxSendRetries = 2
	queueSize              = 256
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramConfig struct {
	Token   string
	ChatIDs []string
	// Events limits forwarding to these types; empty forwards everything.
	Events []string
	Logger *slog.Logger
}

// Telegram posts one message per matching event to every configured chat.
type Telegram struct {
	sender  Sender
	chats   []int64
	events  []string
	queue   chan bus.Event
	backoff time.Duration
	logger  *slog.Logger
}

// NewTelegram connects to the Bot API with cfg.Token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t, err := NewTelegramWithSender(bot, cfg)
	if err != nil {
		return nil, err
	}
	t.logger.Info("telegram notifier connected", "username", bot.Self.UserName, "chats", len(t.chats))
	return t, nil
}

// NewTelegramWithSender builds a notifier on an existing sender.
func NewTelegramWithSender(sender Sender, cfg TelegramConfig) (*Telegram, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chats := make([]int64, 0, len(cfg.ChatIDs))
	for _, s := range cfg.ChatIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
		}
		chats = append(chats, id)
	}
	return &Telegram{
		sender:  sender,
		chats:   chats,
		events:  cfg.Events,
		queue:   make(chan bus.Event, queueSize),
		backoff: time.Second,
		logger:  logger,
	}, nil
}

// Wants reports whether events of this type are forwarded.
func (t *Telegram) Wants(eventType string) bool {
	return len(t.events) == 0 || slices.Contains(t.events, eventType)
}

// Subscribe queues matching events from eb. Events arriving while the queue
// is full are dropped. The returned func unsubscribes.
func (t *Telegram) Subscribe(eb *bus.EventBus) func() {
	id := eb.On(bus.Wildcard, func(e bus.Event) {
		if !t.Wants(e.Type) {
			return
		}
		select {
		case t.queue <- e:
		default:
			t.logger.Warn("telegram queue full, dropping event", "type", e.Type)
		}
	})
	return func() { eb.Off(bus.Wildcard, id) }
}

// Run delivers queued events until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	t.logger.Info("telegram notifier started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram notifier stopping")
			return nil
		case e := <-t.queue:
			text := Format(e)
			for _, chat := range t.chats {
				if err := t.send(ctx, chat, text); err != nil {
					t.logger.Error("telegram send failed", "chat", chat, "type", e.Type, "err", err)
				}
			}
		}
	}
}

// send posts text to one chat, retrying transient failures.
func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * t.backoff
			if strings.Contains(err.Error(), "Too Many Requests") {
				wait *= 3
			}
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if _, err = t.sender.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
	}
	return err
}

// Format renders an event as a short plain-text notification.
func Format(e bus.Event) string {
	switch e.Type {
	case bus.EventAgentRegistered:
		return fmt.Sprintf("Agent %q registered as %s", e.String("name"), e.String("accountId"))
	case bus.EventConnectionRequested:
		return fmt.Sprintf("%s requested a connection with %s (request #%s)",
			e.String("requester"), e.String("target"), e.String("sequenceNumber"))
	case bus.EventConnectionAccepted:
		return fmt.Sprintf("%s accepted %s on topic %s",
			e.String("acceptor"), e.String("requester"), e.String("connectionTopicId"))
	case bus.EventDuplicateAccept:
		return fmt.Sprintf("Warning: %s accepted %s again (previous topic %s)",
			e.String("acceptor"), e.String("requester"), e.String("previousTopicId"))
	case bus.EventMessageSent:
		return fmt.Sprintf("%s sent a %s message (%s bytes) on %s",
			e.String("sender"), e.String("data"), e.String("bytes"), e.String("connectionTopicId"))
	case bus.EventObjectStored:
		return fmt.Sprintf("Object %s stored in %s chunks", e.String("topicId"), e.String("chunks"))
	case bus.EventAdvisoryFailed:
		return fmt.Sprintf("Advisory step %s failed: %s", e.String("op"), e.String("err"))
	default:
		keys := make([]string, 0, len(e.Payload))
		for k := range e.Payload {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+e.String(k))
		}
		return strings.TrimSpace(e.Type + " " + strings.Join(parts, " "))
	}
}
