// Package notification fans critical alerts and trade lifecycle events
// out to external webhooks. Delivery is best effort: a failed webhook is
// logged and never blocks the trading path.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trading-platform/config"
	"trading-platform/internal/events"
	"trading-platform/internal/logging"
)

// Kind classifies a notification for formatting
type Kind string

const (
	KindTradeOpen  Kind = "trade_open"
	KindTradeClose Kind = "trade_close"
	KindAlert      Kind = "alert"
)

// Message is a formatted notification
type Message struct {
	Kind      Kind
	Title     string
	Body      string
	Symbol    string
	PnL       float64
	Timestamp time.Time
}

// Notifier is one delivery channel
type Notifier interface {
	Name() string
	Enabled() bool
	Send(msg *Message) error
}

// Manager fans messages out to all enabled notifiers
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewManager builds the manager from config. With notifications
// disabled it is inert but still safe to call.
func NewManager(cfg config.NotificationConfig, logger *logging.Logger) *Manager {
	m := &Manager{logger: logger.WithComponent("notification")}
	if !cfg.Enabled {
		return m
	}
	m.Add(NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	m.Add(NewDiscordNotifier(cfg.DiscordWebhookURL))
	return m
}

// Add registers a notifier
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers a message to every enabled channel
func (m *Manager) Send(msg *Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if err := n.Send(msg); err != nil {
			m.logger.WithError(err).Warn("Notification delivery failed", "channel", n.Name())
		}
	}
}

// Subscribe wires the manager to the event bus. Critical alerts and
// trade lifecycle events become webhook messages.
func (m *Manager) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventCriticalAlert, func(e events.Event) {
		m.Send(&Message{
			Kind:      KindAlert,
			Title:     "Critical alert",
			Body:      fmt.Sprintf("%v: %v", e.Data["source"], e.Data["message"]),
			Timestamp: e.Timestamp,
		})
	})
	bus.Subscribe(events.EventTradeOpened, func(e events.Event) {
		m.Send(&Message{
			Kind:   KindTradeOpen,
			Title:  fmt.Sprintf("Trade opened: %v", e.Data["symbol"]),
			Body:   fmt.Sprintf("%v %v @ %v, qty %v", e.Data["direction"], e.Data["symbol"], e.Data["entry_price"], e.Data["quantity"]),
			Symbol: asString(e.Data["symbol"]),
		})
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		pnl, _ := e.Data["pnl"].(float64)
		m.Send(&Message{
			Kind:   KindTradeClose,
			Title:  fmt.Sprintf("Trade closed: %v", e.Data["symbol"]),
			Body:   fmt.Sprintf("%v closed (%v): entry %v exit %v, pnl %.2f", e.Data["symbol"], e.Data["reason"], e.Data["entry_price"], e.Data["exit_price"], pnl),
			Symbol: asString(e.Data["symbol"]),
			PnL:    pnl,
		})
	})
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// TelegramNotifier delivers via the Telegram bot API
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string // override in tests
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram channel; empty settings
// disable it
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *TelegramNotifier) Send(msg *Message) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", msg.Title, msg.Body),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("encoding telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscordNotifier delivers via a Discord webhook
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a Discord channel; an empty URL disables it
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Enabled() bool { return d.webhookURL != "" }

func (d *DiscordNotifier) Send(msg *Message) error {
	color := 0x2ECC71
	if msg.Kind == KindAlert || (msg.Kind == KindTradeClose && msg.PnL < 0) {
		color = 0xE74C3C
	}

	embed := map[string]interface{}{
		"title":       msg.Title,
		"description": msg.Body,
		"color":       color,
		"timestamp":   msg.Timestamp.Format(time.RFC3339),
	}
	if msg.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": msg.Symbol, "inline": true},
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	})
	if err != nil {
		return fmt.Errorf("encoding discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
