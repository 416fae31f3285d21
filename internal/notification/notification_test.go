package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trading-platform/config"
	"trading-platform/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func TestDisabledManagerIsInert(t *testing.T) {
	m := NewManager(config.NotificationConfig{Enabled: false}, testLogger())
	m.Send(&Message{Kind: KindAlert, Title: "t", Body: "b"}) // must not panic
	if len(m.notifiers) != 0 {
		t.Errorf("disabled manager registered %d notifiers", len(m.notifiers))
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token-123", "chat-9")
	n.baseURL = srv.URL
	if !n.Enabled() {
		t.Fatal("notifier with token and chat id should be enabled")
	}

	err := n.Send(&Message{Kind: KindAlert, Title: "Critical alert", Body: "risk gate abort"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottoken-123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "chat-9" {
		t.Errorf("chat_id = %v", gotBody["chat_id"])
	}
	if text, _ := gotBody["text"].(string); !strings.Contains(text, "risk gate abort") {
		t.Errorf("text = %q", text)
	}
}

func TestTelegramDisabledWithoutSettings(t *testing.T) {
	if NewTelegramNotifier("", "").Enabled() {
		t.Error("telegram notifier without settings should be disabled")
	}
}

func TestDiscordSend(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	err := n.Send(&Message{
		Kind:   KindTradeClose,
		Title:  "Trade closed: BTCUSD",
		Body:   "pnl -12.50",
		Symbol: "BTCUSD",
		PnL:    -12.5,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	embeds, _ := gotBody["embeds"].([]interface{})
	if len(embeds) != 1 {
		t.Fatalf("embeds = %v", gotBody["embeds"])
	}
	embed := embeds[0].(map[string]interface{})
	if embed["color"].(float64) != float64(0xE74C3C) {
		t.Errorf("losing trade should render red, color = %v", embed["color"])
	}
}

func TestDiscordReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	if err := n.Send(&Message{Kind: KindAlert, Title: "t", Body: "b"}); err == nil {
		t.Error("5xx from the webhook should surface as an error")
	}
}
