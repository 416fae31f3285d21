package decision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-platform/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func claudeStub(t *testing.T, text string, delay time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":` + jsonString(text) + `}]}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&ClientConfig{Provider: ProviderClaude, Model: "test", MaxTokens: 512, Timeout: 2 * time.Second})
	client.baseURL = srv.URL
	return client
}

func jsonString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + replacer.Replace(s) + `"`
}

func TestParseOutcomePlain(t *testing.T) {
	out, err := parseOutcome(`{"decision":"HOLD","confidence":55,"reasoning":"choppy"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionHold || out.Confidence != 55 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestParseOutcomeCodeFence(t *testing.T) {
	raw := "```json\n{\"decision\":\"EXECUTE_TRADE\",\"confidence\":72,\"reasoning\":\"breakout\",\"tradeParams\":{\"symbol\":\"BTCUSD\",\"direction\":\"buy\",\"orderType\":\"MARKET\",\"quantity\":0.1}}\n```"
	out, err := parseOutcome(raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != DecisionExecuteTrade {
		t.Errorf("decision = %s", out.Decision)
	}
	if out.TradeParams.Direction != "BUY" {
		t.Errorf("direction should be upper-cased, got %s", out.TradeParams.Direction)
	}
}

func TestParseOutcomeSurroundingProse(t *testing.T) {
	raw := "Here is my analysis.\n{\"decision\":\"HOLD\",\"confidence\":40,\"reasoning\":\"no edge\"}\nGood luck."
	if _, err := parseOutcome(raw); err != nil {
		t.Errorf("prose around the JSON object should be tolerated: %v", err)
	}
}

func TestParseOutcomeRejectsBadShapes(t *testing.T) {
	tests := []string{
		`{"decision":"YOLO","confidence":50,"reasoning":"x"}`,
		`{"decision":"HOLD","confidence":150,"reasoning":"x"}`,
		`{"decision":"EXECUTE_TRADE","confidence":70,"reasoning":"x"}`,
		`{"decision":"EXECUTE_TRADE","confidence":70,"reasoning":"x","tradeParams":{"symbol":"BTCUSD","direction":"LONG","orderType":"MARKET","quantity":1}}`,
		`not json at all`,
	}
	for _, raw := range tests {
		if _, err := parseOutcome(raw); err == nil {
			t.Errorf("%q should be rejected", raw)
		}
	}
}

func TestDecideTimeoutHolds(t *testing.T) {
	client := claudeStub(t, `{"decision":"EXECUTE_TRADE","confidence":90,"reasoning":"late"}`, 3*time.Second)
	engine := NewEngine(client, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := engine.Decide(ctx, Input{Symbol: "BTCUSD", Quantity: 1})
	if err != nil {
		t.Fatalf("timeout should degrade to HOLD, got error %v", err)
	}
	if out.Decision != DecisionHold {
		t.Errorf("timed-out decision should be HOLD, got %s", out.Decision)
	}
}

func TestDecideFallbackPriceCapsConfidence(t *testing.T) {
	client := claudeStub(t,
		`{"decision":"EXECUTE_TRADE","confidence":90,"reasoning":"strong setup","tradeParams":{"symbol":"BTCUSD","direction":"BUY","orderType":"MARKET","quantity":0.5}}`, 0)
	engine := NewEngine(client, testLogger())

	recent := 61234.5
	out, err := engine.Decide(context.Background(), Input{
		Symbol:      "BTCUSD",
		RecentClose: &recent,
		Quantity:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.FallbackPrice == nil || *out.FallbackPrice != recent {
		t.Errorf("fallback price should come from the recent close, got %+v", out.FallbackPrice)
	}
	if out.Confidence > fallbackMaxConfidence {
		t.Errorf("confidence without a live price must be capped at %d, got %d",
			fallbackMaxConfidence, out.Confidence)
	}
}

func TestDecideStaticBasePriceFallback(t *testing.T) {
	client := claudeStub(t,
		`{"decision":"EXECUTE_TRADE","confidence":60,"reasoning":"setup","tradeParams":{"symbol":"EURUSD","direction":"SELL","orderType":"MARKET","quantity":1}}`, 0)
	engine := NewEngine(client, testLogger())

	out, err := engine.Decide(context.Background(), Input{Symbol: "EURUSD", Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.FallbackPrice == nil || *out.FallbackPrice != staticBasePrices["EURUSD"] {
		t.Errorf("without live price or recent close the static base table applies, got %+v", out.FallbackPrice)
	}
}

func TestDecideLivePriceKeepsConfidence(t *testing.T) {
	client := claudeStub(t,
		`{"decision":"EXECUTE_TRADE","confidence":90,"reasoning":"setup","tradeParams":{"symbol":"BTCUSD","direction":"BUY","orderType":"MARKET","quantity":1}}`, 0)
	engine := NewEngine(client, testLogger())

	price := 60000.0
	out, err := engine.Decide(context.Background(), Input{Symbol: "BTCUSD", CurrentPrice: &price, Quantity: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != 90 {
		t.Errorf("live-price decisions keep their confidence, got %d", out.Confidence)
	}
	if out.FallbackPrice != nil {
		t.Error("no fallback price should be set when a live price exists")
	}
}
