package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"trading-platform/internal/logging"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// coinbaseGranularities maps timeframes to candle granularity in seconds.
// The exchange only serves 1m/5m/15m/1h/6h/1d; M30 and H4 fall back to the
// nearest smaller bucket.
var coinbaseGranularities = map[string]int{
	"M1":  60,
	"M5":  300,
	"M15": 900,
	"M30": 900,
	"H1":  3600,
	"H4":  3600,
	"D1":  86400,
}

// CoinbaseClient implements the gateway against a Coinbase Exchange style
// API with HMAC request signing.
type CoinbaseClient struct {
	apiKey     string
	apiSecret  string
	passphrase string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewCoinbaseClient creates a client for one credential set
func NewCoinbaseClient(apiKey, apiSecret, passphrase string, logger *logging.Logger) *CoinbaseClient {
	return &CoinbaseClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.WithComponent("coinbase"),
	}
}

func (c *CoinbaseClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return doWithRetry(ctx, func() error {
		var payload []byte
		if body != nil {
			var err error
			payload, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encoding request body: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, coinbaseBaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}

		ts := strconv.FormatInt(time.Now().Unix(), 10)
		key, err := base64.StdEncoding.DecodeString(c.apiSecret)
		if err != nil {
			return fmt.Errorf("%w: secret is not base64", ErrAuthFailed)
		}
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(ts + method + path + string(payload)))

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("CB-ACCESS-KEY", c.apiKey)
		req.Header.Set("CB-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
		req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &retryableError{status: http.StatusServiceUnavailable}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if statusErr := classifyStatus(resp.StatusCode); statusErr != nil {
			return fmt.Errorf("%w: %s", statusErr, string(raw))
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
}

// GetLatestPrice returns the product ticker bid/ask
func (c *CoinbaseClient) GetLatestPrice(ctx context.Context, epic string) (*PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	var ticker struct {
		Bid float64 `json:"bid,string"`
		Ask float64 `json:"ask,string"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+epic+"/ticker", nil, &ticker); err != nil {
		return nil, err
	}
	return &PriceQuote{Epic: epic, Bid: ticker.Bid, Ask: ticker.Ask, Timestamp: time.Now().UTC()}, nil
}

// GetOHLC fetches candles. The exchange returns [time, low, high, open, close, volume].
func (c *CoinbaseClient) GetOHLC(ctx context.Context, q OHLCQuery) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	granularity, ok := coinbaseGranularities[q.Resolution]
	if !ok {
		return nil, fmt.Errorf("unknown resolution %q", q.Resolution)
	}

	var raw [][]float64
	path := fmt.Sprintf("/products/%s/candles?granularity=%d", q.Epic, granularity)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	// Newest-first on the wire; callers expect oldest-first
	candles := make([]Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		k := raw[i]
		if len(k) < 6 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: time.Unix(int64(k[0]), 0).UTC(),
			Low:       k[1],
			High:      k[2],
			Open:      k[3],
			Close:     k[4],
			Volume:    k[5],
		})
	}
	if q.Max > 0 && len(candles) > q.Max {
		candles = candles[len(candles)-q.Max:]
	}
	return candles, nil
}

// MarketDetails checks the product exists and is online
func (c *CoinbaseClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	var product struct {
		ID          string  `json:"id"`
		DisplayName string  `json:"display_name"`
		Status      string  `json:"status"`
		BaseMinSize float64 `json:"base_min_size,string"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+epic, nil, &product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		return nil, ErrEpicNotFound
	}
	return &MarketDetails{
		Epic:        product.ID,
		Name:        product.DisplayName,
		Tradeable:   product.Status == "online",
		MinDealSize: product.BaseMinSize,
	}, nil
}

// OpenPosition places a market order
func (c *CoinbaseClient) OpenPosition(ctx context.Context, req OpenPositionRequest) (*DealConfirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	body := map[string]interface{}{
		"product_id": req.Epic,
		"side":       map[string]string{DirectionBuy: "buy", DirectionSell: "sell"}[req.Direction],
		"type":       "market",
		"size":       strconv.FormatFloat(req.Size, 'f', -1, 64),
	}
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	return &DealConfirmation{DealID: order.ID, Status: DealStatusOpen}, nil
}

// ClosePosition is a market order on the opposite side; spot venues track
// balances rather than deals, so the caller supplies size and direction.
func (c *CoinbaseClient) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	_ = dealID
	_ = direction
	_ = size
	return "", fmt.Errorf("%w: spot close requires product id, use OpenPosition with opposite side", ErrNotSupported)
}

// ListPositions has no broker-side equivalent on a spot venue
func (c *CoinbaseClient) ListPositions(ctx context.Context) ([]Position, error) {
	return nil, nil
}

// GetBalance sums USD account balances
func (c *CoinbaseClient) GetBalance(ctx context.Context) (*AccountBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var accounts []struct {
		Currency  string  `json:"currency"`
		Balance   float64 `json:"balance,string"`
		Available float64 `json:"available,string"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Currency == "USD" || a.Currency == "USDC" {
			return &AccountBalance{Balance: a.Balance, Available: a.Available}, nil
		}
	}
	return &AccountBalance{}, nil
}
