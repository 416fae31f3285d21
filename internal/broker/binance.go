package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trading-platform/internal/logging"
)

const (
	binanceLiveURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
)

// binanceIntervals maps platform timeframes to exchange interval names
var binanceIntervals = map[string]string{
	"M1":  "1m",
	"M5":  "5m",
	"M15": "15m",
	"M30": "30m",
	"H1":  "1h",
	"H4":  "4h",
	"D1":  "1d",
}

// BinanceClient implements the gateway against a Binance style spot API.
// Binance has no deal ids; order ids stand in for them.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewBinanceClient creates a client for one credential set
func NewBinanceClient(apiKey, secretKey string, testnet bool, logger *logging.Logger) *BinanceClient {
	baseURL := binanceLiveURL
	if testnet {
		baseURL = binanceTestnetURL
	}
	return &BinanceClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.WithComponent("binance"),
	}
}

func (c *BinanceClient) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	return doWithRetry(ctx, func() error {
		if params == nil {
			params = url.Values{}
		}
		if signed {
			params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
			params.Set("signature", c.sign(params))
		}

		req, err := http.NewRequestWithContext(ctx, method,
			fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode()), nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

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

// GetLatestPrice returns the current best bid/ask
func (c *BinanceClient) GetLatestPrice(ctx context.Context, epic string) (*PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	var ticker struct {
		BidPrice float64 `json:"bidPrice,string"`
		AskPrice float64 `json:"askPrice,string"`
	}
	params := url.Values{}
	params.Set("symbol", epic)
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", params, false, &ticker); err != nil {
		return nil, err
	}
	return &PriceQuote{
		Epic:      epic,
		Bid:       ticker.BidPrice,
		Ask:       ticker.AskPrice,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetOHLC fetches klines
func (c *BinanceClient) GetOHLC(ctx context.Context, q OHLCQuery) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	interval, ok := binanceIntervals[q.Resolution]
	if !ok {
		return nil, fmt.Errorf("unknown resolution %q", q.Resolution)
	}

	params := url.Values{}
	params.Set("symbol", q.Epic)
	params.Set("interval", interval)
	if q.Max > 0 {
		params.Set("limit", strconv.Itoa(q.Max))
	}
	if q.From != nil {
		params.Set("startTime", strconv.FormatInt(q.From.UnixMilli(), 10))
	}
	if q.To != nil {
		params.Set("endTime", strconv.FormatInt(q.To.UnixMilli(), 10))
	}

	var raw [][]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(int64(openTime)).UTC(),
			Open:      parseStringFloat(k[1]),
			High:      parseStringFloat(k[2]),
			Low:       parseStringFloat(k[3]),
			Close:     parseStringFloat(k[4]),
			Volume:    parseStringFloat(k[5]),
		})
	}
	return candles, nil
}

// MarketDetails checks the symbol exists and is trading
func (c *BinanceClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string  `json:"filterType"`
				MinQty     float64 `json:"minQty,string"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	params := url.Values{}
	params.Set("symbol", epic)
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &info); err != nil {
		return nil, err
	}
	if len(info.Symbols) == 0 {
		return nil, ErrEpicNotFound
	}

	s := info.Symbols[0]
	details := &MarketDetails{
		Epic:      s.Symbol,
		Name:      s.Symbol,
		Tradeable: s.Status == "TRADING",
	}
	for _, f := range s.Filters {
		if f.FilterType == "LOT_SIZE" {
			details.MinDealSize = f.MinQty
		}
	}
	return details, nil
}

// OpenPosition places a market order. Stops are not attached server-side on
// spot; the position monitor enforces them.
func (c *BinanceClient) OpenPosition(ctx context.Context, req OpenPositionRequest) (*DealConfirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var order struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
		Fills   []struct {
			Price float64 `json:"price,string"`
		} `json:"fills"`
	}
	params := url.Values{}
	params.Set("symbol", req.Epic)
	params.Set("side", req.Direction)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(req.Size, 'f', -1, 64))
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &order); err != nil {
		return nil, err
	}

	level := 0.0
	if len(order.Fills) > 0 {
		level = order.Fills[0].Price
	}
	return &DealConfirmation{
		DealID: strconv.FormatInt(order.OrderID, 10),
		Status: DealStatusOpen,
		Level:  level,
	}, nil
}

// ClosePosition closes by placing the opposite market order. The caller
// passes the close direction.
func (c *BinanceClient) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// dealID on Binance is the opening order id; the close is a fresh order
	// for the same quantity. Symbol is not recoverable from the id, so the
	// caller tracks it and closes through OpenPosition-style params.
	_ = dealID
	_ = direction
	_ = size
	return "", fmt.Errorf("%w: spot close requires symbol, use OpenPosition with opposite side", ErrNotSupported)
}

// ListPositions approximates positions from non-zero asset balances
func (c *BinanceClient) ListPositions(ctx context.Context) ([]Position, error) {
	// Spot accounts have balances, not positions. Trades opened here are
	// tracked locally; nothing to enumerate broker-side.
	return nil, nil
}

// GetBalance returns free USDT as the spendable balance
func (c *BinanceClient) GetBalance(ctx context.Context) (*AccountBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var account struct {
		Balances []struct {
			Asset  string  `json:"asset"`
			Free   float64 `json:"free,string"`
			Locked float64 `json:"locked,string"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &account); err != nil {
		return nil, err
	}

	for _, b := range account.Balances {
		if b.Asset == "USDT" {
			return &AccountBalance{Balance: b.Free + b.Locked, Available: b.Free}, nil
		}
	}
	return &AccountBalance{}, nil
}

func parseStringFloat(v interface{}) float64 {
	if s, ok := v.(string); ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
