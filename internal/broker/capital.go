package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"trading-platform/internal/logging"
)

const (
	capitalLiveURL = "https://api-capital.backend-capital.com"
	capitalDemoURL = "https://demo-api-capital.backend-capital.com"
)

// capitalResolutions maps platform timeframes to the vendor's resolution names
var capitalResolutions = map[string]string{
	"M1":  "MINUTE",
	"M5":  "MINUTE_5",
	"M15": "MINUTE_15",
	"M30": "MINUTE_30",
	"H1":  "HOUR",
	"H4":  "HOUR_4",
	"D1":  "DAY",
}

// CapitalClient talks to a Capital.com style CFD API. Sessions are
// established lazily and refreshed once when the broker reports 401.
type CapitalClient struct {
	apiKey     string
	identifier string
	password   string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger

	mu            sync.Mutex
	cst           string
	securityToken string
}

// NewCapitalClient creates a client for one credential set
func NewCapitalClient(apiKey, identifier, password string, demo bool, logger *logging.Logger) *CapitalClient {
	baseURL := capitalLiveURL
	if demo {
		baseURL = capitalDemoURL
	}
	return &CapitalClient{
		apiKey:     apiKey,
		identifier: identifier,
		password:   password,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.WithComponent("capital"),
	}
}

// authenticate opens a new session and stores the session tokens
func (c *CapitalClient) authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]interface{}{
		"identifier":        c.identifier,
		"password":          c.password,
		"encryptedPassword": false,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if err := classifyStatus(resp.StatusCode); err != nil {
			return fmt.Errorf("session rejected: %w", err)
		}
	}

	cst := resp.Header.Get("CST")
	securityToken := resp.Header.Get("X-SECURITY-TOKEN")
	c.mu.Lock()
	c.cst = cst
	c.securityToken = securityToken
	c.mu.Unlock()

	if cst == "" || securityToken == "" {
		return fmt.Errorf("%w: session response missing tokens", ErrAuthFailed)
	}
	c.logger.Debug("Capital session established")
	return nil
}

func (c *CapitalClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	have := c.cst != "" && c.securityToken != ""
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.authenticate(ctx)
}

func (c *CapitalClient) clearSession() {
	c.mu.Lock()
	c.cst = ""
	c.securityToken = ""
	c.mu.Unlock()
}

// request performs one authenticated call with the retry/backoff policy.
// On 401 the session is re-established once before the call is retried.
func (c *CapitalClient) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	reauthed := false

	return doWithRetry(ctx, func() error {
		if err := c.ensureSession(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encoding request body: %w", err)
			}
			reader = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CAP-API-KEY", c.apiKey)
		c.mu.Lock()
		req.Header.Set("CST", c.cst)
		req.Header.Set("X-SECURITY-TOKEN", c.securityToken)
		c.mu.Unlock()

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
			if errors.Is(statusErr, ErrAuthFailed) && !reauthed {
				reauthed = true
				c.clearSession()
				if err := c.authenticate(ctx); err != nil {
					return err
				}
				// retryableError lets the retry loop replay the call once
				return &retryableError{status: http.StatusServiceUnavailable}
			}
			return statusErr
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
}

// GetLatestPrice returns the current bid/ask from the market snapshot
func (c *CapitalClient) GetLatestPrice(ctx context.Context, epic string) (*PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	details, err := c.MarketDetails(ctx, epic)
	if err != nil {
		return nil, err
	}
	return &PriceQuote{
		Epic:      epic,
		Bid:       details.Bid,
		Ask:       details.Ask,
		Timestamp: time.Now().UTC(),
	}, nil
}

type capitalPricesResponse struct {
	Prices []struct {
		SnapshotTime string `json:"snapshotTime"`
		OpenPrice    struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"openPrice"`
		HighPrice struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"highPrice"`
		LowPrice struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"lowPrice"`
		ClosePrice struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"closePrice"`
		LastTradedVolume float64 `json:"lastTradedVolume"`
	} `json:"prices"`
}

// GetOHLC fetches candles for an epic
func (c *CapitalClient) GetOHLC(ctx context.Context, q OHLCQuery) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resolution, ok := capitalResolutions[q.Resolution]
	if !ok {
		return nil, fmt.Errorf("unknown resolution %q", q.Resolution)
	}

	params := url.Values{}
	params.Set("resolution", resolution)
	if q.Max > 0 {
		params.Set("max", strconv.Itoa(q.Max))
	}
	if q.From != nil {
		params.Set("from", q.From.UTC().Format("2006-01-02T15:04:05"))
	}
	if q.To != nil {
		params.Set("to", q.To.UTC().Format("2006-01-02T15:04:05"))
	}

	var resp capitalPricesResponse
	path := fmt.Sprintf("/api/v1/prices/%s?%s", q.Epic, params.Encode())
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		ts, _ := time.Parse("2006-01-02T15:04:05", p.SnapshotTime)
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      (p.OpenPrice.Bid + p.OpenPrice.Ask) / 2,
			High:      (p.HighPrice.Bid + p.HighPrice.Ask) / 2,
			Low:       (p.LowPrice.Bid + p.LowPrice.Ask) / 2,
			Close:     (p.ClosePrice.Bid + p.ClosePrice.Ask) / 2,
			Volume:    p.LastTradedVolume,
		})
	}
	return candles, nil
}

type capitalMarketResponse struct {
	Instrument struct {
		Epic string `json:"epic"`
		Name string `json:"name"`
	} `json:"instrument"`
	DealingRules struct {
		MinDealSize struct {
			Value float64 `json:"value"`
		} `json:"minDealSize"`
	} `json:"dealingRules"`
	Snapshot struct {
		MarketStatus string  `json:"marketStatus"`
		Bid          float64 `json:"bid"`
		Offer        float64 `json:"offer"`
	} `json:"snapshot"`
}

// MarketDetails fetches instrument details and a price snapshot
func (c *CapitalClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	var resp capitalMarketResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/markets/"+url.PathEscape(epic), nil, &resp); err != nil {
		return nil, err
	}
	return &MarketDetails{
		Epic:        epic,
		Name:        resp.Instrument.Name,
		Tradeable:   resp.Snapshot.MarketStatus == "TRADEABLE",
		MinDealSize: resp.DealingRules.MinDealSize.Value,
		Bid:         resp.Snapshot.Bid,
		Ask:         resp.Snapshot.Offer,
	}, nil
}

type capitalDealReference struct {
	DealReference string `json:"dealReference"`
}

type capitalConfirmResponse struct {
	DealID     string  `json:"dealId"`
	DealStatus string  `json:"dealStatus"`
	Status     string  `json:"status"`
	Level      float64 `json:"level"`
}

// OpenPosition opens a position and confirms the resulting deal
func (c *CapitalClient) OpenPosition(ctx context.Context, req OpenPositionRequest) (*DealConfirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body := map[string]interface{}{
		"epic":      req.Epic,
		"direction": req.Direction,
		"size":      req.Size,
	}
	if req.StopLoss != nil {
		body["stopLevel"] = *req.StopLoss
	}
	if req.TakeProfit != nil {
		body["profitLevel"] = *req.TakeProfit
	}

	var ref capitalDealReference
	if err := c.request(ctx, http.MethodPost, "/api/v1/positions", body, &ref); err != nil {
		return nil, err
	}

	var confirm capitalConfirmResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/confirms/"+url.PathEscape(ref.DealReference), nil, &confirm); err != nil {
		// The order went in; surface the reference so the ledger can still attribute it
		c.logger.WithError(err).Warn("Deal confirmation fetch failed", "deal_reference", ref.DealReference)
		return &DealConfirmation{DealID: ref.DealReference, Status: DealStatusAccepted}, nil
	}

	status := confirm.DealStatus
	if status == "" {
		status = confirm.Status
	}
	if status == "REJECTED" {
		return nil, fmt.Errorf("broker rejected deal %s", confirm.DealID)
	}
	return &DealConfirmation{DealID: confirm.DealID, Status: DealStatusOpen, Level: confirm.Level}, nil
}

// ClosePosition closes (part of) a position by deal id
func (c *CapitalClient) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.request(ctx, http.MethodDelete, "/api/v1/positions/"+url.PathEscape(dealID), nil, nil); err != nil {
		return "", err
	}
	return DealStatusAccepted, nil
}

type capitalPositionsResponse struct {
	Positions []struct {
		Position struct {
			DealID      string  `json:"dealId"`
			Direction   string  `json:"direction"`
			Size        float64 `json:"size"`
			Level       float64 `json:"level"`
			CreatedDate string  `json:"createdDateUTC"`
		} `json:"position"`
		Market struct {
			Epic string `json:"epic"`
		} `json:"market"`
	} `json:"positions"`
}

// ListPositions lists all open positions on the credential's account
func (c *CapitalClient) ListPositions(ctx context.Context) ([]Position, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp capitalPositionsResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/positions", nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		created, _ := time.Parse("2006-01-02T15:04:05", p.Position.CreatedDate)
		positions = append(positions, Position{
			DealID:      p.Position.DealID,
			Epic:        p.Market.Epic,
			Direction:   p.Position.Direction,
			Size:        p.Position.Size,
			OpenLevel:   p.Position.Level,
			CreatedDate: created,
		})
	}
	return positions, nil
}

type capitalAccountsResponse struct {
	Accounts []struct {
		Balance struct {
			Balance   float64 `json:"balance"`
			Available float64 `json:"available"`
			ProfitLoss float64 `json:"profitLoss"`
		} `json:"balance"`
	} `json:"accounts"`
}

// GetBalance returns the primary account balance
func (c *CapitalClient) GetBalance(ctx context.Context) (*AccountBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp capitalAccountsResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts on credential")
	}
	b := resp.Accounts[0].Balance
	return &AccountBalance{Balance: b.Balance, Available: b.Available, PnL: b.ProfitLoss}, nil
}
