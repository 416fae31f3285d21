package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trading-platform/internal/logging"
)

// GenericClient talks to a custom broker exposing the minimal REST shape
// the platform assumes: markets/{epic}, prices/{epic}, positions. The
// credential payload supplies the base URL and a bearer token.
type GenericClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewGenericClient creates a client for a custom broker endpoint
func NewGenericClient(baseURL, token string, logger *logging.Logger) *GenericClient {
	return &GenericClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.WithComponent("custom-broker"),
	}
}

func (c *GenericClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return doWithRetry(ctx, func() error {
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
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
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

// GetLatestPrice fetches prices/{epic}/latest
func (c *GenericClient) GetLatestPrice(ctx context.Context, epic string) (*PriceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	var quote PriceQuote
	if err := c.do(ctx, http.MethodGet, "/prices/"+url.PathEscape(epic)+"/latest", nil, &quote); err != nil {
		return nil, err
	}
	quote.Epic = epic
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now().UTC()
	}
	return &quote, nil
}

// GetOHLC fetches prices/{epic} with resolution and range parameters
func (c *GenericClient) GetOHLC(ctx context.Context, q OHLCQuery) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("resolution", q.Resolution)
	if q.Max > 0 {
		params.Set("max", strconv.Itoa(q.Max))
	}
	if q.From != nil {
		params.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		params.Set("to", q.To.UTC().Format(time.RFC3339))
	}

	var candles []Candle
	path := fmt.Sprintf("/prices/%s?%s", url.PathEscape(q.Epic), params.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// MarketDetails fetches markets/{epic}
func (c *GenericClient) MarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	var details MarketDetails
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(epic), nil, &details); err != nil {
		return nil, err
	}
	details.Epic = epic
	return &details, nil
}

// OpenPosition posts to /positions
func (c *GenericClient) OpenPosition(ctx context.Context, req OpenPositionRequest) (*DealConfirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var confirm DealConfirmation
	if err := c.do(ctx, http.MethodPost, "/positions", req, &confirm); err != nil {
		return nil, err
	}
	if confirm.Status == "" {
		confirm.Status = DealStatusOpen
	}
	return &confirm, nil
}

// ClosePosition deletes /positions/{dealId}
func (c *GenericClient) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body := map[string]interface{}{"direction": direction, "size": size}
	if err := c.do(ctx, http.MethodDelete, "/positions/"+url.PathEscape(dealID), body, nil); err != nil {
		return "", err
	}
	return DealStatusAccepted, nil
}

// ListPositions fetches /positions
func (c *GenericClient) ListPositions(ctx context.Context) ([]Position, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp struct {
		Positions []Position `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// GetBalance fetches /accounts
func (c *GenericClient) GetBalance(ctx context.Context) (*AccountBalance, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var balance AccountBalance
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}
