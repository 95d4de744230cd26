package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledger_scanner/metrics"
	"ledger_scanner/middleware"
	"ledger_scanner/models"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

type Endpoints struct {
	// AddressURL holds a %d verb for the account ID.
	AddressURL   string
	TradesURL    string
	SymbolsURL   string
	MarkPriceURL string
}

// Client talks to the ledger's REST endpoints. Every call carries its own
// timeout and runs through a circuit breaker shared by all calls.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
}

func NewClient(endpoints Endpoints, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Client {
	if breaker == nil {
		breaker = middleware.NewBreaker("ledger", 0, time.Minute)
	}
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{},
		timeout:   timeout,
		breaker:   breaker,
	}
}

// Healthy is false while the breaker refuses calls.
func (c *Client) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// LookupAddress resolves an account ID. A missing account returns found=false
// and no error.
func (c *Client) LookupAddress(ctx context.Context, accountID int64) (string, bool, error) {
	var resp addressResponse
	err := c.get(ctx, "address", fmt.Sprintf(c.endpoints.AddressURL, accountID), &resp)
	if KindOf(err) == KindNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	switch resp.Code {
	case 0:
		if resp.Data.Address == "" {
			return "", false, newError(KindMalformed, "address", errors.New("empty address"))
		}
		return resp.Data.Address, true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, newError(KindMalformed, "address", fmt.Errorf("code %d: %s", resp.Code, resp.Message))
	}
}

// Symbols returns symbol ID -> symbol name.
func (c *Client) Symbols(ctx context.Context) (map[string]string, error) {
	var resp symbolsResponse
	if err := c.get(ctx, "symbols", c.endpoints.SymbolsURL, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Data))
	for _, s := range resp.Data {
		out[string(s.SymbolID)] = s.Name
	}
	return out, nil
}

// MarkPrices returns symbol name -> mark price.
func (c *Client) MarkPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp markPriceResponse
	if err := c.get(ctx, "mark_price", c.endpoints.MarkPriceURL, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(resp.Data))
	for _, p := range resp.Data {
		out[p.Symbol] = p.Price
	}
	return out, nil
}

// Trades fetches one page of an account's trade history.
func (c *Client) Trades(ctx context.Context, accountID int64, q PageQuery) (TradePage, error) {
	u, err := url.Parse(c.endpoints.TradesURL)
	if err != nil {
		return TradePage{}, newError(KindFatal, "trades", err)
	}
	params := u.Query()
	params.Set("account_id", strconv.FormatInt(accountID, 10))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.UseCursor {
		if q.Cursor != "" {
			params.Set("cursor", q.Cursor)
		}
	} else {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	u.RawQuery = params.Encode()

	var resp tradesResponse
	if err := c.get(ctx, "trades", u.String(), &resp); err != nil {
		return TradePage{}, err
	}
	page := TradePage{
		Trades:     make([]models.Trade, 0, len(resp.Data)),
		NextCursor: string(resp.NextCursor),
	}
	for _, r := range resp.Data {
		page.Trades = append(page.Trades, r.toTrade())
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, op, rawURL string, out interface{}) error {
	start := time.Now()
	defer func() { metrics.RecordRequestDuration(op, time.Since(start)) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	passthrough := func(err error) bool { return KindOf(err) != KindTransient }
	return middleware.WithCircuitBreaker(c.breaker, passthrough, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return newError(KindFatal, op, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
				return newError(KindFatal, op, ctxErr)
			}
			return newError(KindTransient, op, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return newError(KindNotFound, op, fmt.Errorf("http status %d", resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return newError(KindTransient, op, fmt.Errorf("http status %d", resp.StatusCode))
		default:
			return newError(KindMalformed, op, fmt.Errorf("http status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return newError(KindTransient, op, err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return newError(KindMalformed, op, fmt.Errorf("decode: %w (body %q)", err, truncate(body, 128)))
		}
		return nil
	})
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
