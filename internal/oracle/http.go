package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Client is an HTTP price-feed client with request rate limiting and a
// bounded per-request timeout. The feed endpoint is expected to serve
// GET {base}/quotes/{symbol} with a JSON Quote body, 404 for unknown symbols.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient creates a feed client. ratePerSec bounds outbound request rate
// so a burst of portfolio revaluations cannot hammer the upstream feed.
func NewClient(base string, timeout time.Duration, ratePerSec, burst int) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

func (c *Client) Price(ctx context.Context, symbol string) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	u := c.base + "/quotes/" + url.PathEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	default:
		return Quote{}, fmt.Errorf("%w: feed returned %d", ErrUnavailable, resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("%w: decode quote: %v", ErrUnavailable, err)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.AsOf.IsZero() {
		q.AsOf = time.Now().UTC()
	}
	return q, nil
}

// Prices fetches each symbol individually, tolerating per-symbol failures.
// Only a context cancellation aborts the batch.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	quotes := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		q, err := c.Price(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return quotes, ctx.Err()
			}
			if errors.Is(err, ErrUnknownSymbol) || errors.Is(err, ErrUnavailable) {
				continue
			}
			return quotes, err
		}
		quotes[sym] = q
	}
	return quotes, nil
}
