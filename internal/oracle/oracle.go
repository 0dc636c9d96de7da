// Package oracle adapts the external price feed. The engine treats the feed
// as an oracle: a read-only source of current prices that may be stale by a
// bounded interval, never something it controls.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownSymbol is returned when the feed has no quote for a symbol.
	ErrUnknownSymbol = errors.New("oracle: unknown symbol")

	// ErrUnavailable is returned when the feed cannot be reached in time.
	// The failure is transient; callers may retry with backoff.
	ErrUnavailable = errors.New("oracle: price feed unavailable")
)

// Quote is one symbol's current price as reported by the feed.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// Oracle looks up current prices. Implementations must be safe for
// concurrent use.
type Oracle interface {
	// Price returns the current quote for one symbol.
	Price(ctx context.Context, symbol string) (Quote, error)

	// Prices batch-fetches quotes for many symbols. Symbols the feed cannot
	// serve are simply absent from the result; a partial map with a nil
	// error is a normal outcome so one bad symbol never fails the batch.
	Prices(ctx context.Context, symbols []string) (map[string]Quote, error)
}
