// Package valuation recomputes portfolio value from cash plus mark-to-market
// holdings. It runs after every ledger commit and on a periodic tick so
// displayed value stays fresh even when nobody is trading.
package valuation

import (
	"context"
	"log/slog"
	"time"

	"github.com/tradeclash/trade-engine/internal/model"
	"github.com/tradeclash/trade-engine/internal/oracle"
	"github.com/tradeclash/trade-engine/internal/store"
)

// Revalue updates p's per-holding last prices and cached total value using a
// batch oracle fetch. Cash and quantities are never touched. A symbol the
// oracle cannot serve falls back to its average cost basis and marks the
// valuation stale; it never fails the recomputation for the other symbols.
// Returns true if any holding needed the fallback.
func Revalue(ctx context.Context, orc oracle.Oracle, p *model.Portfolio) bool {
	symbols := make([]string, len(p.Holdings))
	for i, h := range p.Holdings {
		symbols[i] = h.Symbol
	}

	quotes, err := orc.Prices(ctx, symbols)
	if err != nil {
		// Total feed failure: value everything at cost basis.
		quotes = nil
	}

	stale := false
	total := p.Cash
	for i := range p.Holdings {
		h := &p.Holdings[i]
		if q, ok := quotes[h.Symbol]; ok {
			h.LastPrice = q.Price
		} else {
			h.LastPrice = h.AvgCost
			stale = true
		}
		total = total.Add(h.MarketValue())
	}

	p.TotalValue = total
	p.Stale = stale
	p.UpdatedAt = time.Now().UTC()
	return stale
}

// Listener is notified with the freshly revalued portfolio after each
// periodic pass. The leaderboard aggregator and realtime broadcaster hang
// off this.
type Listener func(p *model.Portfolio)

// Ticker drives periodic revaluation of every portfolio in every league.
type Ticker struct {
	store    store.Store
	oracle   oracle.Oracle
	interval time.Duration
	onChange Listener
}

// NewTicker creates a periodic revaluation loop. onChange may be nil.
func NewTicker(st store.Store, orc oracle.Oracle, interval time.Duration, onChange Listener) *Ticker {
	return &Ticker{store: st, oracle: orc, interval: interval, onChange: onChange}
}

// Run blocks until ctx is cancelled, revaluing all portfolios every interval.
// Must be called in a goroutine.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pass(ctx)
		}
	}
}

func (t *Ticker) pass(ctx context.Context) {
	leagues, err := t.store.ListLeagues(ctx)
	if err != nil {
		slog.Error("valuation pass: list leagues", "err", err)
		return
	}

	for _, leagueID := range leagues {
		portfolios, err := t.store.ListLeaguePortfolios(ctx, leagueID)
		if err != nil {
			slog.Error("valuation pass: list portfolios", "league", leagueID, "err", err)
			continue
		}
		for i := range portfolios {
			p := &portfolios[i]
			before := p.TotalValue
			stale := Revalue(ctx, t.oracle, p)

			if err := t.store.UpdateValuation(ctx, p); err != nil {
				slog.Error("valuation pass: persist", "user", p.UserID, "league", leagueID, "err", err)
				continue
			}
			if stale {
				slog.Warn("valuation used fallback prices", "user", p.UserID, "league", leagueID)
			}
			if t.onChange != nil && !p.TotalValue.Equal(before) {
				t.onChange(p)
			}
		}
	}
}
