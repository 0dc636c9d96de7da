// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the two supported sides.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Holding is a quantity of one symbol owned within a portfolio, with its
// weighted-average cost basis and the last price used to mark it to market.
type Holding struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	LastPrice decimal.Decimal `json:"last_price" db:"last_price"`
}

// MarketValue returns quantity * lastPrice.
func (h Holding) MarketValue() decimal.Decimal {
	return decimal.NewFromInt(h.Quantity).Mul(h.LastPrice)
}

// Portfolio is a user's simulated cash plus holdings within one league.
// There is exactly one portfolio per (user, league) pair. Holdings are kept
// ordered by symbol. TotalValue is derived and cached; it is only ever
// written together with the recomputation that produced it.
type Portfolio struct {
	UserID     string          `json:"user_id" db:"user_id"`
	LeagueID   string          `json:"league_id" db:"league_id"`
	Cash       decimal.Decimal `json:"cash" db:"cash"`
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"`
	Stale      bool            `json:"stale" db:"stale"` // last valuation used a fallback price
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// Holding returns the holding for symbol, or nil if the portfolio holds none.
func (p *Portfolio) Holding(symbol string) *Holding {
	i := sort.Search(len(p.Holdings), func(i int) bool { return p.Holdings[i].Symbol >= symbol })
	if i < len(p.Holdings) && p.Holdings[i].Symbol == symbol {
		return &p.Holdings[i]
	}
	return nil
}

// SetHolding inserts or replaces the holding for h.Symbol, keeping the
// holdings slice ordered by symbol.
func (p *Portfolio) SetHolding(h Holding) {
	i := sort.Search(len(p.Holdings), func(i int) bool { return p.Holdings[i].Symbol >= h.Symbol })
	if i < len(p.Holdings) && p.Holdings[i].Symbol == h.Symbol {
		p.Holdings[i] = h
		return
	}
	p.Holdings = append(p.Holdings, Holding{})
	copy(p.Holdings[i+1:], p.Holdings[i:])
	p.Holdings[i] = h
}

// RemoveHolding deletes the holding for symbol if present.
func (p *Portfolio) RemoveHolding(symbol string) {
	i := sort.Search(len(p.Holdings), func(i int) bool { return p.Holdings[i].Symbol >= symbol })
	if i < len(p.Holdings) && p.Holdings[i].Symbol == symbol {
		p.Holdings = append(p.Holdings[:i], p.Holdings[i+1:]...)
	}
}

// Clone returns a deep copy. Stores hand out clones so callers never mutate
// shared state outside the ledger's serialization gate.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Holdings = make([]Holding, len(p.Holdings))
	copy(cp.Holdings, p.Holdings)
	return &cp
}

// Trade is an immutable record of one executed order. Once created, trades
// are never modified or deleted; the trade log is the sole source of truth
// for cumulative trading statistics.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	LeagueID    string          `json:"league_id" db:"league_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        Side            `json:"side" db:"side"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	Total       decimal.Decimal `json:"total" db:"total"`               // cost for BUY, proceeds for SELL
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // sells only; zero for buys
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// AchievementProgress tracks one user's progress toward one achievement.
// Created lazily on first evaluation. Unlocked is monotonic: once true it is
// never reset, and UnlockedAt is written exactly once on that transition.
type AchievementProgress struct {
	UserID        string          `json:"user_id" db:"user_id"`
	AchievementID string          `json:"achievement_id" db:"achievement_id"`
	Current       decimal.Decimal `json:"current" db:"current"`
	Required      decimal.Decimal `json:"required" db:"required"`
	Percent       decimal.Decimal `json:"percent" db:"percent"` // capped at 100
	Unlocked      bool            `json:"unlocked" db:"unlocked"`
	UnlockedAt    *time.Time      `json:"unlocked_at,omitempty" db:"unlocked_at"`
}

// LeaderboardEntry is one row of a league ranking. It is derived entirely
// from the member's portfolio valuation, never independently authored.
type LeaderboardEntry struct {
	LeagueID   string          `json:"league_id"`
	UserID     string          `json:"user_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	Rank       int             `json:"rank"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StatsSnapshot is a point-in-time view of one user's trading statistics,
// derived from the trade log and the current portfolio. Achievement criteria
// are evaluated against this fixed shape only.
type StatsSnapshot struct {
	TotalTrades   int64
	BuyTrades     int64
	SellTrades    int64
	RealizedPnL   decimal.Decimal
	WinStreak     int64 // consecutive profitable sells, counted from the log tail
	BestWinStreak int64
	SymbolsTraded int64 // distinct symbols ever traded
	SymbolsHeld   int64 // distinct symbols currently held
	TotalValue    decimal.Decimal
	Cash          decimal.Decimal
	TakenAt       time.Time
}
