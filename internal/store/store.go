// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/tradeclash/trade-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a record that is already
	// present, e.g. joining a league twice.
	ErrAlreadyExists = errors.New("store: already exists")
)

// TradeFilter narrows and pages a trade-history query. Results are always
// ordered newest-first.
type TradeFilter struct {
	Symbol string     // empty = all symbols
	Side   model.Side // empty = both sides
	Limit  int        // 0 = implementation default
	Offset int
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Commit is the only write that touches both the portfolio and the trade
// log; implementations must apply it atomically — a trade appended without
// its portfolio update (or vice versa) is forbidden.
type Store interface {
	// --- Portfolios ---

	// CreatePortfolio persists a new portfolio for a (user, league) pair.
	// Returns ErrAlreadyExists if one exists.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio retrieves the portfolio for a (user, league) pair.
	GetPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error)

	// Commit atomically writes the mutated portfolio and appends the
	// immutable trade produced by the same execution.
	Commit(ctx context.Context, p *model.Portfolio, t *model.Trade) error

	// UpdateValuation writes a recomputed total value and per-holding last
	// prices. Cash and quantities are not touched.
	UpdateValuation(ctx context.Context, p *model.Portfolio) error

	// ListLeaguePortfolios returns every portfolio in a league.
	ListLeaguePortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error)

	// ListLeagues returns the ids of all leagues with at least one member.
	ListLeagues(ctx context.Context) ([]string, error)

	// --- Immutable trade log ---

	// ListTrades returns one portfolio's trades newest-first, filtered and
	// paged by f.
	ListTrades(ctx context.Context, userID, leagueID string, f TradeFilter) ([]model.Trade, error)

	// ListUserTrades returns all of a user's trades across leagues in
	// commit order (oldest first) — the authoritative order for statistics.
	ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Achievement progress ---

	// ListAchievementProgress returns all progress rows for a user.
	ListAchievementProgress(ctx context.Context, userID string) ([]model.AchievementProgress, error)

	// UpsertAchievementProgress creates or updates one progress row.
	UpsertAchievementProgress(ctx context.Context, ap *model.AchievementProgress) error
}
