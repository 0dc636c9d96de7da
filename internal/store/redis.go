package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeclash/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot reads on the request path: portfolios and league
// membership. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.cachePortfolio(ctx, p)
	// Membership changed: drop the cached league roster.
	s.rdb.Del(ctx, leagueKey(p.LeagueID))
	return nil
}

func (s *CachedStore) Commit(ctx context.Context, p *model.Portfolio, t *model.Trade) error {
	if err := s.primary.Commit(ctx, p, t); err != nil {
		return err
	}
	// Invalidate rather than write the mutated copy: the next read
	// re-populates from the source of truth.
	s.rdb.Del(ctx, portfolioKey(p.UserID, p.LeagueID), leagueKey(p.LeagueID))
	return nil
}

func (s *CachedStore) UpdateValuation(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.UpdateValuation(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, portfolioKey(p.UserID, p.LeagueID), leagueKey(p.LeagueID))
	return nil
}

func (s *CachedStore) UpsertAchievementProgress(ctx context.Context, ap *model.AchievementProgress) error {
	if err := s.primary.UpsertAchievementProgress(ctx, ap); err != nil {
		return err
	}
	s.rdb.Del(ctx, progressKey(ap.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(userID, leagueID)).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPortfolio(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	s.cachePortfolio(ctx, p)
	return p, nil
}

func (s *CachedStore) ListLeaguePortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, leagueKey(leagueID)).Bytes()
	if err == nil {
		var ps []model.Portfolio
		if json.Unmarshal(data, &ps) == nil {
			return ps, nil
		}
	}

	ps, err := s.primary.ListLeaguePortfolios(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ps); err == nil {
		s.rdb.Set(ctx, leagueKey(leagueID), data, s.ttl)
	}
	return ps, nil
}

func (s *CachedStore) ListAchievementProgress(ctx context.Context, userID string) ([]model.AchievementProgress, error) {
	data, err := s.rdb.Get(ctx, progressKey(userID)).Bytes()
	if err == nil {
		var aps []model.AchievementProgress
		if json.Unmarshal(data, &aps) == nil {
			return aps, nil
		}
	}

	aps, err := s.primary.ListAchievementProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(aps); err == nil {
		s.rdb.Set(ctx, progressKey(userID), data, s.ttl)
	}
	return aps, nil
}

// --- Passthrough (the trade log is append-only and paged; not cached) ---

func (s *CachedStore) ListLeagues(ctx context.Context) ([]string, error) {
	return s.primary.ListLeagues(ctx)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID, leagueID string, f TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID, leagueID, f)
}

func (s *CachedStore) ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListUserTrades(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePortfolio(ctx context.Context, p *model.Portfolio) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioKey(p.UserID, p.LeagueID), data, s.ttl)
	}
}

func portfolioKey(userID, leagueID string) string {
	return fmt.Sprintf("portfolio:%s:%s", userID, leagueID)
}
func leagueKey(id string) string       { return fmt.Sprintf("league:%s", id) }
func progressKey(userID string) string { return fmt.Sprintf("progress:%s", userID) }

// compile-time check
var _ Store = (*CachedStore)(nil)
