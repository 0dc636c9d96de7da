package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tradeclash/trade-engine/internal/model"
)

const defaultPageSize = 50

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[string]*model.Portfolio // key: userID|leagueID
	trades     []model.Trade               // append-only, commit order
	progress   map[string]*model.AchievementProgress
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]*model.Portfolio),
		progress:   make(map[string]*model.AchievementProgress),
	}
}

func pkey(userID, leagueID string) string { return userID + "|" + leagueID }
func akey(userID, achID string) string    { return userID + "|" + achID }

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pkey(p.UserID, p.LeagueID)
	if _, ok := s.portfolios[key]; ok {
		return fmt.Errorf("%w: portfolio %s/%s", ErrAlreadyExists, p.UserID, p.LeagueID)
	}
	s.portfolios[key] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID, leagueID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[pkey(userID, leagueID)]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, userID, leagueID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Commit(_ context.Context, p *model.Portfolio, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pkey(p.UserID, p.LeagueID)
	if _, ok := s.portfolios[key]; !ok {
		return fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, p.UserID, p.LeagueID)
	}
	// Single lock: portfolio swap and ledger append happen together.
	s.portfolios[key] = p.Clone()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) UpdateValuation(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.portfolios[pkey(p.UserID, p.LeagueID)]
	if !ok {
		return fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, p.UserID, p.LeagueID)
	}
	cur.TotalValue = p.TotalValue
	cur.Stale = p.Stale
	cur.UpdatedAt = p.UpdatedAt
	for _, h := range p.Holdings {
		if have := cur.Holding(h.Symbol); have != nil {
			have.LastPrice = h.LastPrice
		}
	}
	return nil
}

func (s *MemoryStore) ListLeaguePortfolios(_ context.Context, leagueID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Portfolio
	for _, p := range s.portfolios {
		if p.LeagueID == leagueID {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) ListLeagues(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var leagues []string
	for _, p := range s.portfolios {
		if _, ok := seen[p.LeagueID]; !ok {
			seen[p.LeagueID] = struct{}{}
			leagues = append(leagues, p.LeagueID)
		}
	}
	sort.Strings(leagues)
	return leagues, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID, leagueID string, f TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	var out []model.Trade
	skipped := 0
	// Newest first: walk the append-only log backwards.
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.trades[i]
		if t.UserID != userID || t.LeagueID != leagueID {
			continue
		}
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.Side != "" && t.Side != f.Side {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) ListUserTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAchievementProgress(_ context.Context, userID string) ([]model.AchievementProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AchievementProgress
	for _, ap := range s.progress {
		if ap.UserID == userID {
			out = append(out, *ap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

func (s *MemoryStore) UpsertAchievementProgress(_ context.Context, ap *model.AchievementProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ap
	if ap.UnlockedAt != nil {
		at := *ap.UnlockedAt
		cp.UnlockedAt = &at
	}
	// An unlock never reverts, and the first unlock time sticks.
	key := akey(ap.UserID, ap.AchievementID)
	if prev, ok := s.progress[key]; ok {
		cp.Unlocked = cp.Unlocked || prev.Unlocked
		if prev.UnlockedAt != nil {
			at := *prev.UnlockedAt
			cp.UnlockedAt = &at
		}
	}
	s.progress[key] = &cp
	return nil
}

// compile-time check
var _ Store = (*MemoryStore)(nil)
