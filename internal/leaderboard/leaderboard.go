// Package leaderboard maintains per-league rankings of participant
// portfolio values. The board is a materialized view: it is rebuilt from
// portfolios on structural changes (join/leave) and patched incrementally on
// valuation changes, never independently authored.
package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
)

// entry is one member's cached standing.
type entry struct {
	userID    string
	total     decimal.Decimal
	updatedAt time.Time
}

// league holds one league's sorted entries under its own lock, so a slow
// operation on one league never blocks reads on another.
type league struct {
	mu     sync.RWMutex
	sorted []*entry // descending total, ties ascending userID
	byUser map[string]*entry
}

// Board aggregates all league leaderboards.
type Board struct {
	mu      sync.RWMutex
	leagues map[string]*league
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{leagues: make(map[string]*league)}
}

func (b *Board) league(id string) *league {
	b.mu.RLock()
	l, ok := b.leagues[id]
	b.mu.RUnlock()
	if ok {
		return l
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok = b.leagues[id]; !ok {
		l = &league{byUser: make(map[string]*entry)}
		b.leagues[id] = l
	}
	return l
}

// before reports whether a ranks ahead of b: higher total first, ties broken
// by ascending user id so the ordering is total and stable.
func before(a, b *entry) bool {
	if !a.total.Equal(b.total) {
		return a.total.GreaterThan(b.total)
	}
	return a.userID < b.userID
}

// Rebuild replaces a league's board from a full portfolio read. Used on
// startup and on membership changes (join/leave); trading never needs it.
func (b *Board) Rebuild(leagueID string, portfolios []model.Portfolio) {
	l := b.league(leagueID)
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.sorted = l.sorted[:0]
	l.byUser = make(map[string]*entry, len(portfolios))
	for _, p := range portfolios {
		e := &entry{userID: p.UserID, total: p.TotalValue, updatedAt: now}
		l.sorted = append(l.sorted, e)
		l.byUser[p.UserID] = e
	}
	sort.SliceStable(l.sorted, func(i, j int) bool { return before(l.sorted[i], l.sorted[j]) })
}

// Upsert patches one member's cached value and restores ordering by moving
// only that entry. The rest of the board is untouched, so a trade costs
// O(log n) search + O(shift) instead of a full resort.
func (b *Board) Upsert(leagueID, userID string, total decimal.Decimal) {
	l := b.league(leagueID)
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byUser[userID]
	if ok {
		// Remove from its current slot.
		i := sort.Search(len(l.sorted), func(i int) bool { return !before(l.sorted[i], e) })
		for i < len(l.sorted) && l.sorted[i] != e {
			i++ // equal-key neighbors; walk to the exact entry
		}
		if i < len(l.sorted) {
			l.sorted = append(l.sorted[:i], l.sorted[i+1:]...)
		}
		e.total = total
	} else {
		e = &entry{userID: userID, total: total}
		l.byUser[userID] = e
	}
	e.updatedAt = time.Now().UTC()

	// Re-insert at the slot the new value sorts to.
	i := sort.Search(len(l.sorted), func(i int) bool { return !before(l.sorted[i], e) })
	l.sorted = append(l.sorted, nil)
	copy(l.sorted[i+1:], l.sorted[i:])
	l.sorted[i] = e
}

// Remove drops a member from a league's board.
func (b *Board) Remove(leagueID, userID string) {
	l := b.league(leagueID)
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byUser[userID]
	if !ok {
		return
	}
	delete(l.byUser, userID)
	for i, se := range l.sorted {
		if se == e {
			l.sorted = append(l.sorted[:i], l.sorted[i+1:]...)
			break
		}
	}
}

// Rank returns a member's 1-based rank, or false if they are not on the board.
func (b *Board) Rank(leagueID, userID string) (int, bool) {
	l := b.league(leagueID)
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byUser[userID]
	if !ok {
		return 0, false
	}
	i := sort.Search(len(l.sorted), func(i int) bool { return !before(l.sorted[i], e) })
	for i < len(l.sorted) && l.sorted[i] != e {
		i++
	}
	return i + 1, true
}

// TopN returns the first n entries of a league's ranking. n <= 0 returns the
// whole board.
func (b *Board) TopN(leagueID string, n int) []model.LeaderboardEntry {
	l := b.league(leagueID)
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.sorted) {
		n = len(l.sorted)
	}
	out := make([]model.LeaderboardEntry, 0, n)
	for i := 0; i < n; i++ {
		e := l.sorted[i]
		out = append(out, model.LeaderboardEntry{
			LeagueID:   leagueID,
			UserID:     e.userID,
			TotalValue: e.total,
			Rank:       i + 1,
			UpdatedAt:  e.updatedAt,
		})
	}
	return out
}

// Size returns the number of members on a league's board.
func (b *Board) Size(leagueID string) int {
	l := b.league(leagueID)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sorted)
}
