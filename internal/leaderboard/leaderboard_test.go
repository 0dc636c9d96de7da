package leaderboard

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/trade-engine/internal/model"
)

func dec(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func portfolio(userID string, total int64) model.Portfolio {
	return model.Portfolio{UserID: userID, LeagueID: "weekly", TotalValue: dec(total)}
}

func userIDs(entries []model.LeaderboardEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	return ids
}

func TestRebuild_OrdersByValueDescending(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("carol", 95000),
		portfolio("alice", 112000),
		portfolio("bob", 101500),
	})

	top := b.TopN("weekly", 0)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, userIDs(top))
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 3, top[2].Rank)
	assert.True(t, top[0].TotalValue.Equal(dec(112000)))
}

func TestRebuild_TiesBreakByUserID(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("zoe", 100000),
		portfolio("abe", 100000),
		portfolio("mia", 100000),
	})

	assert.Equal(t, []string{"abe", "mia", "zoe"}, userIDs(b.TopN("weekly", 0)))
}

func TestUpsert_MovesOnlyTheChangedEntry(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("alice", 300),
		portfolio("bob", 200),
		portfolio("carol", 100),
	})

	// carol overtakes bob.
	b.Upsert("weekly", "carol", dec(250))
	assert.Equal(t, []string{"alice", "carol", "bob"}, userIDs(b.TopN("weekly", 0)))

	// alice falls to the bottom.
	b.Upsert("weekly", "alice", dec(50))
	assert.Equal(t, []string{"carol", "bob", "alice"}, userIDs(b.TopN("weekly", 0)))

	// Value change without a rank change keeps position.
	b.Upsert("weekly", "bob", dec(210))
	assert.Equal(t, []string{"carol", "bob", "alice"}, userIDs(b.TopN("weekly", 0)))
}

func TestUpsert_InsertsUnknownMember(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{portfolio("alice", 300)})

	b.Upsert("weekly", "dave", dec(400))
	assert.Equal(t, []string{"dave", "alice"}, userIDs(b.TopN("weekly", 0)))
	assert.Equal(t, 2, b.Size("weekly"))
}

func TestUpsert_MatchesFullResort(t *testing.T) {
	const members = 40
	rng := rand.New(rand.NewSource(7))

	b := NewBoard()
	want := make(map[string]decimal.Decimal, members)
	var seed []model.Portfolio
	for i := 0; i < members; i++ {
		id := fmt.Sprintf("user-%02d", i)
		v := dec(rng.Int63n(1000))
		want[id] = v
		seed = append(seed, model.Portfolio{UserID: id, TotalValue: v})
	}
	b.Rebuild("weekly", seed)

	// Random incremental updates, occasionally reusing values to force ties.
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("user-%02d", rng.Intn(members))
		v := dec(rng.Int63n(100))
		want[id] = v
		b.Upsert("weekly", id, v)
	}

	ids := make([]string, 0, members)
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, z := ids[i], ids[j]
		if !want[a].Equal(want[z]) {
			return want[a].GreaterThan(want[z])
		}
		return a < z
	})

	got := userIDs(b.TopN("weekly", 0))
	require.Equal(t, ids, got, "incremental maintenance must match a full resort")
}

func TestRank(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("alice", 300),
		portfolio("bob", 200),
	})

	rank, ok := b.Rank("weekly", "bob")
	require.True(t, ok)
	assert.Equal(t, 2, rank)

	_, ok = b.Rank("weekly", "nobody")
	assert.False(t, ok)

	_, ok = b.Rank("empty-league", "alice")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("alice", 300),
		portfolio("bob", 200),
	})

	b.Remove("weekly", "alice")
	assert.Equal(t, []string{"bob"}, userIDs(b.TopN("weekly", 0)))

	rank, ok := b.Rank("weekly", "bob")
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	b.Remove("weekly", "ghost") // no-op
	assert.Equal(t, 1, b.Size("weekly"))
}

func TestTopN_Truncates(t *testing.T) {
	b := NewBoard()
	b.Rebuild("weekly", []model.Portfolio{
		portfolio("alice", 300),
		portfolio("bob", 200),
		portfolio("carol", 100),
	})

	assert.Len(t, b.TopN("weekly", 2), 2)
	assert.Len(t, b.TopN("weekly", 10), 3)
	assert.Empty(t, b.TopN("no-such-league", 5))
}

func TestLeaguesAreIndependent(t *testing.T) {
	b := NewBoard()
	b.Upsert("weekly", "alice", dec(100))
	b.Upsert("season", "alice", dec(999))

	rank, ok := b.Rank("weekly", "alice")
	require.True(t, ok)
	assert.Equal(t, 1, rank)
	assert.Equal(t, 1, b.Size("weekly"))
	assert.Equal(t, 1, b.Size("season"))
}

func TestConcurrentUpserts(t *testing.T) {
	b := NewBoard()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", n)
			for j := 0; j < 200; j++ {
				b.Upsert("weekly", id, dec(int64(j)))
				b.Rank("weekly", id)
				b.TopN("weekly", 3)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, b.Size("weekly"))
	top := b.TopN("weekly", 0)
	require.Len(t, top, 8)
	for i := 1; i < len(top); i++ {
		prev, cur := top[i-1], top[i]
		ordered := prev.TotalValue.GreaterThan(cur.TotalValue) ||
			(prev.TotalValue.Equal(cur.TotalValue) && prev.UserID < cur.UserID)
		assert.True(t, ordered, "entries %d and %d out of order", i-1, i)
	}
}
