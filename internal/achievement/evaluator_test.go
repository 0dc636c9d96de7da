package achievement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/trade-engine/internal/model"
	"github.com/tradeclash/trade-engine/internal/store"
)

func dec(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func testDefs() []Definition {
	return []Definition{
		{
			ID: "first-trade", Name: "First Trade", Points: 10,
			Criteria: StatThreshold{Stat: StatTotalTrades, Value: dec(1)},
		},
		{
			ID: "day-trader", Name: "Day Trader", Points: 50,
			Criteria: StatThreshold{Stat: StatTotalTrades, Value: dec(50)},
		},
		{
			ID: "hot-streak", Name: "Hot Streak", Points: 60,
			Criteria: WinStreak{Length: 3},
		},
	}
}

func TestEvaluate_UnlocksOnSatisfiedCriteria(t *testing.T) {
	ms := store.NewMemoryStore()
	ev := NewEvaluator(testDefs(), ms)

	now := time.Now().UTC()
	snap := model.StatsSnapshot{TotalTrades: 1, TakenAt: now}

	unlocks, err := ev.Evaluate(context.Background(), "u1", snap)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first-trade", unlocks[0].Definition.ID)
	assert.Equal(t, 10, unlocks[0].Definition.Points)
	require.NotNil(t, unlocks[0].Progress.UnlockedAt)
	assert.Equal(t, now, *unlocks[0].Progress.UnlockedAt)
}

func TestEvaluate_IdempotentUnderRepeatedEvaluation(t *testing.T) {
	ms := store.NewMemoryStore()
	ev := NewEvaluator(testDefs(), ms)
	ctx := context.Background()

	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	unlocks, err := ev.Evaluate(ctx, "u1", model.StatsSnapshot{TotalTrades: 1, TakenAt: first})
	require.NoError(t, err)
	require.Len(t, unlocks, 1)

	// Same snapshot again: no second unlock event.
	unlocks, err = ev.Evaluate(ctx, "u1", model.StatsSnapshot{TotalTrades: 1, TakenAt: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	// Later snapshot: still no new event, and UnlockedAt never moves.
	unlocks, err = ev.Evaluate(ctx, "u1", model.StatsSnapshot{TotalTrades: 20, TakenAt: first.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	progress, err := ms.ListAchievementProgress(ctx, "u1")
	require.NoError(t, err)
	for _, ap := range progress {
		if ap.AchievementID == "first-trade" {
			require.NotNil(t, ap.UnlockedAt)
			assert.Equal(t, first, *ap.UnlockedAt, "unlockedAt must be written exactly once")
		}
	}
}

func TestEvaluate_ProgressTrackedAndCapped(t *testing.T) {
	ms := store.NewMemoryStore()
	ev := NewEvaluator(testDefs(), ms)
	ctx := context.Background()

	_, err := ev.Evaluate(ctx, "u1", model.StatsSnapshot{TotalTrades: 25, TakenAt: time.Now().UTC()})
	require.NoError(t, err)

	progress, err := ms.ListAchievementProgress(ctx, "u1")
	require.NoError(t, err)

	byID := make(map[string]model.AchievementProgress)
	for _, ap := range progress {
		byID[ap.AchievementID] = ap
	}

	dayTrader := byID["day-trader"]
	assert.False(t, dayTrader.Unlocked)
	assert.True(t, dayTrader.Current.Equal(dec(25)))
	assert.True(t, dayTrader.Percent.Equal(dec(50)), "25/50 = 50%%, got %s", dayTrader.Percent)

	// first-trade far exceeded: percent caps at 100.
	firstTrade := byID["first-trade"]
	assert.True(t, firstTrade.Unlocked)
	assert.True(t, firstTrade.Percent.Equal(dec(100)), "percent = %s, want 100", firstTrade.Percent)
}

// panicker always panics when evaluated.
type panicker struct{}

func (panicker) Progress(model.StatsSnapshot) (decimal.Decimal, decimal.Decimal) {
	panic("boom")
}

func TestEvaluate_FaultyCriterionIsIsolated(t *testing.T) {
	defs := []Definition{
		{ID: "broken", Name: "Broken", Criteria: panicker{}},
		{ID: "first-trade", Name: "First Trade", Points: 10,
			Criteria: StatThreshold{Stat: StatTotalTrades, Value: dec(1)}},
	}
	ms := store.NewMemoryStore()
	ev := NewEvaluator(defs, ms)

	unlocks, err := ev.Evaluate(context.Background(), "u1",
		model.StatsSnapshot{TotalTrades: 1, TakenAt: time.Now().UTC()})
	require.NoError(t, err)
	require.Len(t, unlocks, 1, "the healthy achievement must still evaluate")
	assert.Equal(t, "first-trade", unlocks[0].Definition.ID)
}

func TestEvaluate_SecretAchievementsEvaluateNormally(t *testing.T) {
	defs := []Definition{
		{ID: "hidden", Name: "Hidden", Secret: true, Points: 500,
			Criteria: StatThreshold{Stat: StatTotalTrades, Value: dec(2)}},
	}
	ms := store.NewMemoryStore()
	ev := NewEvaluator(defs, ms)

	unlocks, err := ev.Evaluate(context.Background(), "u1",
		model.StatsSnapshot{TotalTrades: 2, TakenAt: time.Now().UTC()})
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.True(t, unlocks[0].Definition.Secret)
}
