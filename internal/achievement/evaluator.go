package achievement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
	"github.com/tradeclash/trade-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Unlock reports one achievement newly transitioning to unlocked.
type Unlock struct {
	Definition Definition
	Progress   model.AchievementProgress
}

// Evaluator runs every not-yet-unlocked definition against a statistics
// snapshot. It is stateless between calls; all durable progress lives in the
// store. Unlocks are monotonic and idempotent: re-evaluating the same or a
// later snapshot never re-emits an unlock or moves UnlockedAt.
type Evaluator struct {
	defs  []Definition
	store store.Store
}

// NewEvaluator creates an evaluator over the static definition set.
func NewEvaluator(defs []Definition, st store.Store) *Evaluator {
	return &Evaluator{defs: defs, store: st}
}

// Definitions returns the static definition set.
func (e *Evaluator) Definitions() []Definition { return e.defs }

// Evaluate computes progress for every definition and returns the unlocks
// that newly transitioned. One faulty criterion is isolated: it is logged
// and skipped without disturbing the remaining achievements. Secret
// achievements are evaluated identically; hiding them is presentation.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, snap model.StatsSnapshot) ([]Unlock, error) {
	existing, err := e.store.ListAchievementProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("achievement: load progress for %s: %w", userID, err)
	}
	byID := make(map[string]model.AchievementProgress, len(existing))
	for _, ap := range existing {
		byID[ap.AchievementID] = ap
	}

	var unlocks []Unlock
	for _, def := range e.defs {
		prev, known := byID[def.ID]
		if known && prev.Unlocked {
			continue // monotonic: never re-evaluate an unlocked achievement
		}

		current, required, err := safeProgress(def, snap)
		if err != nil {
			slog.Error("achievement criteria failed, skipping",
				"achievement", def.ID, "user", userID, "err", err)
			continue
		}

		ap := model.AchievementProgress{
			UserID:        userID,
			AchievementID: def.ID,
			Current:       current,
			Required:      required,
			Percent:       completionPercent(current, required),
		}
		if current.GreaterThanOrEqual(required) {
			ap.Unlocked = true
			at := snap.TakenAt
			ap.UnlockedAt = &at
		}

		// No externally visible effect when nothing changed.
		if known && !ap.Unlocked && prev.Current.Equal(ap.Current) {
			continue
		}

		if err := e.store.UpsertAchievementProgress(ctx, &ap); err != nil {
			slog.Error("achievement progress write failed",
				"achievement", def.ID, "user", userID, "err", err)
			continue
		}

		if ap.Unlocked {
			slog.Info("achievement unlocked",
				"achievement", def.ID, "user", userID, "points", def.Points)
			unlocks = append(unlocks, Unlock{Definition: def, Progress: ap})
		}
	}
	return unlocks, nil
}

// safeProgress confines a panicking criterion to its own achievement.
func safeProgress(def Definition, snap model.StatsSnapshot) (current, required decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("criteria panic: %v", r)
		}
	}()
	current, required = def.Criteria.Progress(snap)
	return current, required, nil
}

func completionPercent(current, required decimal.Decimal) decimal.Decimal {
	if required.LessThanOrEqual(decimal.Zero) {
		return hundred
	}
	pct := current.Div(required).Mul(hundred)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}
