// Package achievement evaluates unlock rules over snapshots of user trading
// statistics. Definitions are static, loaded once at startup; criteria are a
// closed set of typed predicate variants — no open-ended dynamic evaluation.
package achievement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
)

// Criterion is one unlock predicate. Progress returns the current and
// required values for the statistic it watches; the achievement unlocks when
// current >= required.
type Criterion interface {
	Progress(s model.StatsSnapshot) (current, required decimal.Decimal)
}

// Stat names a numeric statistic a StatThreshold can watch.
type Stat string

const (
	StatTotalTrades Stat = "total_trades"
	StatBuyTrades   Stat = "buy_trades"
	StatSellTrades  Stat = "sell_trades"
	StatRealizedPnL Stat = "realized_pnl"
	StatTotalValue  Stat = "total_value"
	StatCash        Stat = "cash"
)

// CountTarget names a distinct-count statistic a DistinctCount can watch.
type CountTarget string

const (
	CountSymbolsTraded CountTarget = "symbols_traded"
	CountSymbolsHeld   CountTarget = "symbols_held"
)

// StatThreshold unlocks when a named statistic reaches a value,
// e.g. totalTrades >= 50.
type StatThreshold struct {
	Stat  Stat
	Value decimal.Decimal
}

func (c StatThreshold) Progress(s model.StatsSnapshot) (decimal.Decimal, decimal.Decimal) {
	var cur decimal.Decimal
	switch c.Stat {
	case StatTotalTrades:
		cur = decimal.NewFromInt(s.TotalTrades)
	case StatBuyTrades:
		cur = decimal.NewFromInt(s.BuyTrades)
	case StatSellTrades:
		cur = decimal.NewFromInt(s.SellTrades)
	case StatRealizedPnL:
		cur = s.RealizedPnL
	case StatTotalValue:
		cur = s.TotalValue
	case StatCash:
		cur = s.Cash
	default:
		panic(fmt.Sprintf("achievement: unknown stat %q", c.Stat))
	}
	return cur, c.Value
}

// WinStreak unlocks after a run of consecutive profitable sells. The best
// streak ever reached counts, so the achievement cannot regress when a later
// losing sell breaks the run.
type WinStreak struct {
	Length int64
}

func (c WinStreak) Progress(s model.StatsSnapshot) (decimal.Decimal, decimal.Decimal) {
	return decimal.NewFromInt(s.BestWinStreak), decimal.NewFromInt(c.Length)
}

// DistinctCount unlocks when the user has traded or holds a number of
// distinct symbols.
type DistinctCount struct {
	Of    CountTarget
	Count int64
}

func (c DistinctCount) Progress(s model.StatsSnapshot) (decimal.Decimal, decimal.Decimal) {
	var cur int64
	switch c.Of {
	case CountSymbolsTraded:
		cur = s.SymbolsTraded
	case CountSymbolsHeld:
		cur = s.SymbolsHeld
	default:
		panic(fmt.Sprintf("achievement: unknown count target %q", c.Of))
	}
	return decimal.NewFromInt(cur), decimal.NewFromInt(c.Count)
}
