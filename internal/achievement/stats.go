package achievement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
)

// BuildSnapshot derives a statistics snapshot from a user's full trade log
// (in commit order, oldest first) and their current portfolio. The log order
// is authoritative: a "win" is a sell with strictly positive realized P&L,
// and the streak resets on any sell that is not one. Buys leave the streak
// untouched.
func BuildSnapshot(trades []model.Trade, p *model.Portfolio, now time.Time) model.StatsSnapshot {
	s := model.StatsSnapshot{TakenAt: now}

	symbols := make(map[string]struct{})
	var streak, best int64

	for _, t := range trades {
		s.TotalTrades++
		symbols[t.Symbol] = struct{}{}

		switch t.Side {
		case model.SideBuy:
			s.BuyTrades++
		case model.SideSell:
			s.SellTrades++
			s.RealizedPnL = s.RealizedPnL.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(decimal.Zero) {
				streak++
				if streak > best {
					best = streak
				}
			} else {
				streak = 0
			}
		}
	}

	s.WinStreak = streak
	s.BestWinStreak = best
	s.SymbolsTraded = int64(len(symbols))

	if p != nil {
		s.SymbolsHeld = int64(len(p.Holdings))
		s.TotalValue = p.TotalValue
		s.Cash = p.Cash
	}
	return s
}
