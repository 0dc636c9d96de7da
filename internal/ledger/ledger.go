// Package ledger turns buy/sell intents into durable, internally consistent
// portfolio mutations. It validates an order against a price snapshot, then
// applies it under the portfolio's serialization lock, re-validating against
// the freshest state immediately before commit.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
	"github.com/tradeclash/trade-engine/internal/oracle"
	"github.com/tradeclash/trade-engine/internal/store"
)

var (
	// ErrInvalidQuantity rejects orders whose quantity is not a positive integer.
	ErrInvalidQuantity = errors.New("ledger: quantity must be a positive integer")

	// ErrInvalidSide rejects orders whose side is neither BUY nor SELL.
	ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

	// ErrUnknownSymbol rejects orders for symbols the price feed cannot resolve.
	ErrUnknownSymbol = errors.New("ledger: unknown symbol")

	// ErrInsufficientFunds rejects buys that exceed the cash balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares rejects sells that exceed the held quantity.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrOrderStale means the portfolio changed between validation and
	// commit so the order no longer satisfies its constraints. Safe to
	// retry immediately with fresh state.
	ErrOrderStale = errors.New("ledger: portfolio changed since validation")

	// ErrBusy means the portfolio lock could not be acquired within the
	// configured budget. Safe to retry.
	ErrBusy = errors.New("ledger: portfolio busy, retry")

	// ErrInvariant signals an internal consistency bug (negative balance or
	// quantity after mutation). It is never returned for a user mistake and
	// must not be silently corrected.
	ErrInvariant = errors.New("ledger: invariant violation")
)

// Order is a validated trade intent carrying the price snapshot captured at
// validation time. It is the only input Execute accepts.
type Order struct {
	UserID   string
	LeagueID string
	Symbol   string
	Side     model.Side
	Quantity int64
	Price    decimal.Decimal // snapshot used for validation and execution
	QuotedAt time.Time
}

// Ledger validates and executes orders against portfolios. One Ledger serves
// all portfolios; serialization is per (user, league) via the lock registry.
type Ledger struct {
	store    store.Store
	oracle   oracle.Oracle
	feeRate  decimal.Decimal
	lockWait time.Duration
	locks    *lockRegistry
	now      func() time.Time
}

// New creates a Ledger. st must be the authoritative store: Execute
// re-reads the portfolio under the lock before committing, and that read
// cannot go through a cache. feeRate is the proportional fee charged on
// both sides of every trade (e.g. 0.001 = 0.1%). lockWait bounds how long
// an execution may wait for its portfolio's lock before failing with
// ErrBusy.
func New(st store.Store, orc oracle.Oracle, feeRate decimal.Decimal, lockWait time.Duration) *Ledger {
	return &Ledger{
		store:    st,
		oracle:   orc,
		feeRate:  feeRate,
		lockWait: lockWait,
		locks:    newLockRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks a trade intent against current portfolio state and the
// oracle price. It has no side effects beyond the reads. On success it
// returns an Order carrying the price snapshot used; on failure one of the
// sentinel rejection errors.
func (l *Ledger) Validate(ctx context.Context, userID, leagueID, symbol string, side model.Side, quantity int64) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !side.Valid() {
		return nil, ErrInvalidSide
	}

	q, err := l.oracle.Price(ctx, symbol)
	if err != nil {
		if errors.Is(err, oracle.ErrUnknownSymbol) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return nil, fmt.Errorf("validate %s: %w", symbol, err)
	}

	p, err := l.store.GetPortfolio(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}

	if err := checkConstraints(p, symbol, side, quantity, q.Price, l.feeRate); err != nil {
		return nil, err
	}

	return &Order{
		UserID:   userID,
		LeagueID: leagueID,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    q.Price,
		QuotedAt: q.AsOf,
	}, nil
}

// Execute applies a validated order atomically. It acquires the portfolio's
// lock (bounded wait → ErrBusy), reloads the freshest portfolio, re-checks
// the order's constraints (failure → ErrOrderStale), applies the mutation,
// and commits portfolio + trade in one atomic store write.
func (l *Ledger) Execute(ctx context.Context, o *Order) (*model.Trade, *model.Portfolio, error) {
	release, err := l.locks.acquire(ctx, o.UserID+"|"+o.LeagueID, l.lockWait)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	p, err := l.store.GetPortfolio(ctx, o.UserID, o.LeagueID)
	if err != nil {
		return nil, nil, err
	}

	// Close the validate→commit race window: the balance or holdings may
	// have moved while this order waited for the lock.
	if err := checkConstraints(p, o.Symbol, o.Side, o.Quantity, o.Price, l.feeRate); err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInsufficientShares) {
			return nil, nil, fmt.Errorf("%w: %v", ErrOrderStale, err)
		}
		return nil, nil, err
	}

	trade := l.apply(p, o)

	if err := verifyInvariants(p); err != nil {
		// A negative balance or quantity past this point is a bug in the
		// serialization discipline, not a user error. Log loudly and
		// refuse to commit.
		slog.Error("ledger invariant violated, refusing commit",
			"user", o.UserID, "league", o.LeagueID, "symbol", o.Symbol, "err", err)
		return nil, nil, err
	}

	if err := l.store.Commit(ctx, p, trade); err != nil {
		return nil, nil, fmt.Errorf("commit trade %s: %w", trade.ID, err)
	}

	slog.Info("trade committed",
		"trade_id", trade.ID,
		"user", o.UserID,
		"league", o.LeagueID,
		"symbol", o.Symbol,
		"side", o.Side,
		"qty", o.Quantity,
		"price", o.Price.String(),
		"total", trade.Total.String(),
		"cash", p.Cash.String(),
	)

	return trade, p, nil
}

// apply mutates p in place and returns the immutable trade record. Callers
// hold the portfolio lock.
func (l *Ledger) apply(p *model.Portfolio, o *Order) *model.Trade {
	qty := decimal.NewFromInt(o.Quantity)
	gross := o.Price.Mul(qty)
	fee := gross.Mul(l.feeRate)
	now := l.now()

	trade := &model.Trade{
		ID:        uuid.New().String(),
		UserID:    o.UserID,
		LeagueID:  o.LeagueID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Fee:       fee,
		Timestamp: now,
	}

	if o.Side == model.SideBuy {
		trade.Total = gross.Add(fee)
		p.Cash = p.Cash.Sub(trade.Total)

		h := model.Holding{Symbol: o.Symbol, Quantity: o.Quantity, AvgCost: o.Price, LastPrice: o.Price}
		if have := p.Holding(o.Symbol); have != nil {
			oldQty := decimal.NewFromInt(have.Quantity)
			newQty := have.Quantity + o.Quantity
			// Weighted-average cost basis over the combined position.
			h.AvgCost = oldQty.Mul(have.AvgCost).Add(qty.Mul(o.Price)).
				Div(decimal.NewFromInt(newQty))
			h.Quantity = newQty
		}
		p.SetHolding(h)
	} else {
		trade.Total = gross.Sub(fee)
		p.Cash = p.Cash.Add(trade.Total)

		h := p.Holding(o.Symbol) // presence guaranteed by checkConstraints
		trade.RealizedPnL = qty.Mul(o.Price.Sub(h.AvgCost))
		h.Quantity -= o.Quantity
		// A sell never moves the cost basis, only the quantity.
		if h.Quantity == 0 {
			p.RemoveHolding(o.Symbol)
		}
	}

	recomputeValue(p)
	p.UpdatedAt = now
	return trade
}

// checkConstraints enforces the admission rules against a portfolio
// snapshot. price is the validation-time snapshot, not a fresh quote.
func checkConstraints(p *model.Portfolio, symbol string, side model.Side, quantity int64, price, feeRate decimal.Decimal) error {
	qty := decimal.NewFromInt(quantity)
	switch side {
	case model.SideBuy:
		cost := price.Mul(qty).Mul(decimal.NewFromInt(1).Add(feeRate))
		if cost.GreaterThan(p.Cash) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, p.Cash)
		}
	case model.SideSell:
		h := p.Holding(symbol)
		if h == nil || h.Quantity < quantity {
			held := int64(0)
			if h != nil {
				held = h.Quantity
			}
			return fmt.Errorf("%w: want %d, hold %d", ErrInsufficientShares, quantity, held)
		}
	default:
		return ErrInvalidSide
	}
	return nil
}

// recomputeValue rederives the cached total from cash plus mark-to-market
// holdings. TotalValue is never written without this lineage.
func recomputeValue(p *model.Portfolio) {
	total := p.Cash
	for _, h := range p.Holdings {
		total = total.Add(h.MarketValue())
	}
	p.TotalValue = total
}

func verifyInvariants(p *model.Portfolio) error {
	if p.Cash.IsNegative() {
		return fmt.Errorf("%w: negative cash %s for %s/%s", ErrInvariant, p.Cash, p.UserID, p.LeagueID)
	}
	for _, h := range p.Holdings {
		if h.Quantity < 0 {
			return fmt.Errorf("%w: negative quantity %d of %s for %s/%s",
				ErrInvariant, h.Quantity, h.Symbol, p.UserID, p.LeagueID)
		}
	}
	return nil
}
