package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// See schema.sql for the table definitions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (user_id, league_id, cash, total_value, stale, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		p.UserID, p.LeagueID, p.Cash.String(), p.TotalValue.String(), p.Stale,
		p.CreatedAt, p.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: portfolio %s/%s", ErrAlreadyExists, p.UserID, p.LeagueID)
	}
	return err
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	p := &model.Portfolio{UserID: userID, LeagueID: leagueID}
	var cash, total string

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, total_value::TEXT, stale, created_at, updated_at
		 FROM portfolios WHERE user_id = $1 AND league_id = $2`, userID, leagueID).
		Scan(&cash, &total, &p.Stale, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: portfolio %s/%s", ErrNotFound, userID, leagueID)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s/%s: %w", userID, leagueID, err)
	}
	p.Cash, _ = decimal.NewFromString(cash)
	p.TotalValue, _ = decimal.NewFromString(total)

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, quantity, avg_cost::TEXT, last_price::TEXT
		 FROM holdings WHERE user_id = $1 AND league_id = $2 ORDER BY symbol`, userID, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.Holding
		var avg, last string
		if err := rows.Scan(&h.Symbol, &h.Quantity, &avg, &last); err != nil {
			return nil, err
		}
		h.AvgCost, _ = decimal.NewFromString(avg)
		h.LastPrice, _ = decimal.NewFromString(last)
		p.Holdings = append(p.Holdings, h)
	}
	return p, rows.Err()
}

// Commit writes the portfolio row, replaces its holdings, and appends the
// trade inside one transaction. Partial application is impossible: either
// everything lands or nothing does.
func (s *PostgresStore) Commit(ctx context.Context, p *model.Portfolio, t *model.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE portfolios
		 SET cash = $3::NUMERIC, total_value = $4::NUMERIC, stale = $5, updated_at = $6
		 WHERE user_id = $1 AND league_id = $2`,
		p.UserID, p.LeagueID, p.Cash.String(), p.TotalValue.String(), p.Stale, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("commit: portfolio: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM holdings WHERE user_id = $1 AND league_id = $2`,
		p.UserID, p.LeagueID,
	); err != nil {
		return fmt.Errorf("commit: clear holdings: %w", err)
	}
	for _, h := range p.Holdings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, league_id, symbol, quantity, avg_cost, last_price)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC)`,
			p.UserID, p.LeagueID, h.Symbol, h.Quantity, h.AvgCost.String(), h.LastPrice.String(),
		); err != nil {
			return fmt.Errorf("commit: holding %s: %w", h.Symbol, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, league_id, symbol, side, quantity, price, fee, total, realized_pnl, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		t.ID, t.UserID, t.LeagueID, t.Symbol, t.Side, t.Quantity,
		t.Price.String(), t.Fee.String(), t.Total.String(), t.RealizedPnL.String(), t.Timestamp,
	); err != nil {
		return fmt.Errorf("commit: trade: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateValuation(ctx context.Context, p *model.Portfolio) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update valuation: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE portfolios SET total_value = $3::NUMERIC, stale = $4, updated_at = $5
		 WHERE user_id = $1 AND league_id = $2`,
		p.UserID, p.LeagueID, p.TotalValue.String(), p.Stale, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update valuation: %w", err)
	}
	for _, h := range p.Holdings {
		if _, err := tx.Exec(ctx,
			`UPDATE holdings SET last_price = $4::NUMERIC
			 WHERE user_id = $1 AND league_id = $2 AND symbol = $3`,
			p.UserID, p.LeagueID, h.Symbol, h.LastPrice.String(),
		); err != nil {
			return fmt.Errorf("update valuation: holding %s: %w", h.Symbol, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListLeaguePortfolios(ctx context.Context, leagueID string) ([]model.Portfolio, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM portfolios WHERE league_id = $1 ORDER BY user_id`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	portfolios := make([]model.Portfolio, 0, len(userIDs))
	for _, uid := range userIDs {
		p, err := s.GetPortfolio(ctx, uid, leagueID)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *p)
	}
	return portfolios, nil
}

func (s *PostgresStore) ListLeagues(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT league_id FROM portfolios ORDER BY league_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leagues []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		leagues = append(leagues, id)
	}
	return leagues, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID, leagueID string, f TradeFilter) ([]model.Trade, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	query := `SELECT id, user_id, league_id, symbol, side, quantity,
	                 price::TEXT, fee::TEXT, total::TEXT, realized_pnl::TEXT, timestamp
	          FROM trades WHERE user_id = $1 AND league_id = $2`
	args := []any{userID, leagueID}

	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.Side != "" {
		args = append(args, string(f.Side))
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, league_id, symbol, side, quantity,
		        price::TEXT, fee::TEXT, total::TEXT, realized_pnl::TEXT, timestamp
		 FROM trades WHERE user_id = $1 ORDER BY timestamp, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListAchievementProgress(ctx context.Context, userID string) ([]model.AchievementProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, achievement_id, current::TEXT, required::TEXT, percent::TEXT, unlocked, unlocked_at
		 FROM achievement_progress WHERE user_id = $1 ORDER BY achievement_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AchievementProgress
	for rows.Next() {
		var ap model.AchievementProgress
		var cur, req, pct string
		if err := rows.Scan(&ap.UserID, &ap.AchievementID, &cur, &req, &pct, &ap.Unlocked, &ap.UnlockedAt); err != nil {
			return nil, err
		}
		ap.Current, _ = decimal.NewFromString(cur)
		ap.Required, _ = decimal.NewFromString(req)
		ap.Percent, _ = decimal.NewFromString(pct)
		out = append(out, ap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertAchievementProgress(ctx context.Context, ap *model.AchievementProgress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO achievement_progress (user_id, achievement_id, current, required, percent, unlocked, unlocked_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (user_id, achievement_id) DO UPDATE
		 SET current = EXCLUDED.current,
		     required = EXCLUDED.required,
		     percent = EXCLUDED.percent,
		     unlocked = achievement_progress.unlocked OR EXCLUDED.unlocked,
		     unlocked_at = COALESCE(achievement_progress.unlocked_at, EXCLUDED.unlocked_at)`,
		ap.UserID, ap.AchievementID,
		ap.Current.String(), ap.Required.String(), ap.Percent.String(),
		ap.Unlocked, ap.UnlockedAt,
	)
	return err
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, fee, total, pnl string
		if err := rows.Scan(&t.ID, &t.UserID, &t.LeagueID, &t.Symbol, &t.Side, &t.Quantity,
			&price, &fee, &total, &pnl, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Fee, _ = decimal.NewFromString(fee)
		t.Total, _ = decimal.NewFromString(total)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// compile-time check
var _ Store = (*PostgresStore)(nil)
