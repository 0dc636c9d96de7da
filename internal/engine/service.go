// Package engine wires order validation, ledger execution, valuation,
// achievements, leaderboards, and realtime push into the HTTP surface of the
// trade engine.
//
// The authenticated user id arrives in the X-User-ID header, minted by the
// external identity provider; the engine trusts it and manages no sessions.
package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeclash/trade-engine/internal/achievement"
	"github.com/tradeclash/trade-engine/internal/leaderboard"
	"github.com/tradeclash/trade-engine/internal/ledger"
	"github.com/tradeclash/trade-engine/internal/metrics"
	"github.com/tradeclash/trade-engine/internal/model"
	"github.com/tradeclash/trade-engine/internal/oracle"
	"github.com/tradeclash/trade-engine/internal/realtime"
	"github.com/tradeclash/trade-engine/internal/store"
	"github.com/tradeclash/trade-engine/internal/valuation"
)

// Service handles the engine's HTTP operations and the post-commit pipeline
// (valuation → achievements → leaderboard → broadcast) that follows every
// trade.
type Service struct {
	store        store.Store
	oracle       oracle.Oracle
	ledger       *ledger.Ledger
	evaluator    *achievement.Evaluator
	board        *leaderboard.Board
	hub          *realtime.Hub // optional; nil disables push
	startingCash decimal.Decimal
}

// NewService creates the engine service. Pass nil for hub if realtime push
// is not needed.
func NewService(
	st store.Store,
	orc oracle.Oracle,
	led *ledger.Ledger,
	eval *achievement.Evaluator,
	board *leaderboard.Board,
	hub *realtime.Hub,
	startingCash decimal.Decimal,
) *Service {
	return &Service{
		store:        st,
		oracle:       orc,
		ledger:       led,
		evaluator:    eval,
		board:        board,
		hub:          hub,
		startingCash: startingCash,
	}
}

// Routes mounts the engine's endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/leagues/{leagueID}/join", s.JoinLeague)
	r.Get("/leagues/{leagueID}/leaderboard", s.GetLeaderboard)
	r.Post("/orders", s.SubmitOrder)
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/trades", s.GetTrades)
	r.Get("/achievements", s.GetAchievements)
	if s.hub != nil {
		r.Get("/ws", s.hub.Handle)
	}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /api/v1/orders.
type OrderRequest struct {
	LeagueID string     `json:"league_id"`
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Quantity int64      `json:"quantity"`
}

// OrderResponse is returned from a committed order.
type OrderResponse struct {
	Trade      model.Trade       `json:"trade"`
	Cash       decimal.Decimal   `json:"cash"`
	TotalValue decimal.Decimal   `json:"total_value"`
	Rank       int               `json:"rank,omitempty"`
	Unlocked   []UnlockedSummary `json:"unlocked,omitempty"`
}

// UnlockedSummary reports an achievement that unlocked as a side effect of
// an order.
type UnlockedSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// AchievementView is one row of the per-user achievement listing.
type AchievementView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Rarity     string          `json:"rarity"`
	Points     int             `json:"points"`
	Secret     bool            `json:"secret"`
	Unlocked   bool            `json:"unlocked"`
	Percent    decimal.Decimal `json:"percent"`
	UnlockedAt *time.Time      `json:"unlocked_at,omitempty"`
}

// --- HTTP handlers ---

// JoinLeague handles POST /api/v1/leagues/{leagueID}/join.
// Creates the caller's portfolio with the starting cash grant. Joining is a
// structural leaderboard change, so the league board is rebuilt in full.
func (s *Service) JoinLeague(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}
	leagueID := chi.URLParam(r, "leagueID")
	ctx := r.Context()

	now := time.Now().UTC()
	p := &model.Portfolio{
		UserID:     userID,
		LeagueID:   leagueID,
		Cash:       s.startingCash,
		TotalValue: s.startingCash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreatePortfolio(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, "AlreadyJoined", "already a member of this league", http.StatusConflict)
			return
		}
		writeError(w, "Internal", "failed to join league", http.StatusInternalServerError)
		return
	}

	portfolios, err := s.store.ListLeaguePortfolios(ctx, leagueID)
	if err == nil {
		s.board.Rebuild(leagueID, portfolios)
		metrics.LeaderboardSize.WithLabelValues(leagueID).Set(float64(s.board.Size(leagueID)))
	}

	slog.Info("league joined", "user", userID, "league", leagueID, "cash", p.Cash.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "BadRequest", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LeagueID == "" {
		writeError(w, "BadRequest", "league_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	order, err := s.ledger.Validate(ctx, userID, req.LeagueID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	trade, portfolio, err := s.ledger.Execute(ctx, order)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(trade.Side)).Inc()
	metrics.TradeLatency.WithLabelValues(string(trade.Side)).Observe(time.Since(start).Seconds())

	rank, unlocks := s.afterCommit(r, trade, portfolio)

	resp := OrderResponse{
		Trade:      *trade,
		Cash:       portfolio.Cash,
		TotalValue: portfolio.TotalValue,
		Rank:       rank,
	}
	for _, u := range unlocks {
		resp.Unlocked = append(resp.Unlocked, UnlockedSummary{
			ID:     u.Definition.ID,
			Name:   u.Definition.Name,
			Points: u.Definition.Points,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// afterCommit runs the post-commit pipeline: refresh valuation, evaluate
// achievements, patch the leaderboard, broadcast. Failures here are logged,
// never surfaced — the trade is already durable.
func (s *Service) afterCommit(r *http.Request, trade *model.Trade, p *model.Portfolio) (int, []achievement.Unlock) {
	ctx := r.Context()

	// Mark the whole portfolio to market, not just the traded symbol.
	valuation.Revalue(ctx, s.oracle, p)
	if err := s.store.UpdateValuation(ctx, p); err != nil {
		slog.Error("post-commit valuation persist failed",
			"user", p.UserID, "league", p.LeagueID, "err", err)
	}

	var unlocks []achievement.Unlock
	log, err := s.store.ListUserTrades(ctx, p.UserID)
	if err != nil {
		slog.Error("post-commit stats failed", "user", p.UserID, "err", err)
	} else {
		snap := achievement.BuildSnapshot(log, p, trade.Timestamp)
		unlocks, err = s.evaluator.Evaluate(ctx, p.UserID, snap)
		if err != nil {
			slog.Error("post-commit achievement evaluation failed", "user", p.UserID, "err", err)
		}
		metrics.AchievementUnlocks.Add(float64(len(unlocks)))
	}

	s.board.Upsert(p.LeagueID, p.UserID, p.TotalValue)
	rank, _ := s.board.Rank(p.LeagueID, p.UserID)

	if s.hub != nil {
		s.hub.SendToUser(p.UserID, realtime.Message{
			Type:       realtime.TypePortfolio,
			LeagueID:   p.LeagueID,
			Symbol:     trade.Symbol,
			Cash:       p.Cash.String(),
			TotalValue: p.TotalValue.String(),
		})
		for _, u := range unlocks {
			s.hub.SendToUser(p.UserID, realtime.Message{
				Type:        realtime.TypeAchievement,
				Achievement: u.Definition.ID,
				Points:      u.Definition.Points,
			})
		}
		s.hub.BroadcastLeague(p.LeagueID, realtime.Message{
			Type:       realtime.TypeLeaderboard,
			LeagueID:   p.LeagueID,
			UserID:     p.UserID,
			TotalValue: p.TotalValue.String(),
			Rank:       rank,
		})
	}

	return rank, unlocks
}

// NotifyValuation is the periodic-tick entry point: the valuation loop calls
// it for each portfolio whose value moved without a trade.
func (s *Service) NotifyValuation(p *model.Portfolio) {
	s.board.Upsert(p.LeagueID, p.UserID, p.TotalValue)
	rank, _ := s.board.Rank(p.LeagueID, p.UserID)

	if s.hub == nil {
		return
	}
	s.hub.SendToUser(p.UserID, realtime.Message{
		Type:       realtime.TypePortfolio,
		LeagueID:   p.LeagueID,
		Cash:       p.Cash.String(),
		TotalValue: p.TotalValue.String(),
	})
	s.hub.BroadcastLeague(p.LeagueID, realtime.Message{
		Type:       realtime.TypeLeaderboard,
		LeagueID:   p.LeagueID,
		UserID:     p.UserID,
		TotalValue: p.TotalValue.String(),
		Rank:       rank,
	})
}

// GetPortfolio handles GET /api/v1/portfolio?league_id=...
// Returns cash, holdings marked to the freshest observable prices, and the
// recomputed total. The display valuation is not persisted here.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}
	leagueID := r.URL.Query().Get("league_id")
	if leagueID == "" {
		writeError(w, "BadRequest", "league_id is required", http.StatusBadRequest)
		return
	}

	p, err := s.store.GetPortfolio(r.Context(), userID, leagueID)
	if err != nil {
		writeError(w, "NotFound", "portfolio not found", http.StatusNotFound)
		return
	}
	valuation.Revalue(r.Context(), s.oracle, p)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// GetTrades handles GET /api/v1/trades?league_id=...&symbol=&side=&limit=&offset=
// Newest first.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}
	q := r.URL.Query()
	leagueID := q.Get("league_id")
	if leagueID == "" {
		writeError(w, "BadRequest", "league_id is required", http.StatusBadRequest)
		return
	}

	f := store.TradeFilter{
		Symbol: q.Get("symbol"),
		Side:   model.Side(q.Get("side")),
	}
	if f.Side != "" && !f.Side.Valid() {
		writeError(w, "BadRequest", "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	trades, err := s.store.ListTrades(r.Context(), userID, leagueID, f)
	if err != nil {
		writeError(w, "Internal", "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetAchievements handles GET /api/v1/achievements.
// Every definition appears with the caller's progress merged in; the secret
// flag is passed through for the UI layer to act on.
func (s *Service) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	progress, err := s.store.ListAchievementProgress(r.Context(), userID)
	if err != nil {
		writeError(w, "Internal", "failed to list achievements", http.StatusInternalServerError)
		return
	}
	byID := make(map[string]model.AchievementProgress, len(progress))
	for _, ap := range progress {
		byID[ap.AchievementID] = ap
	}

	views := make([]AchievementView, 0, len(s.evaluator.Definitions()))
	for _, def := range s.evaluator.Definitions() {
		v := AchievementView{
			ID:       def.ID,
			Name:     def.Name,
			Category: def.Category,
			Rarity:   def.Rarity,
			Points:   def.Points,
			Secret:   def.Secret,
		}
		if ap, ok := byID[def.ID]; ok {
			v.Unlocked = ap.Unlocked
			v.Percent = ap.Percent
			v.UnlockedAt = ap.UnlockedAt
		}
		views = append(views, v)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetLeaderboard handles GET /api/v1/leagues/{leagueID}/leaderboard?limit=N.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries := s.board.TopN(leagueID, limit)
	if len(entries) == 0 {
		// Cold board (fresh process): materialize from the store once.
		portfolios, err := s.store.ListLeaguePortfolios(r.Context(), leagueID)
		if err == nil && len(portfolios) > 0 {
			s.board.Rebuild(leagueID, portfolios)
			entries = s.board.TopN(leagueID, limit)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// --- helpers ---

// requireUser extracts the authenticated user id; writes a 401 and returns
// "" if absent.
func requireUser(w http.ResponseWriter, r *http.Request) string {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, "Unauthenticated", "X-User-ID header is required", http.StatusUnauthorized)
	}
	return userID
}

// writeOrderError maps ledger and dependency errors to the wire taxonomy.
func (s *Service) writeOrderError(w http.ResponseWriter, err error) {
	var reason string
	var status int

	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		reason, status = "InvalidQuantity", http.StatusBadRequest
	case errors.Is(err, ledger.ErrInvalidSide):
		reason, status = "InvalidSide", http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownSymbol):
		reason, status = "UnknownSymbol", http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		reason, status = "InsufficientFunds", http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientShares):
		reason, status = "InsufficientShares", http.StatusConflict
	case errors.Is(err, ledger.ErrOrderStale):
		reason, status = "OrderStale", http.StatusConflict
	case errors.Is(err, ledger.ErrBusy):
		reason, status = "Busy", http.StatusConflict
	case errors.Is(err, oracle.ErrUnavailable):
		reason, status = "FeedUnavailable", http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		reason, status = "NotFound", http.StatusNotFound
	default:
		reason, status = "Internal", http.StatusInternalServerError
		slog.Error("order failed", "err", err)
	}

	metrics.TradeRejections.WithLabelValues(reason).Inc()
	writeError(w, reason, err.Error(), status)
}

// writeError writes a JSON error response with a machine-readable reason.
func writeError(w http.ResponseWriter, reason, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"reason": reason, "message": message},
	})
}
