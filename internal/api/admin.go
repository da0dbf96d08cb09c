package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/leaderboard"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/round"
)

// --- Request/Response types ---

// AdminLoginRequest is the JSON body for POST /admin/login.
type AdminLoginRequest struct {
	Password string `json:"password"`
}

// NewsRequest is the JSON body for POST /admin/news.
type NewsRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// AmountRequest is the JSON body for POST /admin/teams/{teamID}/deduct.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AwardRequest is the JSON body for POST /admin/auction/award.
type AwardRequest struct {
	TeamID string `json:"teamId"`
	ItemID string `json:"itemId"`
}

// ItemRequest is the JSON body for POST /admin/auction/current.
type ItemRequest struct {
	ItemID string `json:"itemId"`
}

// RecalculateResponse is returned by POST /admin/recalculate.
type RecalculateResponse struct {
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
	Warnings    []string                 `json:"warnings,omitempty"`
}

// --- Handlers ---

// AdminLogin handles POST /api/v1/admin/login
func (s *Server) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := s.admin.Login(req.Password)
	if err != nil {
		s.log.Warn("admin login rejected", "remote", r.RemoteAddr)
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// StartRound handles POST /api/v1/admin/rounds
func (s *Server) StartRound(w http.ResponseWriter, r *http.Request) {
	var req round.StartParams
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	rd, err := s.rounds.Start(r.Context(), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

// EndRound handles POST /api/v1/admin/rounds/end
func (s *Server) EndRound(w http.ResponseWriter, r *http.Request) {
	res, err := s.rounds.End(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PublishNews handles POST /api/v1/admin/news
func (s *Server) PublishNews(w http.ResponseWriter, r *http.Request) {
	var req NewsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := s.rounds.PublishNews(r.Context(), req.Title, req.Content)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// SetPrices handles POST /api/v1/admin/prices. The body is a partial map
// of asset to percentage change.
func (s *Server) SetPrices(w http.ResponseWriter, r *http.Request) {
	var req map[string]decimal.Decimal
	if !decodeJSON(w, r, &req) {
		return
	}
	partial := make(map[model.Asset]decimal.Decimal, len(req))
	for key, pct := range req {
		a, err := model.ParseAsset(key)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		partial[a] = pct
	}
	merged, err := s.rounds.SetPriceChanges(r.Context(), partial)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// Recalculate handles POST /api/v1/admin/recalculate. Totals are revalued
// against the active round's pending price changes and broadcast.
func (s *Server) Recalculate(w http.ResponseWriter, r *http.Request) {
	teams, err := s.ledger.Recalculate(r.Context())
	if err != nil && len(teams) == 0 {
		s.writeErr(w, r, err)
		return
	}

	resp := RecalculateResponse{Leaderboard: leaderboard.Build(teams)}
	if err != nil {
		for _, e := range unjoin(err) {
			resp.Warnings = append(resp.Warnings, e.Error())
		}
	}
	s.pub.Publish(events.Event{Type: events.TypeLeaderboard, Data: resp.Leaderboard})
	writeJSON(w, http.StatusOK, resp)
}

// DeductCash handles POST /api/v1/admin/teams/{teamID}/deduct
func (s *Server) DeductCash(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.ledger.DeductCash(r.Context(), chi.URLParam(r, "teamID"), req.Amount)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StartAuction handles POST /api/v1/admin/auction/start
func (s *Server) StartAuction(w http.ResponseWriter, r *http.Request) {
	st, err := s.auction.Start(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// EndAuction handles POST /api/v1/admin/auction/end
func (s *Server) EndAuction(w http.ResponseWriter, r *http.Request) {
	st, err := s.auction.End(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetAuctionItem handles POST /api/v1/admin/auction/current
func (s *Server) SetAuctionItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := s.auction.SetCurrentItem(r.Context(), req.ItemID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// AwardItem handles POST /api/v1/admin/auction/award
func (s *Server) AwardItem(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.auction.Award(r.Context(), req.TeamID, req.ItemID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Reset handles POST /api/v1/admin/reset. Every team, round and snapshot
// is deleted and auction mode is cleared.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	if err := s.rounds.Reset(r.Context()); err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.auction.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
