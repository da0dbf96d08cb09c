package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/team"
)

// --- Request types ---

// LoginRequest is the JSON body for POST /teams/login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// InvestRequest is the JSON body for POST /teams/{teamID}/invest. Amounts
// may be JSON numbers or strings; zero entries are ignored.
type InvestRequest struct {
	Investments map[string]decimal.Decimal `json:"investments"`
}

// TransferRequest is the JSON body for POST /teams/{teamID}/transfer.
type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// RegisterTeam handles POST /api/v1/teams/register
func (s *Server) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req team.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.teams.Register(r.Context(), req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// LoginTeam handles POST /api/v1/teams/login
func (s *Server) LoginTeam(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.teams.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTeams handles GET /api/v1/teams
func (s *Server) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// GetTeam handles GET /api/v1/teams/{teamID}
func (s *Server) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.teams.Get(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Invest handles POST /api/v1/teams/{teamID}/invest
func (s *Server) Invest(w http.ResponseWriter, r *http.Request) {
	var req InvestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	amounts := make(map[model.Asset]decimal.Decimal, len(req.Investments))
	for key, amt := range req.Investments {
		a, err := model.ParseAsset(key)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		if amt.IsZero() {
			continue
		}
		amounts[a] = amt
	}
	if len(amounts) == 0 {
		writeError(w, "no investment amounts given", http.StatusBadRequest)
		return
	}

	t, err := s.ledger.Invest(r.Context(), chi.URLParam(r, "teamID"), amounts)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Transfer handles POST /api/v1/teams/{teamID}/transfer
func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, err := model.ParseAsset(req.From)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("from: %w", err))
		return
	}
	to, err := model.ParseAsset(req.To)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("to: %w", err))
		return
	}

	t, err := s.ledger.Transfer(r.Context(), chi.URLParam(r, "teamID"), from, to, req.Amount)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
