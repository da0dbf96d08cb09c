package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/round"
)

// CurrentRoundResponse is returned by GET /rounds/current. Round is null
// when no round is active.
type CurrentRoundResponse struct {
	Round            *model.Round `json:"round"`
	RemainingSeconds int64        `json:"remainingSeconds"`
}

// CurrentRound handles GET /api/v1/rounds/current
func (s *Server) CurrentRound(w http.ResponseWriter, r *http.Request) {
	rd, err := s.rounds.Current(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrNoActiveRound) {
			writeJSON(w, http.StatusOK, CurrentRoundResponse{})
			return
		}
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentRoundResponse{
		Round:            rd,
		RemainingSeconds: int64(round.Remaining(rd, s.now()).Seconds()),
	})
}

// GetRound handles GET /api/v1/rounds/{roundNumber}
func (s *Server) GetRound(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumberParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	rd, err := s.rounds.Get(r.Context(), n)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// RoundLeaderboard handles GET /api/v1/rounds/{roundNumber}/leaderboard
func (s *Server) RoundLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumberParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	snap, err := s.rounds.Snapshot(r.Context(), n)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Leaderboard handles GET /api/v1/leaderboard
func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.rounds.Leaderboard(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// AuctionState handles GET /api/v1/auction
func (s *Server) AuctionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auction.State())
}

func roundNumberParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "roundNumber")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid round number %q: %w", raw, model.ErrInvalidInput)
	}
	return n, nil
}
