// Package api exposes the game engine over HTTP.
//
// Handlers decode the request, call one engine operation and map its error
// onto a status code with errors.Is. No game rule lives here.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finsim/game-engine/internal/auction"
	"github.com/finsim/game-engine/internal/auth"
	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/hub"
	"github.com/finsim/game-engine/internal/ledger"
	"github.com/finsim/game-engine/internal/metrics"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/round"
	"github.com/finsim/game-engine/internal/team"
)

const maxBodyBytes = 1 << 20

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Teams   *team.Service
	Ledger  *ledger.Ledger
	Rounds  *round.Service
	Auction *auction.Service
	Admin   *auth.Admin

	// Hub serves /api/v1/ws when set.
	Hub *hub.Hub
	// Events receives leaderboard updates after an admin recalculation.
	Events events.Publisher

	LoginRatePerMinute int
	CORSOrigin         string
	Logger             *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	teams   *team.Service
	ledger  *ledger.Ledger
	rounds  *round.Service
	auction *auction.Service
	admin   *auth.Admin
	hub     *hub.Hub
	pub     events.Publisher
	login   *ipLimiter
	cors    string
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates the HTTP layer over deps.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Discard{}
	}
	cors := deps.CORSOrigin
	if cors == "" {
		cors = "*"
	}
	return &Server{
		teams:   deps.Teams,
		ledger:  deps.Ledger,
		rounds:  deps.Rounds,
		auction: deps.Auction,
		admin:   deps.Admin,
		hub:     deps.Hub,
		pub:     pub,
		login:   newIPLimiter(deps.LoginRatePerMinute),
		cors:    cors,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Router returns the full route tree with middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "game-engine"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Teams.
			r.Post("/teams/register", s.RegisterTeam)
			r.With(s.login.Middleware).Post("/teams/login", s.LoginTeam)
			r.Get("/teams", s.ListTeams)
			r.Get("/teams/{teamID}", s.GetTeam)
			r.Post("/teams/{teamID}/invest", s.Invest)
			r.Post("/teams/{teamID}/transfer", s.Transfer)

			// Rounds and rankings.
			r.Get("/rounds/current", s.CurrentRound)
			r.Get("/rounds/{roundNumber}", s.GetRound)
			r.Get("/rounds/{roundNumber}/leaderboard", s.RoundLeaderboard)
			r.Get("/leaderboard", s.Leaderboard)
			r.Get("/auction", s.AuctionState)

			// Admin.
			r.With(s.login.Middleware).Post("/admin/login", s.AdminLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/admin/rounds", s.StartRound)
				r.Post("/admin/rounds/end", s.EndRound)
				r.Post("/admin/news", s.PublishNews)
				r.Post("/admin/prices", s.SetPrices)
				r.Post("/admin/recalculate", s.Recalculate)
				r.Post("/admin/teams/{teamID}/deduct", s.DeductCash)
				r.Post("/admin/auction/start", s.StartAuction)
				r.Post("/admin/auction/end", s.EndAuction)
				r.Post("/admin/auction/current", s.SetAuctionItem)
				r.Post("/admin/auction/award", s.AwardItem)
				r.Post("/admin/reset", s.Reset)
			})
		})
	})
	return r
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cors)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.Header.Get("X-Admin-Token")
		}
		if err := s.admin.CheckToken(token); err != nil {
			s.log.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, "admin token required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps an engine error onto its HTTP status. Unclassified errors
// are logged and reported without detail.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrNoActiveRound):
		return http.StatusConflict
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
