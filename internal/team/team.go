// Package team handles registration, login and lookup of teams.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/finsim/game-engine/internal/auth"
	"github.com/finsim/game-engine/internal/metrics"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/store"
)

// MaxNameLength bounds team names, in runes.
const MaxNameLength = 40

// Service registers and authenticates teams.
type Service struct {
	store  store.Store
	hasher *auth.Hasher
	log    *slog.Logger
}

// NewService creates a team service.
func NewService(st store.Store, hasher *auth.Hasher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, hasher: hasher, log: logger}
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Name     string   `json:"name"`
	Members  []string `json:"members"`
	Password string   `json:"password"`
}

// Register creates a team with the starting portfolio. Names are unique
// ignoring case; a duplicate is rejected before anything is written.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.Team, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("team name is required: %w", model.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("team name longer than %d characters: %w", MaxNameLength, model.ErrInvalidInput)
	}

	members := make([]string, 0, len(req.Members))
	for _, m := range req.Members {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}
	if len(members) > model.MaxMembers {
		return nil, fmt.Errorf("at most %d members allowed: %w", model.MaxMembers, model.ErrInvalidInput)
	}

	if _, err := s.store.GetTeamByName(ctx, name); err == nil {
		return nil, fmt.Errorf("team name %q already exists: %w", name, model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &model.Team{
		ID:             uuid.New().String(),
		Name:           name,
		Members:        members,
		CredentialHash: hash,
		Portfolio:      model.NewPortfolio(),
		TotalValue:     model.StartingCash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTeam(ctx, t); err != nil {
		return nil, err
	}

	metrics.RegisteredTeams.Inc()
	s.log.Info("team registered", "id", t.ID, "name", t.Name, "members", len(members))
	return t, nil
}

// Login returns the team when password matches. Unknown names and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, name, password string) (*model.Team, error) {
	t, err := s.store.GetTeamByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if err := s.hasher.Verify(t.CredentialHash, password); err != nil {
		s.log.Info("team login rejected", "team", t.ID)
		return nil, err
	}
	return t, nil
}

// Get returns a team by id.
func (s *Service) Get(ctx context.Context, id string) (*model.Team, error) {
	return s.store.GetTeam(ctx, id)
}

// List returns every team.
func (s *Service) List(ctx context.Context) ([]model.Team, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []model.Team{}
	}
	return teams, nil
}

// SyncMetrics sets the registered-teams gauge from the store, e.g. after
// startup or a reset.
func (s *Service) SyncMetrics(ctx context.Context) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		s.log.Warn("team count unavailable", "err", err)
		return
	}
	metrics.RegisteredTeams.Set(float64(len(teams)))
}
