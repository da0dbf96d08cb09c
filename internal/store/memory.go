package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/finsim/game-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	teams     map[string]*model.Team
	teamOrder []string
	names     map[string]string // lower(name) → team ID
	rounds    map[int]*model.Round
	snapshots map[int]*model.LeaderboardSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.init()
	return s
}

func (s *MemoryStore) init() {
	s.teams = make(map[string]*model.Team)
	s.teamOrder = nil
	s.names = make(map[string]string)
	s.rounds = make(map[int]*model.Round)
	s.snapshots = make(map[int]*model.LeaderboardSnapshot)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *MemoryStore) CreateTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nameKey(t.Name)
	if _, exists := s.names[key]; exists {
		return fmt.Errorf("team name %q already exists: %w", t.Name, model.ErrConflict)
	}
	if _, exists := s.teams[t.ID]; exists {
		return fmt.Errorf("team %s already exists: %w", t.ID, model.ErrConflict)
	}

	// Store a copy to avoid external mutation.
	s.teams[t.ID] = t.Clone()
	s.teamOrder = append(s.teamOrder, t.ID)
	s.names[key] = t.ID
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, model.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetTeamByName(_ context.Context, name string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.names[nameKey(name)]
	if !ok {
		return nil, fmt.Errorf("team %q: %w", name, model.ErrNotFound)
	}
	return s.teams[id].Clone(), nil
}

func (s *MemoryStore) SaveTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.teams[t.ID]
	if !ok {
		return fmt.Errorf("team %s: %w", t.ID, model.ErrNotFound)
	}
	if nameKey(existing.Name) != nameKey(t.Name) {
		return fmt.Errorf("team %s: name is immutable: %w", t.ID, model.ErrInvalidInput)
	}
	s.teams[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0, len(s.teamOrder))
	for _, id := range s.teamOrder {
		teams = append(teams, *s.teams[id].Clone())
	}
	return teams, nil
}

func (s *MemoryStore) GetActiveRound(_ context.Context) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *model.Round
	for _, r := range s.rounds {
		if r.Status == model.RoundActive && (active == nil || r.RoundNumber > active.RoundNumber) {
			active = r
		}
	}
	if active == nil {
		return nil, model.ErrNoActiveRound
	}
	return active.Clone(), nil
}

func (s *MemoryStore) GetRound(_ context.Context, roundNumber int) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[roundNumber]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", roundNumber, model.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) LatestRound(_ context.Context) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Round
	for _, r := range s.rounds {
		if latest == nil || r.RoundNumber > latest.RoundNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest round: %w", model.ErrNotFound)
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) SaveRound(_ context.Context, r *model.Round) error {
	if r.RoundNumber < 1 {
		return fmt.Errorf("round number %d: %w", r.RoundNumber, model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rounds[r.RoundNumber] = r.Clone()
	return nil
}

func (s *MemoryStore) SaveLeaderboardSnapshot(_ context.Context, snap *model.LeaderboardSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *snap
	c.Entries = append([]model.LeaderboardEntry(nil), snap.Entries...)
	s.snapshots[snap.RoundNumber] = &c
	return nil
}

func (s *MemoryStore) GetLeaderboardSnapshot(_ context.Context, roundNumber int) (*model.LeaderboardSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[roundNumber]
	if !ok {
		return nil, fmt.Errorf("leaderboard snapshot for round %d: %w", roundNumber, model.ErrNotFound)
	}
	c := *snap
	c.Entries = append([]model.LeaderboardEntry(nil), snap.Entries...)
	return &c, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.init()
	return nil
}
