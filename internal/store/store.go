// Package store defines the persistence interface for the game engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for immutable records), and in-memory (development and tests).
//
// Every operation is atomic at the single-record level. No multi-record
// transactions are offered; settlement tolerates partial completion.
package store

import (
	"context"

	"github.com/finsim/game-engine/internal/model"
)

// Store is the persistence interface. Lookups that miss return an error
// wrapping model.ErrNotFound.
type Store interface {
	// --- Team operations ---

	// CreateTeam persists a new team. Team names are unique
	// case-insensitively; a duplicate returns model.ErrConflict.
	CreateTeam(ctx context.Context, team *model.Team) error

	// GetTeam retrieves a team by its ID.
	GetTeam(ctx context.Context, id string) (*model.Team, error)

	// GetTeamByName retrieves a team by name, ignoring case.
	GetTeamByName(ctx context.Context, name string) (*model.Team, error)

	// SaveTeam overwrites an existing team record.
	SaveTeam(ctx context.Context, team *model.Team) error

	// ListTeams returns all teams in registration order.
	ListTeams(ctx context.Context) ([]model.Team, error)

	// --- Round operations ---

	// GetActiveRound returns the round with status active. Returns an error
	// wrapping model.ErrNoActiveRound when there is none.
	GetActiveRound(ctx context.Context) (*model.Round, error)

	// GetRound retrieves a round by number.
	GetRound(ctx context.Context, roundNumber int) (*model.Round, error)

	// LatestRound returns the round with the highest number.
	LatestRound(ctx context.Context) (*model.Round, error)

	// SaveRound inserts or overwrites a round keyed by its number.
	SaveRound(ctx context.Context, round *model.Round) error

	// --- Round history ---

	// SaveLeaderboardSnapshot stores the ranking frozen at a round's end.
	SaveLeaderboardSnapshot(ctx context.Context, snap *model.LeaderboardSnapshot) error

	// GetLeaderboardSnapshot retrieves the snapshot for a round.
	GetLeaderboardSnapshot(ctx context.Context, roundNumber int) (*model.LeaderboardSnapshot, error)

	// --- Lifecycle ---

	// Reset deletes every team, round and snapshot.
	Reset(ctx context.Context) error
}
