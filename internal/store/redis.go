package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/finsim/game-engine/internal/model"
)

const keyPrefix = "finsim:"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Only immutable records are cached: ended rounds and leaderboard
// snapshots. Teams and the active round always come from the primary, since
// the ledger read-modify-writes them.
//
// Redis calls run behind a circuit breaker. When Redis is unhealthy the
// breaker opens and every read falls straight through to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		breaker: cb,
		log:     logger,
	}
}

// --- Write-through (write to primary, then refresh or invalidate cache) ---

func (s *CachedStore) SaveRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.SaveRound(ctx, r); err != nil {
		return err
	}
	if r.Status == model.RoundEnded {
		s.put(ctx, roundKey(r.RoundNumber), r)
	} else {
		s.del(ctx, roundKey(r.RoundNumber))
	}
	return nil
}

func (s *CachedStore) SaveLeaderboardSnapshot(ctx context.Context, snap *model.LeaderboardSnapshot) error {
	if err := s.primary.SaveLeaderboardSnapshot(ctx, snap); err != nil {
		return err
	}
	s.put(ctx, snapshotKey(snap.RoundNumber), snap)
	return nil
}

func (s *CachedStore) Reset(ctx context.Context) error {
	if err := s.primary.Reset(ctx); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return nil, err
			}
		}
		return nil, iter.Err()
	})
	if err != nil {
		s.log.Warn("cache flush failed", "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, roundNumber int) (*model.Round, error) {
	var r model.Round
	if s.get(ctx, roundKey(roundNumber), &r) {
		return &r, nil
	}

	// Cache miss: read from primary.
	round, err := s.primary.GetRound(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	if round.Status == model.RoundEnded {
		s.put(ctx, roundKey(roundNumber), round)
	}
	return round, nil
}

func (s *CachedStore) GetLeaderboardSnapshot(ctx context.Context, roundNumber int) (*model.LeaderboardSnapshot, error) {
	var snap model.LeaderboardSnapshot
	if s.get(ctx, snapshotKey(roundNumber), &snap) {
		return &snap, nil
	}

	result, err := s.primary.GetLeaderboardSnapshot(ctx, roundNumber)
	if err != nil {
		return nil, err
	}
	s.put(ctx, snapshotKey(roundNumber), result)
	return result, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateTeam(ctx context.Context, t *model.Team) error {
	return s.primary.CreateTeam(ctx, t)
}

func (s *CachedStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return s.primary.GetTeam(ctx, id)
}

func (s *CachedStore) GetTeamByName(ctx context.Context, name string) (*model.Team, error) {
	return s.primary.GetTeamByName(ctx, name)
}

func (s *CachedStore) SaveTeam(ctx context.Context, t *model.Team) error {
	return s.primary.SaveTeam(ctx, t)
}

func (s *CachedStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	return s.primary.ListTeams(ctx)
}

func (s *CachedStore) GetActiveRound(ctx context.Context) (*model.Round, error) {
	return s.primary.GetActiveRound(ctx)
}

func (s *CachedStore) LatestRound(ctx context.Context) (*model.Round, error) {
	return s.primary.LatestRound(ctx)
}

// --- Cache helpers ---

// get reports whether key was found and decoded into dst. Misses and Redis
// failures both report false.
func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		s.log.Debug("cache read skipped", "key", key, "err", err)
		return false
	}
	data, _ := res.([]byte)
	if data == nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.rdb.Set(ctx, key, data, s.ttl).Err()
	}); err != nil {
		s.log.Debug("cache write skipped", "key", key, "err", err)
	}
}

func (s *CachedStore) del(ctx context.Context, key string) {
	if _, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.rdb.Del(ctx, key).Err()
	}); err != nil {
		s.log.Debug("cache invalidate skipped", "key", key, "err", err)
	}
}

func roundKey(n int) string    { return fmt.Sprintf("%sround:%d", keyPrefix, n) }
func snapshotKey(n int) string { return fmt.Sprintf("%sleaderboard:%d", keyPrefix, n) }
