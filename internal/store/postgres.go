package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the PostgreSQL SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Totals are stored as NUMERIC for exact decimal precision; nested values
// (portfolio, news, history) are JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const teamColumns = `id, name, members, credential_hash, portfolio, auction_items,
		        total_value::TEXT, investment_history, created_at, updated_at`

func (s *PostgresStore) CreateTeam(ctx context.Context, t *model.Team) error {
	doc, err := encodeTeam(t)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO teams (id, name, members, credential_hash, portfolio, auction_items,
		                    total_value, investment_history, created_at, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4, $5::JSONB, $6::JSONB, $7::NUMERIC, $8::JSONB, $9, $10)`,
		t.ID, t.Name, doc.members, t.CredentialHash, doc.portfolio, doc.auctionItems,
		t.TotalValue.String(), doc.history, t.CreatedAt, t.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("team name %q already exists: %w", t.Name, model.ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) GetTeamByName(ctx context.Context, name string) (*model.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE lower(name) = lower($1)`, name)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team by name %q: %w", name, err)
	}
	return t, nil
}

func (s *PostgresStore) SaveTeam(ctx context.Context, t *model.Team) error {
	doc, err := encodeTeam(t)
	if err != nil {
		return err
	}
	// Name is immutable and never updated.
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams
		 SET members = $2::JSONB, credential_hash = $3, portfolio = $4::JSONB,
		     auction_items = $5::JSONB, total_value = $6::NUMERIC,
		     investment_history = $7::JSONB, updated_at = $8
		 WHERE id = $1`,
		t.ID, doc.members, t.CredentialHash, doc.portfolio, doc.auctionItems,
		t.TotalValue.String(), doc.history, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save team %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("team %s: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

const roundColumns = `round_number, status, duration_seconds, start_time, end_time,
		        price_changes, applied_price_changes, news`

func (s *PostgresStore) GetActiveRound(ctx context.Context) (*model.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status = 'active'
		 ORDER BY round_number DESC LIMIT 1`)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNoActiveRound
	}
	if err != nil {
		return nil, fmt.Errorf("get active round: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetRound(ctx context.Context, roundNumber int) (*model.Round, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE round_number = $1`, roundNumber)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("round %d: %w", roundNumber, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", roundNumber, err)
	}
	return r, nil
}

func (s *PostgresStore) LatestRound(ctx context.Context) (*model.Round, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY round_number DESC LIMIT 1`)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest round: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get latest round: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) SaveRound(ctx context.Context, r *model.Round) error {
	priceChanges, err := json.Marshal(r.PriceChanges)
	if err != nil {
		return err
	}
	var applied *string
	if r.AppliedPriceChanges != nil {
		b, err := json.Marshal(r.AppliedPriceChanges)
		if err != nil {
			return err
		}
		str := string(b)
		applied = &str
	}
	news, err := json.Marshal(nonNil(r.News))
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rounds (round_number, status, duration_seconds, start_time, end_time,
		                     price_changes, applied_price_changes, news)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7::JSONB, $8::JSONB)
		 ON CONFLICT (round_number) DO UPDATE
		 SET status = EXCLUDED.status, duration_seconds = EXCLUDED.duration_seconds,
		     start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
		     price_changes = EXCLUDED.price_changes,
		     applied_price_changes = EXCLUDED.applied_price_changes,
		     news = EXCLUDED.news`,
		r.RoundNumber, string(r.Status), r.DurationSeconds, r.StartTime, r.EndTime,
		string(priceChanges), applied, string(news),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("round %d: another round is active: %w", r.RoundNumber, model.ErrConflict)
	}
	return err
}

func (s *PostgresStore) SaveLeaderboardSnapshot(ctx context.Context, snap *model.LeaderboardSnapshot) error {
	entries, err := json.Marshal(nonNil(snap.Entries))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leaderboard_snapshots (round_number, entries, created_at)
		 VALUES ($1, $2::JSONB, $3)
		 ON CONFLICT (round_number) DO UPDATE
		 SET entries = EXCLUDED.entries, created_at = EXCLUDED.created_at`,
		snap.RoundNumber, string(entries), snap.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetLeaderboardSnapshot(ctx context.Context, roundNumber int) (*model.LeaderboardSnapshot, error) {
	snap := model.LeaderboardSnapshot{RoundNumber: roundNumber}
	var entries []byte
	err := s.pool.QueryRow(ctx,
		`SELECT entries, created_at FROM leaderboard_snapshots WHERE round_number = $1`, roundNumber).
		Scan(&entries, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("leaderboard snapshot for round %d: %w", roundNumber, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard snapshot %d: %w", roundNumber, err)
	}
	if err := json.Unmarshal(entries, &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard snapshot %d: %w", roundNumber, err)
	}
	return &snap, nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE teams, rounds, leaderboard_snapshots`)
	return err
}

// --- Row codecs ---

type teamDoc struct {
	members, portfolio, auctionItems, history string
}

func encodeTeam(t *model.Team) (teamDoc, error) {
	var doc teamDoc
	parts := []struct {
		dst *string
		v   any
	}{
		{&doc.members, nonNil(t.Members)},
		{&doc.portfolio, t.Portfolio},
		{&doc.auctionItems, nonNil(t.AuctionItems)},
		{&doc.history, nonNil(t.InvestmentHistory)},
	}
	for _, p := range parts {
		b, err := json.Marshal(p.v)
		if err != nil {
			return doc, fmt.Errorf("encode team %s: %w", t.ID, err)
		}
		*p.dst = string(b)
	}
	return doc, nil
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanTeam(row pgxRow) (*model.Team, error) {
	var t model.Team
	var members, portfolio, items, history []byte
	var totalS string

	if err := row.Scan(&t.ID, &t.Name, &members, &t.CredentialHash, &portfolio, &items,
		&totalS, &history, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	t.TotalValue, _ = decimal.NewFromString(totalS)
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{members, &t.Members},
		{portfolio, &t.Portfolio},
		{items, &t.AuctionItems},
		{history, &t.InvestmentHistory},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode team %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanRound(row pgxRow) (*model.Round, error) {
	var r model.Round
	var status string
	var endTime *time.Time
	var priceChanges, applied, news []byte

	if err := row.Scan(&r.RoundNumber, &status, &r.DurationSeconds, &r.StartTime, &endTime,
		&priceChanges, &applied, &news); err != nil {
		return nil, err
	}

	r.Status = model.RoundStatus(status)
	r.EndTime = endTime
	if err := json.Unmarshal(priceChanges, &r.PriceChanges); err != nil {
		return nil, fmt.Errorf("decode round %d: %w", r.RoundNumber, err)
	}
	if len(applied) > 0 {
		var pc model.PriceChanges
		if err := json.Unmarshal(applied, &pc); err != nil {
			return nil, fmt.Errorf("decode round %d: %w", r.RoundNumber, err)
		}
		r.AppliedPriceChanges = &pc
	}
	if err := json.Unmarshal(news, &r.News); err != nil {
		return nil, fmt.Errorf("decode round %d: %w", r.RoundNumber, err)
	}
	return &r, nil
}

// nonNil keeps empty slices encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
