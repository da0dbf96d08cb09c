// Package round runs the round lifecycle: upcoming → active → ended.
//
// Exactly one round may be active. All lifecycle operations take a single
// service-wide mutex, so a manual End, the timer's automatic end and a
// forced end from Start can never interleave. Settlement revalues every
// team through the ledger, which takes that team's own lock; the ledger
// never takes the round mutex, so the lock order is always round → team.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/leaderboard"
	"github.com/finsim/game-engine/internal/metrics"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/store"
)

// Settlement triggers, used as metric labels.
const (
	TriggerManual  = "manual"
	TriggerTimer   = "timer"
	TriggerRestart = "restart"
)

var minusHundred = decimal.NewFromInt(-100)

// Revaluer recomputes a team's cached total value under a set of price
// changes. Implemented by *ledger.Ledger.
type Revaluer interface {
	Revalue(ctx context.Context, teamID string, pc model.PriceChanges) (*model.Team, error)
}

// Config tunes the round service.
type Config struct {
	// DefaultDurationMinutes applies when Start is called without a duration.
	DefaultDurationMinutes decimal.Decimal

	// RetryDelay is the pause before the timer retries a failed automatic end.
	RetryDelay time.Duration
}

// Service owns the active round.
type Service struct {
	store  store.Store
	ledger Revaluer
	pub    events.Publisher
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService creates a round service. Pass nil for pub to discard events.
func NewService(st store.Store, ledger Revaluer, pub events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if !cfg.DefaultDurationMinutes.IsPositive() {
		cfg.DefaultDurationMinutes = decimal.NewFromInt(6)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Service{
		store:  st,
		ledger: ledger,
		pub:    pub,
		cfg:    cfg,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartParams is the input to Start. Zero values select defaults: the next
// round number and the configured duration.
type StartParams struct {
	RoundNumber     int             `json:"roundNumber"`
	DurationMinutes decimal.Decimal `json:"duration"`
}

// MaxDurationSeconds caps a single round at one day.
const MaxDurationSeconds = 24 * 60 * 60

// Result is the outcome of settling a round.
type Result struct {
	Round       *model.Round             `json:"round"`
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`

	// Warnings lists teams whose revaluation could not be persisted and
	// other non-fatal settlement failures. Those teams keep a stale total.
	Warnings []string `json:"warnings,omitempty"`
}

// --- Lifecycle ---

// Start opens a new active round. An already active round is settled
// first, applying its pending price changes, before the new one opens.
func (s *Service) Start(ctx context.Context, p StartParams) (*model.Round, error) {
	minutes := p.DurationMinutes
	if minutes.IsZero() {
		minutes = s.cfg.DefaultDurationMinutes
	}
	exact := minutes.Mul(decimal.NewFromInt(60))
	if exact.GreaterThan(decimal.NewFromInt(MaxDurationSeconds)) {
		return nil, fmt.Errorf("round duration must be at most %d minutes: %w", MaxDurationSeconds/60, model.ErrInvalidInput)
	}
	seconds := exact.IntPart()
	if seconds < 1 {
		return nil, fmt.Errorf("round duration must be positive: %w", model.ErrInvalidInput)
	}
	if p.RoundNumber < 0 {
		return nil, fmt.Errorf("round number must be positive: %w", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.store.GetActiveRound(ctx)
	switch {
	case err == nil:
		s.log.Info("force-ending active round before start", "round", active.RoundNumber)
		if _, err := s.settle(ctx, active, TriggerRestart); err != nil {
			return nil, fmt.Errorf("end round %d: %w", active.RoundNumber, err)
		}
	case !errors.Is(err, model.ErrNoActiveRound):
		return nil, err
	}

	next := 1
	latest, err := s.store.LatestRound(ctx)
	switch {
	case err == nil:
		next = latest.RoundNumber + 1
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}
	number := next
	if p.RoundNumber != 0 {
		if p.RoundNumber < next {
			return nil, fmt.Errorf("round %d already exists or is out of order (next is %d): %w", p.RoundNumber, next, model.ErrConflict)
		}
		number = p.RoundNumber
	}

	round := &model.Round{
		RoundNumber:     number,
		Status:          model.RoundActive,
		DurationSeconds: seconds,
		StartTime:       s.now(),
		PriceChanges:    model.PriceChanges{},
		News:            []model.NewsItem{},
	}
	if err := s.store.SaveRound(ctx, round); err != nil {
		return nil, fmt.Errorf("save round %d: %w", number, err)
	}

	metrics.ActiveRound.Set(float64(number))
	s.log.Info("round started", "round", number, "duration_seconds", seconds)
	s.pub.Publish(events.Event{Type: events.TypeRound, Data: round})
	return round, nil
}

// End settles the active round. If the most recent round has already
// ended, the error wraps both model.ErrConflict and model.ErrNoActiveRound.
func (s *Service) End(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.store.GetActiveRound(ctx)
	if errors.Is(err, model.ErrNoActiveRound) {
		latest, lerr := s.store.LatestRound(ctx)
		if lerr == nil && latest.Status == model.RoundEnded {
			return nil, fmt.Errorf("round %d already ended: %w: %w", latest.RoundNumber, model.ErrConflict, model.ErrNoActiveRound)
		}
		return nil, model.ErrNoActiveRound
	}
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, active, TriggerManual)
}

// EndIfExpired settles the active round only if its timer has run out at
// now. It reports whether a round was ended.
func (s *Service) EndIfExpired(ctx context.Context, now time.Time) (*Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.store.GetActiveRound(ctx)
	if errors.Is(err, model.ErrNoActiveRound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if now.Before(active.Deadline()) {
		return nil, false, nil
	}
	res, err := s.settle(ctx, active, TriggerTimer)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// settle applies round's price changes to every team's total value, then
// closes the round. Quantities are never touched. A team whose revaluation
// fails is logged and reported in Result.Warnings while the rest continue.
// Callers must hold s.mu.
func (s *Service) settle(ctx context.Context, round *model.Round, trigger string) (*Result, error) {
	start := time.Now()
	pc := round.PriceChanges

	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("settle round %d: list teams: %w", round.RoundNumber, err)
	}

	var failures []error
	settled := make([]model.Team, 0, len(teams))
	for _, t := range teams {
		updated, err := s.ledger.Revalue(ctx, t.ID, pc)
		if err != nil {
			metrics.SettlementTeamFailures.Inc()
			s.log.Error("settlement failed for team", "round", round.RoundNumber, "team", t.ID, "name", t.Name, "err", err)
			failures = append(failures, fmt.Errorf("team %s (%s): %w", t.Name, t.ID, err))
			settled = append(settled, t)
			continue
		}
		settled = append(settled, *updated)
	}

	end := s.now()
	applied := pc
	round.Status = model.RoundEnded
	round.EndTime = &end
	round.AppliedPriceChanges = &applied
	round.PriceChanges = model.PriceChanges{}
	if err := s.store.SaveRound(ctx, round); err != nil {
		return nil, fmt.Errorf("settle round %d: save round: %w", round.RoundNumber, err)
	}

	board := leaderboard.Build(settled)
	if err := s.store.SaveLeaderboardSnapshot(ctx, &model.LeaderboardSnapshot{
		RoundNumber: round.RoundNumber,
		Entries:     board,
		CreatedAt:   end,
	}); err != nil {
		s.log.Error("leaderboard snapshot not saved", "round", round.RoundNumber, "err", err)
		failures = append(failures, fmt.Errorf("leaderboard snapshot: %w", err))
	}

	metrics.Settlements.WithLabelValues(trigger).Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	metrics.ActiveRound.Set(0)

	res := &Result{Round: round, Leaderboard: board}
	if len(failures) > 0 {
		for _, f := range failures {
			res.Warnings = append(res.Warnings, f.Error())
		}
		s.log.Warn("round settled with failures", "round", round.RoundNumber, "failures", len(failures), "err", errors.Join(failures...))
	}
	s.log.Info("round settled", "round", round.RoundNumber, "trigger", trigger, "teams", len(settled))

	s.pub.Publish(events.Event{Type: events.TypeLeaderboard, Data: board})
	s.pub.Publish(events.Event{Type: events.TypeRound, Data: round})
	return res, nil
}

// --- Active round content ---

// PublishNews appends a headline to the active round and broadcasts it.
func (s *Service) PublishNews(ctx context.Context, title, content string) (*model.NewsItem, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, fmt.Errorf("news title and content are required: %w", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetActiveRound(ctx)
	if err != nil {
		return nil, err
	}

	item := model.NewsItem{Title: title, Content: content, PublishedAt: s.now()}
	round.News = append(round.News, item)
	if err := s.store.SaveRound(ctx, round); err != nil {
		return nil, fmt.Errorf("save round %d: %w", round.RoundNumber, err)
	}

	s.log.Info("news published", "round", round.RoundNumber, "title", title)
	s.pub.Publish(events.Event{Type: events.TypeNews, Data: events.NewsPayload{
		Title:       item.Title,
		Content:     item.Content,
		PublishedAt: item.PublishedAt,
		RoundNumber: round.RoundNumber,
	}})
	return &item, nil
}

// SetPriceChanges merges partial into the active round's price changes and
// broadcasts the merged set. Percentages below -100 are rejected.
func (s *Service) SetPriceChanges(ctx context.Context, partial map[model.Asset]decimal.Decimal) (model.PriceChanges, error) {
	if len(partial) == 0 {
		return model.PriceChanges{}, fmt.Errorf("no price changes given: %w", model.ErrInvalidInput)
	}
	for a, pct := range partial {
		if pct.LessThan(minusHundred) {
			return model.PriceChanges{}, fmt.Errorf("%s cannot fall more than 100%%: %w", a, model.ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetActiveRound(ctx)
	if err != nil {
		return model.PriceChanges{}, err
	}

	merged, err := round.PriceChanges.Merge(partial)
	if err != nil {
		return model.PriceChanges{}, err
	}
	round.PriceChanges = merged
	if err := s.store.SaveRound(ctx, round); err != nil {
		return model.PriceChanges{}, fmt.Errorf("save round %d: %w", round.RoundNumber, err)
	}

	s.log.Info("price changes set", "round", round.RoundNumber, "changes", len(partial))
	s.pub.Publish(events.Event{Type: events.TypePrices, Data: merged})
	return merged, nil
}

// --- Reads ---

// Current returns the active round.
func (s *Service) Current(ctx context.Context) (*model.Round, error) {
	return s.store.GetActiveRound(ctx)
}

// Get returns a round by number.
func (s *Service) Get(ctx context.Context, roundNumber int) (*model.Round, error) {
	return s.store.GetRound(ctx, roundNumber)
}

// Remaining is the time left on round's timer at now, never negative.
func Remaining(round *model.Round, now time.Time) time.Duration {
	if round.Status != model.RoundActive {
		return 0
	}
	left := round.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Leaderboard ranks all teams by their current cached total values.
func (s *Service) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return leaderboard.Build(teams), nil
}

// Snapshot returns the leaderboard frozen when round roundNumber ended.
func (s *Service) Snapshot(ctx context.Context, roundNumber int) (*model.LeaderboardSnapshot, error) {
	return s.store.GetLeaderboardSnapshot(ctx, roundNumber)
}

// Reset wipes every team, round and snapshot. Used by the admin reset.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset game: %w", err)
	}
	metrics.ActiveRound.Set(0)
	metrics.RegisteredTeams.Set(0)
	s.log.Warn("game reset")
	s.pub.Publish(events.Event{Type: events.TypeLeaderboard, Data: []model.LeaderboardEntry{}})
	return nil
}
