package round

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/ledger"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	ledger *ledger.Ledger
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	l := ledger.New(ms, nil)
	rec := &events.Recorder{}
	svc := NewService(ms, l, rec, Config{RetryDelay: time.Millisecond}, nil)
	return &fixture{svc: svc, store: ms, ledger: l, events: rec}
}

func (f *fixture) seedTeam(t *testing.T, id, name string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateTeam(context.Background(), &model.Team{
		ID:         id,
		Name:       name,
		Portfolio:  model.NewPortfolio(),
		TotalValue: model.StartingCash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func TestStart_FirstRoundDefaults(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.Start(context.Background(), StartParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, r.RoundNumber)
	assert.Equal(t, model.RoundActive, r.Status)
	assert.Equal(t, int64(360), r.DurationSeconds)
	assert.True(t, r.PriceChanges.IsZero())
	assert.Len(t, f.events.OfType(events.TypeRound), 1)

	current, err := f.svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, current.RoundNumber)
}

func TestStart_FractionalMinutes(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.Start(context.Background(), StartParams{DurationMinutes: d(1.5)})
	require.NoError(t, err)
	assert.Equal(t, int64(90), r.DurationSeconds)

	_, err = f.svc.Start(context.Background(), StartParams{DurationMinutes: d(-2)})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestStart_RejectsOverlongDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, StartParams{DurationMinutes: decimal.NewFromInt(200_000_000)})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = f.svc.Start(ctx, StartParams{DurationMinutes: decimal.NewFromInt(24*60 + 1)})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = f.svc.Current(ctx)
	assert.True(t, errors.Is(err, model.ErrNoActiveRound))

	r, err := f.svc.Start(ctx, StartParams{DurationMinutes: decimal.NewFromInt(24 * 60)})
	require.NoError(t, err)
	assert.Equal(t, int64(MaxDurationSeconds), r.DurationSeconds)

	_, ended, err := f.svc.EndIfExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ended)
	assert.Greater(t, Remaining(r, time.Now()), 23*time.Hour)
}

func TestStart_WhileActiveForceEndsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")

	_, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t1", map[model.Asset]decimal.Decimal{model.Gold: d(100000)})
	require.NoError(t, err)
	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(10)})
	require.NoError(t, err)

	second, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RoundNumber)

	first, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.RoundEnded, first.Status)
	require.NotNil(t, first.AppliedPriceChanges)
	assert.True(t, first.AppliedPriceChanges.Gold.Equal(d(10)))

	team, err := f.store.GetTeam(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, team.TotalValue.Equal(d(510000)), "got %s", team.TotalValue)

	active, err := f.store.GetActiveRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active.RoundNumber)
}

func TestStart_ExplicitNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Start(ctx, StartParams{RoundNumber: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, r.RoundNumber)

	_, err = f.svc.End(ctx)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, StartParams{RoundNumber: 3})
	assert.True(t, errors.Is(err, model.ErrConflict), "got %v", err)
	_, err = f.svc.Start(ctx, StartParams{RoundNumber: 2})
	assert.True(t, errors.Is(err, model.ErrConflict), "got %v", err)

	next, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	assert.Equal(t, 4, next.RoundNumber)
}

func TestEnd_SettlesValuesWithoutTouchingQuantities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")
	f.seedTeam(t, "t2", "Bears")

	_, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t1", map[model.Asset]decimal.Decimal{model.Gold: d(100000)})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t2", map[model.Asset]decimal.Decimal{model.Crypto: d(200000)})
	require.NoError(t, err)
	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(10), model.Crypto: d(-25)})
	require.NoError(t, err)

	res, err := f.svc.End(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, model.RoundEnded, res.Round.Status)
	assert.NotNil(t, res.Round.EndTime)
	assert.True(t, res.Round.PriceChanges.IsZero())
	require.NotNil(t, res.Round.AppliedPriceChanges)
	assert.True(t, res.Round.AppliedPriceChanges.Crypto.Equal(d(-25)))

	t1, _ := f.store.GetTeam(ctx, "t1")
	t2, _ := f.store.GetTeam(ctx, "t2")
	assert.True(t, t1.TotalValue.Equal(d(510000)), "t1 got %s", t1.TotalValue)
	assert.True(t, t2.TotalValue.Equal(d(450000)), "t2 got %s", t2.TotalValue)
	assert.True(t, t1.Portfolio.Gold.Equal(d(100000)), "quantities must not change")
	assert.True(t, t2.Portfolio.Crypto.Equal(d(200000)), "quantities must not change")

	require.Len(t, res.Leaderboard, 2)
	assert.Equal(t, "Bulls", res.Leaderboard[0].TeamName)
	assert.Equal(t, 1, res.Leaderboard[0].Rank)
	assert.True(t, res.Leaderboard[1].ChangeFromBaseline.Equal(d(-50000)))

	snap, err := f.svc.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, res.Leaderboard, snap.Entries)

	assert.Len(t, f.events.OfType(events.TypeLeaderboard), 1)
	assert.Len(t, f.events.OfType(events.TypePrices), 1)
}

func TestEnd_NextRoundDoesNotCompound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")

	_, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t1", map[model.Asset]decimal.Decimal{model.Stocks: d(100000)})
	require.NoError(t, err)
	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Stocks: d(20)})
	require.NoError(t, err)
	_, err = f.svc.End(ctx)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	res, err := f.svc.End(ctx)
	require.NoError(t, err)

	assert.True(t, res.Leaderboard[0].PortfolioValue.Equal(model.StartingCash),
		"a round without price changes values at face, got %s", res.Leaderboard[0].PortfolioValue)
}

func TestEnd_TwiceIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = f.svc.End(ctx)
	require.NoError(t, err)

	_, err = f.svc.End(ctx)
	assert.True(t, errors.Is(err, model.ErrConflict), "got %v", err)
	assert.True(t, errors.Is(err, model.ErrNoActiveRound), "got %v", err)
}

func TestEnd_NoRounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.End(context.Background())
	assert.True(t, errors.Is(err, model.ErrNoActiveRound))
	assert.False(t, errors.Is(err, model.ErrConflict))
}

// failingRevaluer fails for one team and delegates the rest.
type failingRevaluer struct {
	next   Revaluer
	failID string
}

func (r failingRevaluer) Revalue(ctx context.Context, teamID string, pc model.PriceChanges) (*model.Team, error) {
	if teamID == r.failID {
		return nil, errors.New("disk full")
	}
	return r.next.Revalue(ctx, teamID, pc)
}

func TestEnd_PartialFailureStillEndsRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")
	f.seedTeam(t, "t2", "Bears")
	svc := NewService(f.store, failingRevaluer{next: f.ledger, failID: "t2"}, nil, Config{}, nil)

	_, err := svc.Start(ctx, StartParams{})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t1", map[model.Asset]decimal.Decimal{model.Gold: d(100000)})
	require.NoError(t, err)
	_, err = f.ledger.Invest(ctx, "t2", map[model.Asset]decimal.Decimal{model.Gold: d(100000)})
	require.NoError(t, err)
	_, err = svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(50)})
	require.NoError(t, err)

	res, err := svc.End(ctx)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Bears")
	assert.Equal(t, model.RoundEnded, res.Round.Status)

	t1, _ := f.store.GetTeam(ctx, "t1")
	t2, _ := f.store.GetTeam(ctx, "t2")
	assert.True(t, t1.TotalValue.Equal(d(550000)))
	assert.True(t, t2.TotalValue.Equal(model.StartingCash), "failed team keeps its stale total")
}

func TestEndIfExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Start(ctx, StartParams{DurationMinutes: d(1)})
	require.NoError(t, err)

	_, ended, err := f.svc.EndIfExpired(ctx, r.StartTime.Add(59*time.Second))
	require.NoError(t, err)
	assert.False(t, ended)

	res, ended, err := f.svc.EndIfExpired(ctx, r.StartTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Equal(t, 1, res.Round.RoundNumber)

	_, ended, err = f.svc.EndIfExpired(ctx, r.StartTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ended, "no active round left to end")
}

func TestEnd_ConcurrentWithTimerSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")

	r, err := f.svc.Start(ctx, StartParams{DurationMinutes: d(1)})
	require.NoError(t, err)
	expired := r.StartTime.Add(time.Hour)

	var wg sync.WaitGroup
	var settled atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := f.svc.End(ctx); err == nil {
					settled.Add(1)
				}
				return
			}
			if _, ended, err := f.svc.EndIfExpired(ctx, expired); err == nil && ended {
				settled.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), settled.Load())
	assert.Len(t, f.events.OfType(events.TypeLeaderboard), 1)
}

func TestSetPriceChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(5)})
	assert.True(t, errors.Is(err, model.ErrNoActiveRound))

	_, err = f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)

	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(5)})
	require.NoError(t, err)
	merged, err := f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.FD: d(2.5)})
	require.NoError(t, err)
	assert.True(t, merged.Gold.Equal(d(5)), "earlier keys survive a partial update")
	assert.True(t, merged.FD.Equal(d(2.5)))

	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Cash: d(5)})
	assert.True(t, errors.Is(err, model.ErrInvalidAsset))
	_, err = f.svc.SetPriceChanges(ctx, map[model.Asset]decimal.Decimal{model.Gold: d(-101)})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	_, err = f.svc.SetPriceChanges(ctx, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestPublishNews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PublishNews(ctx, "Gold rallies", "Central banks buy")
	assert.True(t, errors.Is(err, model.ErrNoActiveRound))

	_, err = f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)

	_, err = f.svc.PublishNews(ctx, " ", "x")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	item, err := f.svc.PublishNews(ctx, "Gold rallies", "Central banks buy")
	require.NoError(t, err)
	assert.Equal(t, "Gold rallies", item.Title)

	current, _ := f.svc.Current(ctx)
	require.Len(t, current.News, 1)

	news := f.events.OfType(events.TypeNews)
	require.Len(t, news, 1)
	payload := news[0].Data.(events.NewsPayload)
	assert.Equal(t, 1, payload.RoundNumber)
}

func TestRemaining(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	r := &model.Round{Status: model.RoundActive, StartTime: start, DurationSeconds: 60}

	assert.Equal(t, 45*time.Second, Remaining(r, start.Add(15*time.Second)))
	assert.Equal(t, time.Duration(0), Remaining(r, start.Add(2*time.Minute)))

	r.Status = model.RoundEnded
	assert.Equal(t, time.Duration(0), Remaining(r, start))
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedTeam(t, "t1", "Bulls")
	_, err := f.svc.Start(ctx, StartParams{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(ctx))

	_, err = f.svc.Current(ctx)
	assert.True(t, errors.Is(err, model.ErrNoActiveRound))
	board, err := f.svc.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, board)
}

// flakyStore fails the first n saves of an ended round.
type flakyStore struct {
	*store.MemoryStore
	failures atomic.Int32
}

func (s *flakyStore) SaveRound(ctx context.Context, r *model.Round) error {
	if r.Status == model.RoundEnded && s.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return s.MemoryStore.SaveRound(ctx, r)
}

func TestTick_RetriesOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers on retry", func(t *testing.T) {
		fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
		fs.failures.Store(1)
		svc := NewService(fs, ledger.New(fs, nil), nil, Config{RetryDelay: time.Millisecond}, nil)

		r, err := svc.Start(ctx, StartParams{DurationMinutes: d(1)})
		require.NoError(t, err)
		svc.now = func() time.Time { return r.StartTime.Add(time.Hour) }

		svc.tick(ctx)

		got, err := fs.GetRound(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.RoundEnded, got.Status)
	})

	t.Run("gives up after second failure", func(t *testing.T) {
		fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
		fs.failures.Store(2)
		svc := NewService(fs, ledger.New(fs, nil), nil, Config{RetryDelay: time.Millisecond}, nil)

		r, err := svc.Start(ctx, StartParams{DurationMinutes: d(1)})
		require.NoError(t, err)
		svc.now = func() time.Time { return r.StartTime.Add(time.Hour) }

		svc.tick(ctx)

		got, err := fs.GetActiveRound(ctx)
		require.NoError(t, err, "round stays active for the next tick")
		assert.Equal(t, 1, got.RoundNumber)
	})
}

func TestRunTimer_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.RunTimer(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
}
