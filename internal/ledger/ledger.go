// Package ledger owns every mutation of a team's portfolio.
//
// All operations on the same team are serialized through a per-team mutex,
// so two concurrent requests can never both read the same cash balance and
// overcommit it. After each mutation the team's TotalValue is recomputed
// with the valuation package against the active round's price changes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/metrics"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/store"
	"github.com/finsim/game-engine/internal/valuation"
)

// Ledger applies validated portfolio operations to teams held in a Store.
type Ledger struct {
	store store.Store
	locks *teamLocks
	log   *slog.Logger
	now   func() time.Time
}

// New creates a ledger over st.
func New(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store: st,
		locks: newTeamLocks(),
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Invest moves cash into one or more investable assets. Every key must be
// an investable asset and every amount positive, otherwise nothing is
// applied. The total may not exceed available cash.
func (l *Ledger) Invest(ctx context.Context, teamID string, amounts map[model.Asset]decimal.Decimal) (*model.Team, error) {
	if len(amounts) == 0 {
		return nil, fmt.Errorf("invest: no amounts given: %w", model.ErrInvalidInput)
	}
	total := decimal.Zero
	for a, amt := range amounts {
		if !a.IsInvestable() {
			return nil, fmt.Errorf("invest: %w: %q", model.ErrInvalidAsset, a)
		}
		if !amt.IsPositive() {
			return nil, fmt.Errorf("invest: amount for %s must be positive: %w", a, model.ErrInvalidInput)
		}
		total = total.Add(amt)
	}

	team, err := l.mutate(ctx, "invest", teamID, func(t *model.Team, round *model.Round) error {
		if total.GreaterThan(t.Portfolio.Cash) {
			return fmt.Errorf("invest %s with %s cash available: %w", total, t.Portfolio.Cash, model.ErrInsufficientFunds)
		}

		recorded := make(map[model.Asset]decimal.Decimal, len(amounts))
		for a, amt := range amounts {
			t.Portfolio.Set(a, t.Portfolio.Get(a).Add(amt))
			recorded[a] = amt
		}
		t.Portfolio.Cash = t.Portfolio.Cash.Sub(total)

		roundNumber := 1
		if round != nil {
			roundNumber = round.RoundNumber
		}
		t.InvestmentHistory = append(t.InvestmentHistory, model.InvestmentRecord{
			RoundNumber: roundNumber,
			Amounts:     recorded,
			Timestamp:   l.now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for a, amt := range amounts {
		metrics.InvestedAmount.WithLabelValues(string(a)).Add(amt.InexactFloat64())
	}
	l.log.Info("investment committed", "team", teamID, "total", total.String(), "cash", team.Portfolio.Cash.String())
	return team, nil
}

// Transfer moves amount between any two distinct buckets, cash included.
func (l *Ledger) Transfer(ctx context.Context, teamID string, from, to model.Asset, amount decimal.Decimal) (*model.Team, error) {
	if !from.IsBucket() || !to.IsBucket() {
		return nil, fmt.Errorf("transfer %s→%s: %w", from, to, model.ErrInvalidAsset)
	}
	if from == to {
		return nil, fmt.Errorf("transfer: source and destination are both %s: %w", from, model.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("transfer: amount must be positive: %w", model.ErrInvalidInput)
	}

	team, err := l.mutate(ctx, "transfer", teamID, func(t *model.Team, _ *model.Round) error {
		available := t.Portfolio.Get(from)
		if available.LessThan(amount) {
			return fmt.Errorf("transfer %s from %s holding %s: %w", amount, from, available, model.ErrInsufficientFunds)
		}
		t.Portfolio.Set(from, available.Sub(amount))
		t.Portfolio.Set(to, t.Portfolio.Get(to).Add(amount))
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("transfer committed", "team", teamID, "from", from, "to", to, "amount", amount.String())
	return team, nil
}

// DeductCash removes amount from the team's cash.
func (l *Ledger) DeductCash(ctx context.Context, teamID string, amount decimal.Decimal) (*model.Team, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deduct: amount must be positive: %w", model.ErrInvalidInput)
	}

	team, err := l.mutate(ctx, "deduct", teamID, func(t *model.Team, _ *model.Round) error {
		if t.Portfolio.Cash.LessThan(amount) {
			return fmt.Errorf("deduct %s from %s cash: %w", amount, t.Portfolio.Cash, model.ErrInsufficientFunds)
		}
		t.Portfolio.Cash = t.Portfolio.Cash.Sub(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("cash deducted", "team", teamID, "amount", amount.String())
	return team, nil
}

// AwardAuctionItem charges the item's price to the team's cash and records
// the item. Owned items count toward total value at their award price.
func (l *Ledger) AwardAuctionItem(ctx context.Context, teamID string, item model.AuctionItem) (*model.Team, error) {
	if item.ID == "" || item.Name == "" {
		return nil, fmt.Errorf("award: item id and name are required: %w", model.ErrInvalidInput)
	}
	if !item.Price.IsPositive() {
		return nil, fmt.Errorf("award: item price must be positive: %w", model.ErrInvalidInput)
	}

	team, err := l.mutate(ctx, "award", teamID, func(t *model.Team, _ *model.Round) error {
		if t.Portfolio.Cash.LessThan(item.Price) {
			return fmt.Errorf("award %s for %s with %s cash: %w", item.Name, item.Price, t.Portfolio.Cash, model.ErrInsufficientFunds)
		}
		awardedAt := l.now()
		awarded := item
		awarded.AwardedAt = &awardedAt

		t.Portfolio.Cash = t.Portfolio.Cash.Sub(item.Price)
		t.AuctionItems = append(t.AuctionItems, awarded)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("auction item awarded", "team", teamID, "item", item.ID, "price", item.Price.String())
	return team, nil
}

// Revalue recomputes and persists the team's TotalValue under pc without
// touching any quantity. Round settlement calls it for every team.
func (l *Ledger) Revalue(ctx context.Context, teamID string, pc model.PriceChanges) (*model.Team, error) {
	unlock := l.locks.lock(teamID)
	defer unlock()

	team, err := l.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	team.TotalValue = valuation.Team(team, pc)
	team.UpdatedAt = l.now()
	if err := l.store.SaveTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("revalue team %s: %w", teamID, err)
	}
	return team, nil
}

// Recalculate revalues every team against the active round's current price
// changes. Values produced this way are provisional until the round is
// settled. Teams that fail are skipped and reported in the joined error.
func (l *Ledger) Recalculate(ctx context.Context) ([]model.Team, error) {
	round, err := l.activeRound(ctx)
	if err != nil {
		return nil, err
	}
	pc := priceChangesOf(round)

	teams, err := l.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("recalculate: list teams: %w", err)
	}

	var errs []error
	updated := make([]model.Team, 0, len(teams))
	for _, t := range teams {
		team, err := l.Revalue(ctx, t.ID, pc)
		if err != nil {
			l.log.Warn("recalculate team failed", "team", t.ID, "err", err)
			errs = append(errs, err)
			updated = append(updated, t)
			continue
		}
		updated = append(updated, *team)
	}
	return updated, errors.Join(errs...)
}

// mutate runs fn against a fresh copy of the team while holding the team's
// lock, then revalues and saves it. If fn fails nothing is written.
func (l *Ledger) mutate(ctx context.Context, op, teamID string, fn func(*model.Team, *model.Round) error) (*model.Team, error) {
	team, err := l.mutateLocked(ctx, teamID, fn)
	metrics.LedgerOperations.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		l.log.Debug("ledger operation rejected", "op", op, "team", teamID, "err", err)
		return nil, err
	}
	return team, nil
}

func (l *Ledger) mutateLocked(ctx context.Context, teamID string, fn func(*model.Team, *model.Round) error) (*model.Team, error) {
	unlock := l.locks.lock(teamID)
	defer unlock()

	team, err := l.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	round, err := l.activeRound(ctx)
	if err != nil {
		return nil, err
	}

	if err := fn(team, round); err != nil {
		return nil, err
	}

	team.TotalValue = valuation.Team(team, priceChangesOf(round))
	team.UpdatedAt = l.now()
	if err := l.store.SaveTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("save team %s: %w", teamID, err)
	}
	return team, nil
}

// activeRound returns the active round, or nil when there is none.
func (l *Ledger) activeRound(ctx context.Context) (*model.Round, error) {
	round, err := l.store.GetActiveRound(ctx)
	if errors.Is(err, model.ErrNoActiveRound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active round: %w", err)
	}
	return round, nil
}

func priceChangesOf(round *model.Round) model.PriceChanges {
	if round == nil {
		return model.PriceChanges{}
	}
	return round.PriceChanges
}
