// Package auction runs auction mode, in which the admin awards fixed-price
// luxury items to teams. Auction mode is independent of the round
// lifecycle and never touches price changes.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/metrics"
	"github.com/finsim/game-engine/internal/model"
)

// ErrNoActiveAuction is returned by operations that need auction mode.
var ErrNoActiveAuction = fmt.Errorf("no auction running: %w", model.ErrConflict)

// Awarder charges an item to a team. Implemented by *ledger.Ledger.
type Awarder interface {
	AwardAuctionItem(ctx context.Context, teamID string, item model.AuctionItem) (*model.Team, error)
}

// State is the auction mode as shown to clients.
type State struct {
	Active      bool                `json:"active"`
	CurrentItem *model.AuctionItem  `json:"currentItem"`
	Items       []model.AuctionItem `json:"items"`
}

// Service holds the auction mode flag and current item.
type Service struct {
	ledger Awarder
	pub    events.Publisher
	log    *slog.Logger

	catalog []model.AuctionItem
	byID    map[string]model.AuctionItem

	mu      sync.Mutex
	active  bool
	current *model.AuctionItem
}

// NewService creates an auction service over catalog. A nil or empty
// catalog selects DefaultCatalog.
func NewService(ledger Awarder, catalog []model.AuctionItem, pub events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	byID := make(map[string]model.AuctionItem, len(catalog))
	for _, it := range catalog {
		byID[it.ID] = it
	}
	return &Service{
		ledger:  ledger,
		pub:     pub,
		log:     logger,
		catalog: catalog,
		byID:    byID,
	}
}

// Start enters auction mode with the first catalog item as current.
func (s *Service) Start(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return State{}, fmt.Errorf("auction already running: %w", model.ErrConflict)
	}
	first := s.catalog[0]
	s.active = true
	s.current = &first

	s.log.Info("auction started", "item", first.ID)
	return s.publishLocked(), nil
}

// SetCurrentItem changes the item shown to every client. It has no
// monetary effect.
func (s *Service) SetCurrentItem(_ context.Context, itemID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return State{}, ErrNoActiveAuction
	}
	item, ok := s.byID[itemID]
	if !ok {
		return State{}, fmt.Errorf("auction item %q: %w", itemID, model.ErrNotFound)
	}
	s.current = &item

	s.log.Info("auction item shown", "item", item.ID)
	return s.publishLocked(), nil
}

// Award charges the catalog item to the team through the ledger and
// announces the win. The auction mutex is held across the ledger call, so
// End and Reset wait for an in-flight award. Lock order: auction mutex,
// then team mutex.
func (s *Service) Award(ctx context.Context, teamID, itemID string) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[itemID]
	if !s.active {
		return nil, ErrNoActiveAuction
	}
	if !ok {
		return nil, fmt.Errorf("auction item %q: %w", itemID, model.ErrNotFound)
	}

	team, err := s.ledger.AwardAuctionItem(ctx, teamID, item)
	if err != nil {
		return nil, err
	}

	metrics.AuctionAwards.Inc()
	s.log.Info("auction item won", "team", team.ID, "name", team.Name, "item", item.ID, "price", item.Price.String())
	s.pub.Publish(events.Event{Type: events.TypeAuctionWin, Data: events.AuctionWinPayload{
		TeamID:    team.ID,
		TeamName:  team.Name,
		ItemName:  item.Name,
		ItemPrice: item.Price,
	}})
	return team, nil
}

// End leaves auction mode and clears the current item.
func (s *Service) End(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return State{}, ErrNoActiveAuction
	}
	s.active = false
	s.current = nil

	s.log.Info("auction ended")
	return s.publishLocked(), nil
}

// Reset leaves auction mode without error if it was not running.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	s.current = nil
	s.publishLocked()
}

// State returns a snapshot of auction mode.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() State {
	st := State{Active: s.active, Items: append([]model.AuctionItem(nil), s.catalog...)}
	if s.current != nil {
		cur := *s.current
		st.CurrentItem = &cur
	}
	return st
}

func (s *Service) publishLocked() State {
	st := s.stateLocked()
	s.pub.Publish(events.Event{Type: events.TypeAuction, Data: events.AuctionPayload{
		Active:      st.Active,
		CurrentItem: st.CurrentItem,
	}})
	return st
}
