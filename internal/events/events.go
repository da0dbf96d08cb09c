// Package events defines the domain events the engine emits and the
// boundary through which they leave it.
package events

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/model"
)

// Event type names as seen by clients.
const (
	TypeNews        = "news"
	TypePrices      = "prices"
	TypeLeaderboard = "leaderboard:update"
	TypeRound       = "round:update"
	TypeAuctionWin  = "auction:win"
	TypeAuction     = "auction:update"
)

// Event is a single outbound message. Data is JSON-encoded by the
// transport.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher fans events out to subscribers. Delivery is best-effort and
// Publish must not block the caller.
type Publisher interface {
	Publish(Event)
}

// NewsPayload is the data of a news event.
type NewsPayload struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"publishedAt"`
	RoundNumber int       `json:"roundNumber"`
}

// AuctionWinPayload is the data of an auction:win event.
type AuctionWinPayload struct {
	TeamID    string          `json:"teamId"`
	TeamName  string          `json:"teamName"`
	ItemName  string          `json:"itemName"`
	ItemPrice decimal.Decimal `json:"itemPrice"`
}

// AuctionPayload is the data of an auction:update event.
type AuctionPayload struct {
	Active      bool               `json:"active"`
	CurrentItem *model.AuctionItem `json:"currentItem"`
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Recorder keeps every published event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the published events with the given type, in order.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
