// Package model defines the core domain types shared across the game engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StartingCash is the cash balance every team registers with. It is also the
// baseline for leaderboard change figures.
var StartingCash = decimal.NewFromInt(500000)

// MaxMembers is the maximum number of member display names on a team.
const MaxMembers = 5

// Team is a registered player group and its holdings.
type Team struct {
	ID                string             `json:"id" db:"id"`
	Name              string             `json:"name" db:"name"`
	Members           []string           `json:"members" db:"members"`
	CredentialHash    string             `json:"-" db:"credential_hash"`
	Portfolio         Portfolio          `json:"portfolio" db:"portfolio"`
	AuctionItems      []AuctionItem      `json:"auctionItems" db:"auction_items"`
	TotalValue        decimal.Decimal    `json:"totalValue" db:"total_value"`
	InvestmentHistory []InvestmentRecord `json:"investmentHistory" db:"investment_history"`
	CreatedAt         time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time          `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy so stores and callers never share slices.
func (t *Team) Clone() *Team {
	c := *t
	c.Members = append([]string(nil), t.Members...)
	c.AuctionItems = append([]AuctionItem(nil), t.AuctionItems...)
	c.InvestmentHistory = make([]InvestmentRecord, len(t.InvestmentHistory))
	for i, rec := range t.InvestmentHistory {
		c.InvestmentHistory[i] = rec.clone()
	}
	return &c
}

// InvestmentRecord is an append-only audit entry written on every Invest.
type InvestmentRecord struct {
	RoundNumber int                       `json:"round"`
	Amounts     map[Asset]decimal.Decimal `json:"investments"`
	Timestamp   time.Time                 `json:"timestamp"`
}

func (r InvestmentRecord) clone() InvestmentRecord {
	amounts := make(map[Asset]decimal.Decimal, len(r.Amounts))
	for k, v := range r.Amounts {
		amounts[k] = v
	}
	r.Amounts = amounts
	return r
}

// AuctionItem is a fixed-price luxury item. When awarded, Price is the price
// at award time.
type AuctionItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
	AwardedAt *time.Time      `json:"awardedAt,omitempty"`
}

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundUpcoming RoundStatus = "upcoming"
	RoundActive   RoundStatus = "active"
	RoundEnded    RoundStatus = "ended"
)

// Round is one timed game phase with its own price movements and news feed.
type Round struct {
	RoundNumber     int          `json:"roundNumber" db:"round_number"`
	Status          RoundStatus  `json:"status" db:"status"`
	DurationSeconds int64        `json:"duration" db:"duration_seconds"`
	StartTime       time.Time    `json:"startTime" db:"start_time"`
	EndTime         *time.Time   `json:"endTime,omitempty" db:"end_time"`
	PriceChanges    PriceChanges `json:"priceChanges" db:"price_changes"`
	News            []NewsItem   `json:"news" db:"news"`

	// AppliedPriceChanges records the percentages settlement applied.
	// PriceChanges is zeroed once the round ends.
	AppliedPriceChanges *PriceChanges `json:"appliedPriceChanges,omitempty" db:"applied_price_changes"`
}

// Clone returns a deep copy of the round.
func (r *Round) Clone() *Round {
	c := *r
	c.News = append([]NewsItem(nil), r.News...)
	if r.EndTime != nil {
		end := *r.EndTime
		c.EndTime = &end
	}
	if r.AppliedPriceChanges != nil {
		applied := *r.AppliedPriceChanges
		c.AppliedPriceChanges = &applied
	}
	return &c
}

// Deadline is the instant the round timer expires.
func (r *Round) Deadline() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationSeconds) * time.Second)
}

// NewsItem is a headline published during a round.
type NewsItem struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"publishedAt"`
}

// LeaderboardEntry is a derived ranking row. Never stored on its own; only as
// part of a LeaderboardSnapshot.
type LeaderboardEntry struct {
	Rank               int             `json:"rank"`
	TeamID             string          `json:"teamId"`
	TeamName           string          `json:"teamName"`
	PortfolioValue     decimal.Decimal `json:"portfolioValue"`
	ChangeFromBaseline decimal.Decimal `json:"changeFromBaseline"`
}

// LeaderboardSnapshot is the ranking frozen at the end of a round.
type LeaderboardSnapshot struct {
	RoundNumber int                `json:"roundNumber"`
	Entries     []LeaderboardEntry `json:"entries"`
	CreatedAt   time.Time          `json:"createdAt"`
}
