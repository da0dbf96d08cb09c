// Package valuation computes what a portfolio is worth under a set of
// percentage price changes.
//
// This is the only place the valuation formula lives. The ledger uses it
// after every mutation and round settlement uses it for every team.
//
// For a portfolio p and changes pc:
//
//	total = p.cash + Σ p[a] × (1 + pc[a]/100)   for each investable a with p[a] > 0
//
// Buckets with zero or negative quantity contribute nothing rather than
// producing an error.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/finsim/game-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Portfolio returns the value of p under pc.
func Portfolio(p model.Portfolio, pc model.PriceChanges) decimal.Decimal {
	total := p.Cash
	for _, a := range model.InvestableAssets {
		qty := p.Get(a)
		if !qty.IsPositive() {
			continue
		}
		total = total.Add(qty.Mul(Multiplier(pc.Get(a))))
	}
	return total
}

// Team returns the value of the team's portfolio under pc plus the recorded
// price of every auction item it owns. Item prices are never discounted.
func Team(t *model.Team, pc model.PriceChanges) decimal.Decimal {
	total := Portfolio(t.Portfolio, pc)
	for _, item := range t.AuctionItems {
		total = total.Add(item.Price)
	}
	return total
}

// Multiplier converts a percentage change into a growth factor: 10 → 1.10.
func Multiplier(percent decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(percent.Div(hundred))
}

// FaceValue is the raw sum of all bucket quantities, cash included, ignoring
// price changes. Only explicit cash deductions change it.
func FaceValue(p model.Portfolio) decimal.Decimal {
	total := decimal.Zero
	for _, a := range model.AllAssets {
		total = total.Add(p.Get(a))
	}
	return total
}
