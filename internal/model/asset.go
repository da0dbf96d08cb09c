package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset is a portfolio bucket key.
type Asset string

const (
	Cash       Asset = "cash"
	Gold       Asset = "gold"
	Crypto     Asset = "crypto"
	Stocks     Asset = "stocks"
	RealEstate Asset = "realEstate"
	FD         Asset = "fd"
)

// InvestableAssets are the buckets that move with round price changes, in
// display order. Cash is not investable.
var InvestableAssets = []Asset{Gold, Crypto, Stocks, RealEstate, FD}

// AllAssets lists every portfolio bucket including cash.
var AllAssets = []Asset{Cash, Gold, Crypto, Stocks, RealEstate, FD}

// IsInvestable reports whether a is one of the five price-tracked assets.
func (a Asset) IsInvestable() bool {
	switch a {
	case Gold, Crypto, Stocks, RealEstate, FD:
		return true
	}
	return false
}

// IsBucket reports whether a names any portfolio bucket, cash included.
func (a Asset) IsBucket() bool {
	return a == Cash || a.IsInvestable()
}

// ParseAsset validates a raw bucket key.
func ParseAsset(s string) (Asset, error) {
	a := Asset(s)
	if !a.IsBucket() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	return a, nil
}

// Portfolio holds a team's per-bucket quantities. All values stay >= 0
// after any committed ledger operation.
type Portfolio struct {
	Cash       decimal.Decimal `json:"cash"`
	Gold       decimal.Decimal `json:"gold"`
	Crypto     decimal.Decimal `json:"crypto"`
	Stocks     decimal.Decimal `json:"stocks"`
	RealEstate decimal.Decimal `json:"realEstate"`
	FD         decimal.Decimal `json:"fd"`
}

// NewPortfolio returns the registration portfolio: all starting cash, no assets.
func NewPortfolio() Portfolio {
	return Portfolio{
		Cash:       StartingCash,
		Gold:       decimal.Zero,
		Crypto:     decimal.Zero,
		Stocks:     decimal.Zero,
		RealEstate: decimal.Zero,
		FD:         decimal.Zero,
	}
}

// Get returns the quantity held in bucket a. Unknown keys hold zero.
func (p Portfolio) Get(a Asset) decimal.Decimal {
	switch a {
	case Cash:
		return p.Cash
	case Gold:
		return p.Gold
	case Crypto:
		return p.Crypto
	case Stocks:
		return p.Stocks
	case RealEstate:
		return p.RealEstate
	case FD:
		return p.FD
	}
	return decimal.Zero
}

// Set stores v in bucket a. Unknown keys are ignored.
func (p *Portfolio) Set(a Asset, v decimal.Decimal) {
	switch a {
	case Cash:
		p.Cash = v
	case Gold:
		p.Gold = v
	case Crypto:
		p.Crypto = v
	case Stocks:
		p.Stocks = v
	case RealEstate:
		p.RealEstate = v
	case FD:
		p.FD = v
	}
}

// PriceChanges maps each investable asset to a signed percentage, e.g.
// -12.5 means the asset lost 12.5% this round.
type PriceChanges struct {
	Gold       decimal.Decimal `json:"gold"`
	Crypto     decimal.Decimal `json:"crypto"`
	Stocks     decimal.Decimal `json:"stocks"`
	RealEstate decimal.Decimal `json:"realEstate"`
	FD         decimal.Decimal `json:"fd"`
}

// Get returns the percentage for a. Cash and unknown keys never move.
func (pc PriceChanges) Get(a Asset) decimal.Decimal {
	switch a {
	case Gold:
		return pc.Gold
	case Crypto:
		return pc.Crypto
	case Stocks:
		return pc.Stocks
	case RealEstate:
		return pc.RealEstate
	case FD:
		return pc.FD
	}
	return decimal.Zero
}

// Merge overlays partial onto pc. Keys must be investable assets.
func (pc PriceChanges) Merge(partial map[Asset]decimal.Decimal) (PriceChanges, error) {
	for a := range partial {
		if !a.IsInvestable() {
			return pc, fmt.Errorf("%w: %q has no price", ErrInvalidAsset, a)
		}
	}
	for a, v := range partial {
		switch a {
		case Gold:
			pc.Gold = v
		case Crypto:
			pc.Crypto = v
		case Stocks:
			pc.Stocks = v
		case RealEstate:
			pc.RealEstate = v
		case FD:
			pc.FD = v
		}
	}
	return pc, nil
}

// IsZero reports whether no asset moves.
func (pc PriceChanges) IsZero() bool {
	for _, a := range InvestableAssets {
		if !pc.Get(a).IsZero() {
			return false
		}
	}
	return true
}
