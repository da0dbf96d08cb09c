// Package leaderboard ranks teams by total portfolio value.
package leaderboard

import (
	"sort"
	"strings"

	"github.com/finsim/game-engine/internal/model"
)

// Build ranks teams by TotalValue, highest first. Ties are broken by team
// name, case-insensitively, then by the raw name so the order is total.
// Ranks are 1-based positions after sorting.
func Build(teams []model.Team) []model.LeaderboardEntry {
	sorted := make([]model.Team, len(teams))
	copy(sorted, teams)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if c := a.TotalValue.Cmp(b.TotalValue); c != 0 {
			return c > 0
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})

	entries := make([]model.LeaderboardEntry, len(sorted))
	for i, t := range sorted {
		entries[i] = model.LeaderboardEntry{
			Rank:               i + 1,
			TeamID:             t.ID,
			TeamName:           t.Name,
			PortfolioValue:     t.TotalValue,
			ChangeFromBaseline: t.TotalValue.Sub(model.StartingCash),
		}
	}
	return entries
}
