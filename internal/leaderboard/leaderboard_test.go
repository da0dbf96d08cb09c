package leaderboard

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsim/game-engine/internal/model"
)

func team(name string, value int64) model.Team {
	return model.Team{ID: "id-" + name, Name: name, TotalValue: decimal.NewFromInt(value)}
}

func TestBuild_SortsByValueDescending(t *testing.T) {
	entries := Build([]model.Team{
		team("alpha", 480000),
		team("bravo", 620000),
		team("charlie", 500000),
	})

	require.Len(t, entries, 3)
	assert.Equal(t, "bravo", entries[0].TeamName)
	assert.Equal(t, "charlie", entries[1].TeamName)
	assert.Equal(t, "alpha", entries[2].TeamName)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
}

func TestBuild_ChangeFromBaseline(t *testing.T) {
	entries := Build([]model.Team{team("alpha", 480000), team("bravo", 620000)})

	assert.True(t, entries[0].ChangeFromBaseline.Equal(decimal.NewFromInt(120000)))
	assert.True(t, entries[1].ChangeFromBaseline.Equal(decimal.NewFromInt(-20000)))
}

func TestBuild_TieBreakByName(t *testing.T) {
	entries := Build([]model.Team{
		team("zeta", 500000),
		team("Beta", 500000),
		team("alpha", 500000),
		team("beta", 500000),
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.TeamName
	}
	assert.Equal(t, []string{"alpha", "Beta", "beta", "zeta"}, names)
}

func TestBuild_RankImpliesOrdering(t *testing.T) {
	teams := []model.Team{
		team("a", 1), team("b", 900000), team("c", 500000),
		team("d", 500000), team("e", 0), team("f", 731234),
	}
	entries := Build(teams)

	for i := range entries {
		for j := range entries {
			if entries[i].Rank < entries[j].Rank {
				assert.True(t, entries[i].PortfolioValue.GreaterThanOrEqual(entries[j].PortfolioValue),
					"rank %d (%s) below rank %d (%s)", entries[i].Rank, entries[i].PortfolioValue,
					entries[j].Rank, entries[j].PortfolioValue)
			}
		}
	}
}

func TestBuild_DoesNotReorderInput(t *testing.T) {
	teams := []model.Team{team("low", 1), team("high", 2)}
	Build(teams)
	assert.Equal(t, "low", teams[0].Name)
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(nil))
}
