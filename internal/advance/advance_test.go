package advance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/results"
)

func defaultTopology(t *testing.T) *bracket.Topology {
	t.Helper()
	topo, err := bracket.Default()
	require.NoError(t, err)
	return topo
}

// firstRoundRankings has the lower team id win every duel: duel i holds teams
// 2i-1 and 2i.
func firstRoundRankings() map[string]results.Ranking {
	out := make(map[string]results.Ranking, 24)
	for i := 1; i <= 24; i++ {
		out[fmt.Sprintf("R1_Duel_%02d", i)] = results.Ranking{2*i - 1, 2 * i}
	}
	return out
}

func bySlot(p Placement) map[string][]int {
	out := make(map[string][]int)
	for _, a := range p.Assignments {
		seats := out[a.Slot]
		for len(seats) < a.Position {
			seats = append(seats, 0)
		}
		seats[a.Position-1] = a.TeamID
		out[a.Slot] = seats
	}
	return out
}

func TestResolveRoundOneIntoRoundTwo(t *testing.T) {
	topo := defaultTopology(t)

	p, err := ResolveRound(1, firstRoundRankings(), topo)
	require.NoError(t, err)
	require.Len(t, p.Assignments, 48)
	assert.Empty(t, p.Exits)

	seats := bySlot(p)
	for i := 1; i <= 12; i++ {
		slot := fmt.Sprintf("R2_Duel_%02d", i)
		// winners of R1 duels 2i-1 and 2i, in declaration order
		assert.Equal(t, []int{4*i - 3, 4*i - 1}, seats[slot], slot)
	}

	losers := seats["R2_Group_Losers"]
	require.Len(t, losers, 24)
	for i, team := range losers {
		assert.Equal(t, 2*(i+1), team, "group seat %d", i+1)
	}
}

func TestResolveGroupFanOut(t *testing.T) {
	topo := defaultTopology(t)

	ranking := make(results.Ranking, 24)
	for i := range ranking {
		ranking[i] = 100 + i
	}

	p, err := Resolve("R2_Group_Losers", ranking, topo, nil)
	require.NoError(t, err)
	require.Len(t, p.Assignments, 24)

	seats := bySlot(p)
	assert.Equal(t, []int{100}, seats["R3_Duel_05"])
	assert.Equal(t, []int{101}, seats["R3_Duel_06"])
	assert.Equal(t, []int{102}, seats["R3_Duel_07"])
	assert.Equal(t, []int{103}, seats["R3_Duel_08"])

	pool := seats["R3_Group_Losers"]
	require.Len(t, pool, 20)
	assert.Equal(t, 104, pool[0])
	assert.Equal(t, 123, pool[19])
}

func TestResolveUsesTakenSeats(t *testing.T) {
	topo := defaultTopology(t)

	p, err := Resolve("R2_Duel_09", results.Ranking{7, 8}, topo, map[string]int{"R3_Group_Losers": 12})
	require.NoError(t, err)
	assert.Equal(t, []Assignment{
		{TeamID: 7, Slot: "R3_Duel_05", Position: 1},
		{TeamID: 8, Slot: "R3_Group_Losers", Position: 13},
	}, p.Assignments)
}

func TestResolvePlacesEliminatedTeams(t *testing.T) {
	topo := defaultTopology(t)

	ranking := make(results.Ranking, 32)
	for i := range ranking {
		ranking[i] = i + 1
	}
	p, err := Resolve("R3_Group_Losers", ranking, topo, nil)
	require.NoError(t, err)

	require.Len(t, p.Exits, 24)
	assert.Equal(t, Exit{TeamID: 9, Slot: "R3_Group_Losers", Place: 25}, p.Exits[0])
	assert.Equal(t, Exit{TeamID: 32, Slot: "R3_Group_Losers", Place: 48}, p.Exits[23])

	seats := bySlot(p)
	assert.Len(t, seats["R4_Group_Losers"], 8)
	assert.Len(t, seats["R4_Speed_Eliminated"], 24)
}

func TestResolveIsIdempotent(t *testing.T) {
	topo := defaultTopology(t)

	a, err := ResolveRound(1, firstRoundRankings(), topo)
	require.NoError(t, err)
	b, err := ResolveRound(1, firstRoundRankings(), topo)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, Digest(a), Digest(b))

	// Entry order does not change the digest, seat contents do.
	reversed := Placement{Exits: a.Exits}
	for i := len(a.Assignments) - 1; i >= 0; i-- {
		reversed.Assignments = append(reversed.Assignments, a.Assignments[i])
	}
	assert.Equal(t, Digest(a), Digest(reversed))

	changed := Placement{Assignments: append([]Assignment(nil), a.Assignments...)}
	changed.Assignments[0].TeamID = 999
	assert.NotEqual(t, Digest(a), Digest(changed))
}

func TestResolveErrors(t *testing.T) {
	topo := defaultTopology(t)

	t.Run("destination full", func(t *testing.T) {
		_, err := Resolve("R1_Duel_01", results.Ranking{1, 2}, topo, map[string]int{"R2_Duel_01": 2})
		var full *CapacityExceededError
		require.True(t, errors.As(err, &full))
		assert.Equal(t, "R2_Duel_01", full.Slot)
		assert.Equal(t, 3, full.Want)
	})

	t.Run("unknown slot", func(t *testing.T) {
		_, err := Resolve("R9_Duel_01", results.Ranking{1, 2}, topo, nil)
		require.ErrorIs(t, err, bracket.ErrUnknownSlot)
	})

	t.Run("ranking does not fill the slot", func(t *testing.T) {
		_, err := Resolve("R1_Duel_01", results.Ranking{1}, topo, nil)
		require.Error(t, err)
	})

	t.Run("missing ranking fails the whole round", func(t *testing.T) {
		rankings := firstRoundRankings()
		delete(rankings, "R1_Duel_07")
		p, err := ResolveRound(1, rankings, topo)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "R1_Duel_07")
		assert.Empty(t, p.Assignments)
	})

	t.Run("rank without a route", func(t *testing.T) {
		broken, err := bracket.ParseUnchecked([]byte(`
teams: 2
rounds:
  - number: 1
    teams: 2
    slots:
      - {id: R1_Duel_01, type: duel, capacity: 2, problems: 3}
routes:
  R1_Duel_01:
    - {ranks: [1, 1], place: 1}
`))
		require.NoError(t, err)

		_, err = Resolve("R1_Duel_01", results.Ranking{4, 5}, broken, nil)
		var unrouted *UnroutedRankError
		require.True(t, errors.As(err, &unrouted))
		assert.Equal(t, 2, unrouted.Rank)
	})
}

func TestResolveRankingOnlySlot(t *testing.T) {
	topo := defaultTopology(t)

	p, err := Resolve("R5_Speed_Eliminated", nil, topo, nil)
	require.NoError(t, err)
	assert.Empty(t, p.Assignments)
	assert.Empty(t, p.Exits)
}

func TestSeed(t *testing.T) {
	topo := defaultTopology(t)

	teams := make([]int, 48)
	for i := range teams {
		teams[i] = 48 - i
	}
	p, err := Seed(teams, topo)
	require.NoError(t, err)
	require.Len(t, p.Assignments, 48)
	assert.Equal(t, Assignment{TeamID: 48, Slot: "R1_Duel_01", Position: 1}, p.Assignments[0])
	assert.Equal(t, Assignment{TeamID: 47, Slot: "R1_Duel_01", Position: 2}, p.Assignments[1])
	assert.Equal(t, Assignment{TeamID: 1, Slot: "R1_Duel_24", Position: 2}, p.Assignments[47])

	_, err = Seed(teams[:47], topo)
	require.Error(t, err)
}

func TestConsequential(t *testing.T) {
	topo := defaultTopology(t)

	group := make(results.Ranking, 24)
	for i := range group {
		group[i] = i + 1
	}
	speed := make(results.Ranking, 24)
	for i := range speed {
		speed[i] = 200 + i
	}

	cases := []struct {
		name    string
		slot    string
		tie     []int
		ranking results.Ranking
		want    bool
	}{
		{"duel winner against loser", "R1_Duel_01", []int{1, 2}, results.Ranking{1, 2}, true},
		{"inside the pool", "R2_Group_Losers", []int{10, 11}, group, false},
		{"across duel seats", "R2_Group_Losers", []int{2, 3}, group, true},
		{"across the fan-out boundary", "R2_Group_Losers", []int{4, 5}, group, true},
		{"speed cohort stays together", "R4_Speed_Eliminated", []int{210, 211, 212}, speed, false},
		{"ranking-only slot", "R5_Speed_Eliminated", []int{1, 2}, nil, false},
		{"placings", "R7_Group_Losers", []int{5, 6}, results.Ranking{5, 6, 7, 8}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Consequential(tc.slot, tc.tie, tc.ranking, topo))
		})
	}
}
