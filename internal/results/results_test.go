package results

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
)

var (
	duelSlot  = bracket.Slot{ID: "R1_Duel_01", Type: bracket.TypeDuel, Capacity: 2, Problems: 3}
	groupSlot = bracket.Slot{ID: "R2_Group_Losers", Type: bracket.TypeGroup, Capacity: 6, Problems: 4}
)

func mins(m int) time.Duration { return time.Duration(m) * time.Minute }

func TestComputeDuelTieBreakChain(t *testing.T) {
	cases := []struct {
		name string
		a, b Outcome
		want Ranking
	}{
		{
			name: "more solved wins",
			a:    Outcome{TeamID: 1, Solved: 1, Penalty: mins(10), Solves: []Solve{{Problem: "A", At: mins(10)}}},
			b:    Outcome{TeamID: 2, Solved: 2, Penalty: mins(90), Solves: []Solve{{Problem: "A", At: mins(40)}, {Problem: "B", At: mins(50)}}},
			want: Ranking{2, 1},
		},
		{
			name: "lower penalty wins",
			a:    Outcome{TeamID: 1, Solved: 1, Penalty: mins(30), Solves: []Solve{{Problem: "A", At: mins(20)}}},
			b:    Outcome{TeamID: 2, Solved: 1, Penalty: mins(25), Solves: []Solve{{Problem: "A", At: mins(25)}}},
			want: Ranking{2, 1},
		},
		{
			name: "earlier first solve wins",
			a:    Outcome{TeamID: 1, Solved: 2, Penalty: mins(60), Solves: []Solve{{Problem: "A", At: mins(12)}, {Problem: "B", At: mins(48)}}},
			b:    Outcome{TeamID: 2, Solved: 2, Penalty: mins(60), Solves: []Solve{{Problem: "A", At: mins(20)}, {Problem: "B", At: mins(40)}}},
			want: Ranking{1, 2},
		},
		{
			name: "tests passed separates teams without solves",
			a:    Outcome{TeamID: 1, Solved: 0, Penalty: 0, TestsPassed: 9},
			b:    Outcome{TeamID: 2, Solved: 0, Penalty: 0, TestsPassed: 3},
			want: Ranking{1, 2},
		},
		{
			name: "more tests passed wins",
			a:    Outcome{TeamID: 1, Solved: 1, Penalty: mins(20), TestsPassed: 14, Solves: []Solve{{Problem: "A", At: mins(20)}}},
			b:    Outcome{TeamID: 2, Solved: 1, Penalty: mins(20), TestsPassed: 17, Solves: []Solve{{Problem: "C", At: mins(20)}}},
			want: Ranking{2, 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(duelSlot, []Outcome{tc.a, tc.b})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			swapped, err := Compute(duelSlot, []Outcome{tc.b, tc.a})
			require.NoError(t, err)
			assert.Equal(t, got, swapped, "ranking must not depend on input order")
		})
	}
}

func TestComputeDuelFullTieRequiresCoinFlip(t *testing.T) {
	a := Outcome{TeamID: 7, Solved: 2, Penalty: mins(55), TestsPassed: 20,
		Solves: []Solve{{Problem: "A", At: mins(15)}, {Problem: "B", At: mins(40)}}}
	b := Outcome{TeamID: 3, Solved: 2, Penalty: mins(55), TestsPassed: 20,
		Solves: []Solve{{Problem: "B", At: mins(15)}, {Problem: "C", At: mins(40)}}}

	got, err := Compute(duelSlot, []Outcome{a, b})
	require.Nil(t, got)

	var flip *CoinFlipRequired
	require.True(t, errors.As(err, &flip))
	assert.Equal(t, "R1_Duel_01", flip.Slot)
	assert.Equal(t, [][]int{{3, 7}}, flip.Ties)
	assert.Equal(t, Ranking{3, 7}, flip.Provisional)
}

func TestComputeIncompleteOutcomes(t *testing.T) {
	_, err := Compute(duelSlot, []Outcome{{TeamID: 1}})

	var inc *IncompleteOutcomesError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, 2, inc.Want)
	assert.Equal(t, 1, inc.Got)
}

func TestComputeRejectsDuplicateTeam(t *testing.T) {
	_, err := Compute(duelSlot, []Outcome{{TeamID: 1}, {TeamID: 1}})
	require.Error(t, err)
}

// referenceICPC is the textbook ordering written independently of Compute.
func referenceICPC(outcomes []Outcome) Ranking {
	sorted := append([]Outcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Solved != b.Solved {
			return a.Solved > b.Solved
		}
		if a.Penalty != b.Penalty {
			return a.Penalty < b.Penalty
		}
		return a.TeamID < b.TeamID
	})
	out := make(Ranking, len(sorted))
	for i, o := range sorted {
		out[i] = o.TeamID
	}
	return out
}

func TestComputeGroupMatchesReferenceICPC(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		outcomes := make([]Outcome, groupSlot.Capacity)
		for i := range outcomes {
			outcomes[i] = Outcome{
				TeamID:  100 + rng.Intn(1000)*10 + i,
				Solved:  rng.Intn(5),
				Penalty: mins(rng.Intn(4) * 20),
			}
		}
		got, err := Compute(groupSlot, outcomes)
		require.NoError(t, err)
		require.Equal(t, referenceICPC(outcomes), got, "trial %d", trial)

		rng.Shuffle(len(outcomes), func(i, j int) { outcomes[i], outcomes[j] = outcomes[j], outcomes[i] })
		again, err := Compute(groupSlot, outcomes)
		require.NoError(t, err)
		require.Equal(t, got, again)
	}
}

func TestSpeedScoresOneScorerPerProblem(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	problems := []string{"A", "B", "C", "D", "E"}

	for trial := 0; trial < 100; trial++ {
		outcomes := make([]Outcome, 8)
		solvedSomewhere := map[string]bool{}
		sub := 0
		for i := range outcomes {
			outcomes[i].TeamID = i + 1
			for _, p := range problems {
				if rng.Intn(3) == 0 {
					sub++
					// coarse times so identical contest times happen
					outcomes[i].Solves = append(outcomes[i].Solves, Solve{Problem: p, At: mins(rng.Intn(6)), Submission: sub})
					solvedSomewhere[p] = true
				}
			}
		}

		total := 0
		for _, sc := range SpeedScores(outcomes) {
			total += sc.Points
		}
		require.Equal(t, len(solvedSomewhere), total, "trial %d", trial)
	}
}

func TestComputeSpeed(t *testing.T) {
	slot := bracket.Slot{ID: "R4_Speed_Eliminated", Type: bracket.TypeSpeed, Capacity: 3, Problems: 5}

	t.Run("points then earliest last scored problem", func(t *testing.T) {
		outcomes := []Outcome{
			{TeamID: 1, Solves: []Solve{{Problem: "A", At: mins(5), Submission: 1}, {Problem: "B", At: mins(30), Submission: 6}}},
			{TeamID: 2, Solves: []Solve{{Problem: "A", At: mins(6), Submission: 2}, {Problem: "C", At: mins(9), Submission: 3}, {Problem: "D", At: mins(20), Submission: 5}}},
			{TeamID: 3, Solves: []Solve{{Problem: "E", At: mins(10), Submission: 4}}},
		}
		// 1: A,B (last 30). 2: C,D (last 20). 3: E (last 10).
		got, err := Compute(slot, outcomes)
		require.NoError(t, err)
		assert.Equal(t, Ranking{2, 1, 3}, got)
	})

	t.Run("same contest time goes to lower submission id", func(t *testing.T) {
		outcomes := []Outcome{
			{TeamID: 1, Solves: []Solve{{Problem: "A", At: mins(5), Submission: 9}}},
			{TeamID: 2, Solves: []Solve{{Problem: "A", At: mins(5), Submission: 8}}},
			{TeamID: 3, Solves: []Solve{{Problem: "B", At: mins(7), Submission: 10}}},
		}
		got, err := Compute(slot, outcomes)
		require.NoError(t, err)
		assert.Equal(t, Ranking{2, 3, 1}, got)
	})

	t.Run("unseparated teams require a coin flip", func(t *testing.T) {
		outcomes := []Outcome{
			{TeamID: 1, Solves: []Solve{{Problem: "A", At: mins(5), Submission: 1}}},
			{TeamID: 2},
			{TeamID: 3},
		}
		_, err := Compute(slot, outcomes)
		var flip *CoinFlipRequired
		require.True(t, errors.As(err, &flip))
		assert.Equal(t, [][]int{{2, 3}}, flip.Ties)
		assert.Equal(t, Ranking{1, 2, 3}, flip.Provisional)
	})
}

func TestSettle(t *testing.T) {
	flip := &CoinFlipRequired{
		Slot:        "R4_Speed_Eliminated",
		Ties:        [][]int{{2, 5}, {4, 6, 9}},
		Provisional: Ranking{1, 2, 5, 3, 4, 6, 9},
	}

	cases := []struct {
		name      string
		decisions []Decision
		want      Ranking
		wantOpen  [][]int
		wantErr   error
	}{
		{
			name:     "nothing decided",
			want:     flip.Provisional,
			wantOpen: flip.Ties,
		},
		{
			name:      "one block decided",
			decisions: []Decision{{Slot: flip.Slot, Order: []int{5, 2}}},
			want:      Ranking{1, 5, 2, 3, 4, 6, 9},
			wantOpen:  [][]int{{4, 6, 9}},
		},
		{
			name: "all blocks decided",
			decisions: []Decision{
				{Slot: flip.Slot, Order: []int{9, 4, 6}},
				{Slot: flip.Slot, Order: []int{2, 5}},
			},
			want: Ranking{1, 2, 5, 3, 9, 4, 6},
		},
		{
			name:      "decision for other teams",
			decisions: []Decision{{Slot: flip.Slot, Order: []int{1, 3}}},
			wantErr:   ErrBadDecision,
		},
		{
			name:      "other slot ignored",
			decisions: []Decision{{Slot: "R1_Duel_01", Order: []int{1, 3}}},
			want:      flip.Provisional,
			wantOpen:  flip.Ties,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, open, err := Settle(flip, tc.decisions)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantOpen, open)
		})
	}
}

func TestPenaltyTime(t *testing.T) {
	solves := []Solve{
		{Problem: "A", At: mins(12) + 40*time.Second, Rejected: 1},
		{Problem: "B", At: mins(31), Rejected: 0},
	}
	assert.Equal(t, mins(12+5+31), PenaltyTime(solves, 5*time.Minute))
}
