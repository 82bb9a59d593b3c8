package bracket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultTopologyShape(t *testing.T) {
	topo, err := Default()
	require.NoError(t, err)

	require.Equal(t, 48, topo.Teams)
	require.Equal(t, 8, topo.LastRound())

	cases := []struct {
		round int
		seats int
		live  int
		slots int
	}{
		{1, 48, 48, 24},
		{2, 48, 48, 13},
		{3, 48, 48, 9},
		{4, 48, 24, 6},
		{5, 48, 12, 3},
		{6, 8, 8, 4},
		{7, 8, 8, 3},
		{8, 4, 4, 2},
	}
	for _, tc := range cases {
		r, ok := topo.Round(tc.round)
		require.True(t, ok)
		assert.Equal(t, tc.seats, r.Teams, "round %d seats", tc.round)
		assert.Equal(t, tc.live, r.Live(), "round %d live", tc.round)
		assert.Len(t, r.Slots, tc.slots, "round %d slots", tc.round)
	}

	s, ok := topo.Slot("R2_Group_Losers")
	require.True(t, ok)
	assert.Equal(t, TypeGroup, s.Type)
	assert.Equal(t, 24, s.Capacity)
	assert.Equal(t, 2, s.Round)
}

func TestRuleDestination(t *testing.T) {
	fan := Rule{Ranks: []int{1, 4}, To: []string{"A", "B", "C", "D"}}
	pool := Rule{Ranks: []int{5, 24}, To: []string{"P"}}
	placed := Rule{Ranks: []int{9, 32}, To: []string{"S"}, Place: 25}

	cases := []struct {
		name      string
		rule      Rule
		rank      int
		wantDest  string
		wantOK    bool
		wantPlace int
	}{
		{"fan-out first", fan, 1, "A", true, 0},
		{"fan-out last", fan, 4, "D", true, 0},
		{"fan-out outside range", fan, 5, "", false, 0},
		{"pool", pool, 17, "P", true, 0},
		{"placed first", placed, 9, "S", true, 25},
		{"placed last", placed, 32, "S", true, 48},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dest, ok := tc.rule.Destination(tc.rank)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantDest, dest)
			assert.Equal(t, tc.wantPlace, tc.rule.PlaceFor(tc.rank))
		})
	}
}

func TestParseRejectsBrokenTopology(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "seat table mismatch",
			yaml: `
teams: 2
rounds:
  - number: 1
    teams: 4
    slots:
      - {id: R1_Duel_01, type: duel, capacity: 2, problems: 3}
routes:
  R1_Duel_01:
    - {ranks: [1, 1], place: 1}
    - {ranks: [2, 2], place: 2}
`,
		},
		{
			name: "unrouted rank",
			yaml: `
teams: 2
rounds:
  - number: 1
    teams: 2
    slots:
      - {id: R1_Duel_01, type: duel, capacity: 2, problems: 3}
routes:
  R1_Duel_01:
    - {ranks: [1, 1], place: 1}
`,
		},
		{
			name: "destination over capacity",
			yaml: `
teams: 4
rounds:
  - number: 1
    teams: 4
    slots:
      - {id: R1_Duel_01, type: duel, capacity: 2, problems: 3}
      - {id: R1_Duel_02, type: duel, capacity: 2, problems: 3}
  - number: 2
    teams: 2
    slots:
      - {id: R2_Duel_01, type: duel, capacity: 2, problems: 3}
routes:
  R1_Duel_01:
    - {ranks: [1, 2], to: [R2_Duel_01]}
  R1_Duel_02:
    - {ranks: [1, 1], to: [R2_Duel_01]}
    - {ranks: [2, 2], place: 3}
  R2_Duel_01:
    - {ranks: [1, 1], place: 1}
    - {ranks: [2, 2], place: 2}
`,
		},
		{
			name: "unknown field",
			yaml: `
teams: 2
colour: red
rounds: []
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestCheckReportsEveryProblem(t *testing.T) {
	topo := &Topology{
		Teams: 2,
		Rounds: []Round{{
			Number: 1,
			Teams:  2,
			Slots:  []Slot{{ID: "R1_Duel_01", Type: TypeDuel, Capacity: 2, Problems: 3}},
		}},
		Routes: map[string][]Rule{
			"R1_Duel_01": {{Ranks: []int{1, 1}, To: []string{"R2_Nowhere"}}},
		},
	}
	require.NoError(t, topo.index())

	err := topo.Check()
	require.Error(t, err)
	// unknown destination, rank 2 unrouted, places 1 and 2 never assigned
	assert.GreaterOrEqual(t, len(multierr.Errors(err)), 4)
	assert.ErrorIs(t, err, ErrUnknownSlot)
}
