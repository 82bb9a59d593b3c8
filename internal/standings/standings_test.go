package standings

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/engine"
)

func seeded(t *testing.T) (*bracket.Topology, engine.State) {
	t.Helper()
	topo, err := bracket.Default()
	require.NoError(t, err)
	teams := make([]int, 48)
	for i := range teams {
		teams[i] = i + 1
	}
	_, s, err := engine.Apply(topo, engine.NewState(topo), engine.Command{Type: engine.CmdSeed, Teams: teams})
	require.NoError(t, err)
	return topo, s
}

func TestBuild(t *testing.T) {
	topo, s := seeded(t)
	names := map[int]string{1: "Null Pointers", 2: "Off By One"}

	v := Build(topo, s, names)
	assert.Equal(t, "Round 1 - Setup", v.Summary)
	require.Len(t, v.Rounds, 8)
	require.Len(t, v.Rounds[0].Contests, 24)

	first := v.Rounds[0].Contests[0]
	assert.Equal(t, "R1_Duel_01", first.Slot)
	assert.Equal(t, bracket.TypeDuel, first.Type)
	assert.Equal(t, []Seat{{1, 1, "Null Pointers"}, {2, 2, "Off By One"}}, first.Seats)
	assert.Empty(t, v.Rounds[1].Contests[0].Seats)
	assert.Empty(t, v.Standings)
	assert.Equal(t, engine.Tally{Live: 48, Contests: 24}, v.Tally)
}

func TestBuildOrdersPlacings(t *testing.T) {
	topo, s := seeded(t)
	s.Teams[7] = engine.TeamStatus{Place: 26, Out: "R3_Group_Losers"}
	s.Teams[3] = engine.TeamStatus{Place: 25, Out: "R3_Group_Losers"}

	v := Build(topo, s, nil)
	assert.Equal(t, []Entry{
		{Place: 25, TeamID: 3, Out: "R3_Group_Losers"},
		{Place: 26, TeamID: 7, Out: "R3_Group_Losers"},
	}, v.Standings)
}

func TestRender(t *testing.T) {
	topo, s := seeded(t)
	s.Teams[48] = engine.TeamStatus{Place: 48, Out: "R3_Group_Losers"}
	names := map[int]string{}
	for id := 1; id <= 48; id++ {
		names[id] = fmt.Sprintf("Team%02d", id)
	}

	var buf bytes.Buffer
	require.NoError(t, Build(topo, s, names).Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "Round 1 - Setup")
	assert.Contains(t, out, "R1_Duel_24")
	assert.Contains(t, out, "47 Team47")
	assert.Contains(t, out, "48 Team48")
	assert.Contains(t, out, "R3_Group_Losers")

	assert.Error(t, Build(topo, s, names).RenderRound(&buf, 9))
}
