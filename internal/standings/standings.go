// Package standings derives the read-only bracket and placings view from an
// engine state.
package standings

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

type Seat struct {
	Position int    `json:"position"`
	TeamID   int    `json:"team_id"`
	Name     string `json:"name,omitempty"`
}

type Contest struct {
	Slot    string              `json:"slot"`
	Type    bracket.ContestType `json:"type"`
	State   engine.ContestState `json:"state"`
	Ref     string              `json:"ref,omitempty"`
	Seats   []Seat              `json:"seats"`
	Ranking []int               `json:"ranking,omitempty"`
}

type Round struct {
	Number   int          `json:"number"`
	Phase    engine.Phase `json:"phase"`
	Contests []Contest    `json:"contests"`
}

// Entry is a final placing.
type Entry struct {
	Place  int    `json:"place"`
	TeamID int    `json:"team_id"`
	Name   string `json:"name,omitempty"`
	Out    string `json:"out"`
}

type View struct {
	Summary    string           `json:"summary"`
	Round      int              `json:"round"`
	Phase      engine.Phase     `json:"phase"`
	Completed  bool             `json:"completed"`
	Tally      engine.Tally     `json:"tally"`
	Digest     string           `json:"digest,omitempty"`
	Validation *validate.Result `json:"validation,omitempty"`
	Rounds     []Round          `json:"rounds"`
	Standings  []Entry          `json:"standings"`
}

// Build assembles the view. names maps team ids to display names and may be
// nil.
func Build(topo *bracket.Topology, s engine.State, names map[int]string) View {
	v := View{
		Summary:    engine.Summary(s),
		Round:      s.Round,
		Phase:      s.Phase,
		Completed:  s.Completed,
		Tally:      engine.Count(topo, s),
		Digest:     s.Digest,
		Validation: s.Validated,
		Standings:  []Entry{},
	}

	for _, r := range topo.Rounds {
		round := Round{Number: r.Number, Phase: engine.DerivePhase(s, r.Number)}
		for _, c := range engine.RoundContests(topo, s, r.Number) {
			slot, _ := topo.Slot(c.Slot)
			out := Contest{Slot: c.Slot, Type: slot.Type, State: c.State, Ref: c.Ref, Seats: []Seat{}, Ranking: c.Rank}
			for i, id := range c.Teams {
				if id != 0 {
					out.Seats = append(out.Seats, Seat{Position: i + 1, TeamID: id, Name: names[id]})
				}
			}
			round.Contests = append(round.Contests, out)
		}
		v.Rounds = append(v.Rounds, round)
	}

	for id, st := range s.Teams {
		if st.Place != 0 {
			v.Standings = append(v.Standings, Entry{Place: st.Place, TeamID: id, Name: names[id], Out: st.Out})
		}
	}
	slices.SortFunc(v.Standings, func(a, b Entry) int { return a.Place - b.Place })
	return v
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func teamLabel(id int, name string) string {
	if name == "" {
		return strconv.Itoa(id)
	}
	return fmt.Sprintf("%d %s", id, name)
}

// RenderRound writes the contests of one round as a table.
func (v View) RenderRound(w io.Writer, number int) error {
	if number < 1 || number > len(v.Rounds) {
		return fmt.Errorf("round %d does not exist", number)
	}
	r := v.Rounds[number-1]
	t := newTable("Slot", "Type", "State", "Teams", "Ranking")
	for _, c := range r.Contests {
		teams := make([]string, len(c.Seats))
		for i, seat := range c.Seats {
			teams[i] = teamLabel(seat.TeamID, seat.Name)
		}
		ranking := make([]string, len(c.Ranking))
		for i, id := range c.Ranking {
			ranking[i] = strconv.Itoa(id)
		}
		t.Row(c.Slot, string(c.Type), string(c.State), strings.Join(teams, "\n"), strings.Join(ranking, " "))
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render(fmt.Sprintf("Round %d - %s", r.Number, r.Phase)), t.Render())
	return err
}

// Render writes the summary line, the current round and the placings
// decided so far.
func (v View) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\n%d live, %d eliminated, %d/%d contests finished\n\n",
		titleStyle.Render(v.Summary), v.Tally.Live, v.Tally.Eliminated, v.Tally.Finished, v.Tally.Contests); err != nil {
		return err
	}
	if err := v.RenderRound(w, v.Round); err != nil {
		return err
	}
	if v.Validation != nil && !v.Validation.Valid() {
		if _, err := fmt.Fprintf(w, "\n%s\n", v.Validation); err != nil {
			return err
		}
	}
	if len(v.Standings) == 0 {
		return nil
	}
	t := newTable("Place", "Team", "Out in")
	for _, e := range v.Standings {
		t.Row(strconv.Itoa(e.Place), teamLabel(e.TeamID, e.Name), e.Out)
	}
	_, err := fmt.Fprintf(w, "\n%s\n", t.Render())
	return err
}
