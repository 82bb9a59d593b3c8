package bracket

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrUnknownSlot = errors.New("unknown slot")

type ContestType string

const (
	TypeDuel  ContestType = "duel"
	TypeGroup ContestType = "group"
	TypeSpeed ContestType = "speed"
	TypeRest  ContestType = "rest" // seat without a judged contest
)

// Slot is one contest position in the bracket.
type Slot struct {
	ID       string      `yaml:"id" json:"id"`
	Type     ContestType `yaml:"type" json:"type"`
	Capacity int         `yaml:"capacity" json:"capacity"`
	Problems int         `yaml:"problems" json:"problems,omitempty"`
	// Side slots re-admit eliminated teams for ranking purposes.
	Side        bool `yaml:"side" json:"side,omitempty"`
	RankingOnly bool `yaml:"ranking_only" json:"ranking_only,omitempty"`

	Round int `yaml:"-" json:"round"`
}

// Judged reports whether the slot is backed by a contest in the judging system.
func (s Slot) Judged() bool { return s.Type != TypeRest }

// Rule routes the ranks Ranks[0]..Ranks[1] of a source slot.
//
// To holds either a single pool that receives every rank in the range, or
// one destination per rank in ascending rank order. A non-zero Place assigns
// final placings starting at Place for the first rank of the range and takes
// the routed teams out of the live bracket.
type Rule struct {
	Ranks []int    `yaml:"ranks" json:"ranks"`
	To    []string `yaml:"to" json:"to,omitempty"`
	Place int      `yaml:"place" json:"place,omitempty"`
}

func (r Rule) First() int { return r.Ranks[0] }
func (r Rule) Last() int  { return r.Ranks[1] }
func (r Rule) Width() int { return r.Ranks[1] - r.Ranks[0] + 1 }

func (r Rule) Covers(rank int) bool { return rank >= r.First() && rank <= r.Last() }

// Destination returns the slot that receives the team finishing at rank.
func (r Rule) Destination(rank int) (string, bool) {
	switch {
	case len(r.To) == 0 || !r.Covers(rank):
		return "", false
	case len(r.To) == 1:
		return r.To[0], true
	default:
		return r.To[rank-r.First()], true
	}
}

// PlaceFor returns the final placing for rank, or 0 when the rule keeps the
// team in play.
func (r Rule) PlaceFor(rank int) int {
	if r.Place == 0 || !r.Covers(rank) {
		return 0
	}
	return r.Place + rank - r.First()
}

type Round struct {
	Number int    `yaml:"number" json:"number"`
	Teams  int    `yaml:"teams" json:"teams"`
	Slots  []Slot `yaml:"slots" json:"slots"`
}

// Live returns the number of seats in the round that hold teams still in the
// bracket (everything but side slots).
func (r Round) Live() int {
	n := 0
	for _, s := range r.Slots {
		if !s.Side {
			n += s.Capacity
		}
	}
	return n
}

// Topology is the static tournament definition: rounds, slots and routing.
// It is never mutated after Parse.
type Topology struct {
	Teams  int               `yaml:"teams" json:"teams"`
	Rounds []Round           `yaml:"rounds" json:"rounds"`
	Routes map[string][]Rule `yaml:"routes" json:"routes"`

	slots map[string]Slot
	order map[string]int
}

//go:embed topology.yaml
var defaultTopology []byte

// Default returns the embedded 48-team tournament definition.
func Default() (*Topology, error) {
	return Parse(defaultTopology)
}

func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// LoadUnchecked reads a topology file without running Check.
func LoadUnchecked(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return ParseUnchecked(data)
}

// Parse decodes a YAML topology and runs Check on it.
func Parse(data []byte) (*Topology, error) {
	t, err := ParseUnchecked(data)
	if err != nil {
		return nil, err
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseUnchecked decodes a topology without verifying its invariants, so a
// broken file can still be inspected and every problem listed by Check.
func ParseUnchecked(data []byte) (*Topology, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Topology
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) index() error {
	t.slots = make(map[string]Slot)
	t.order = make(map[string]int)
	for ri := range t.Rounds {
		r := &t.Rounds[ri]
		for si := range r.Slots {
			s := &r.Slots[si]
			s.Round = r.Number
			if _, dup := t.slots[s.ID]; dup {
				return fmt.Errorf("duplicate slot %q", s.ID)
			}
			t.order[s.ID] = len(t.order)
			t.slots[s.ID] = *s
		}
	}
	return nil
}

func (t *Topology) Slot(id string) (Slot, bool) {
	s, ok := t.slots[id]
	return s, ok
}

func (t *Topology) Round(n int) (Round, bool) {
	if n < 1 || n > len(t.Rounds) {
		return Round{}, false
	}
	return t.Rounds[n-1], true
}

func (t *Topology) LastRound() int { return len(t.Rounds) }

func (t *Topology) Rules(id string) []Rule { return t.Routes[id] }

// Order returns the declaration index of a slot. Iterating slots by Order is
// what keeps seat positions deterministic when several sources feed one slot.
func (t *Topology) Order(id string) int {
	if i, ok := t.order[id]; ok {
		return i
	}
	return len(t.order)
}

// Slots returns every slot in declaration order.
func (t *Topology) Slots() []Slot {
	out := make([]Slot, 0, len(t.slots))
	for _, r := range t.Rounds {
		out = append(out, r.Slots...)
	}
	return out
}
