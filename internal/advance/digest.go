package advance

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest fingerprints a placement independent of the order its entries were
// produced in. Two runs of "process results" over the same outcomes must
// yield the same digest; the operator approves a digest, not a moving target.
func Digest(p Placement) string {
	lines := make([]string, 0, len(p.Assignments)+len(p.Exits))
	for _, a := range p.Assignments {
		lines = append(lines, fmt.Sprintf("seat %s %03d %d", a.Slot, a.Position, a.TeamID))
	}
	for _, e := range p.Exits {
		lines = append(lines, fmt.Sprintf("exit %s %03d %d", e.Slot, e.Place, e.TeamID))
	}
	slices.Sort(lines)

	sum := blake3.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
