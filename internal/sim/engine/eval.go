package engine

import (
	"math"
	"strings"
)

// tickBindings is the shared deterministic evaluation context for formulas
// and conditions. Two coordinators given identical state and step resolve
// every variable identically, which is what makes generator output
// reproducible.
//
// Bound names:
//
//	step         current step
//	owned        units of the generator being evaluated (when applicable)
//	index        unit index inside a purchase quote (when applicable)
//	res.<id>     current amount of resource <id>
//	cap.<id>     capacity of <id> (uncapped resolves to 0)
//	owned.<id>   units owned of generator <id>
type tickBindings struct {
	step  uint64
	store *ResourceStore
	prog  *Progression

	owned    float64
	index    float64
	hasOwned bool
	hasIndex bool
}

func (b tickBindings) Var(name string) (float64, bool) {
	switch name {
	case "step":
		return float64(b.step), true
	case "owned":
		if b.hasOwned {
			return b.owned, true
		}
		return 0, false
	case "index":
		if b.hasIndex {
			return b.index, true
		}
		return 0, false
	}
	if rest, ok := strings.CutPrefix(name, "res."); ok {
		if idx, ok := b.store.Index(rest); ok {
			return b.store.Amount(idx), true
		}
		return 0, false
	}
	if rest, ok := strings.CutPrefix(name, "cap."); ok {
		if idx, ok := b.store.Index(rest); ok {
			c := b.store.Capacity(idx)
			if math.IsInf(c, 1) {
				return 0, true
			}
			return c, true
		}
		return 0, false
	}
	if rest, ok := strings.CutPrefix(name, "owned."); ok {
		if b.prog != nil {
			if n, ok := b.prog.owned[rest]; ok {
				return float64(n), true
			}
		}
		return 0, false
	}
	return 0, false
}
