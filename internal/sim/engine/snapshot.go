package engine

import "math"

// SerializedResourceState is the durable form of the resource store plus the
// progression module's sub-state. Reconciliation on import is by id, never by
// positional index, so a save survives content packs gaining or losing
// resources.
type SerializedResourceState struct {
	IDs     []string  `json:"ids"`
	Amounts []float64 `json:"amounts"`
	// Capacities is nil when every resource is uncapped; otherwise -1 marks
	// an uncapped slot (JSON has no Inf).
	Capacities []float64 `json:"capacities"`
	Unlocked   []bool    `json:"unlocked"`
	Visible    []bool    `json:"visible"`
	Flags      []uint32  `json:"flags"`

	Progression *SerializedProgressionState `json:"progression,omitempty"`
	RNG         *SerializedRNGState         `json:"rng,omitempty"`
}

// SerializedRNGState captures the generator for exact resume. FallbackSeed is
// non-zero only when a draw happened before any seed was set; recording it
// keeps such sessions replayable.
type SerializedRNGState struct {
	State        uint32 `json:"state"`
	FallbackSeed uint32 `json:"fallbackSeed,omitempty"`
}

type SerializedProgressionState struct {
	GeneratorsOwned     map[string]int     `json:"generatorsOwned,omitempty"`
	RateMultipliers     map[string]float64 `json:"rateMultipliers,omitempty"`
	AutomationsEnabled  map[string]bool    `json:"automationsEnabled,omitempty"`
	AutomationLastFired map[string]uint64  `json:"automationLastFired,omitempty"`
	UpgradesPurchased   []string           `json:"upgradesPurchased,omitempty"`
}

// Export captures the store. The snapshot is a private copy; mutating it
// never touches live state.
func (s *ResourceStore) Export() SerializedResourceState {
	n := len(s.ids)
	out := SerializedResourceState{
		IDs:      append([]string(nil), s.ids...),
		Amounts:  append([]float64(nil), s.amounts...),
		Unlocked: append([]bool(nil), s.unlocked...),
		Visible:  append([]bool(nil), s.visible...),
		Flags:    append([]uint32(nil), s.flags...),
	}
	anyCapped := false
	caps := make([]float64, n)
	for i, c := range s.capacities {
		if math.IsInf(c, 1) {
			caps[i] = -1
		} else {
			caps[i] = c
			anyCapped = true
		}
	}
	if anyCapped {
		out.Capacities = caps
	}
	return out
}

// Import reconciles a serialized state into the store by id. Saved ids the
// current content no longer defines drop silently; resources the save never
// saw keep their definition defaults. Unlock/visible flags only ever move
// forward, matching the store's monotonicity invariant.
func (s *ResourceStore) Import(saved SerializedResourceState) {
	for si, id := range saved.IDs {
		idx, ok := s.index[id]
		if !ok {
			continue
		}
		if si < len(saved.Capacities) {
			s.SetCapacity(idx, saved.Capacities[si])
		}
		if si < len(saved.Amounts) {
			amt := saved.Amounts[si]
			if !math.IsNaN(amt) && !math.IsInf(amt, 0) {
				s.amounts[idx] = math.Min(math.Max(amt, 0), s.capacities[idx])
			}
		}
		if si < len(saved.Unlocked) && saved.Unlocked[si] {
			s.unlocked[idx] = true
		}
		if si < len(saved.Visible) && saved.Visible[si] {
			s.visible[idx] = true
		}
		if si < len(saved.Flags) {
			s.flags[idx] |= saved.Flags[si]
		}
	}
	// A freshly imported store has nothing meaningful to publish yet.
	s.MarkAllClean()
}
