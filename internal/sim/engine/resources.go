package engine

import (
	"math"

	"idleforge.dev/internal/sim/content"
)

// DirtyConfig tunes change detection for publish/persist decisions. A delta
// counts as dirty when abs(delta) > max(floor, rel*max(|old|,|new|)), where
// floor is AbsoluteFloor or a per-resource override and rel is RelativeFactor
// capped at RelativeCeiling. Overrides are clamped to MaxOverride so one
// misauthored tolerance cannot mute a resource entirely.
type DirtyConfig struct {
	AbsoluteFloor   float64
	RelativeFactor  float64
	RelativeCeiling float64
	MaxOverride     float64
}

func DefaultDirtyConfig() DirtyConfig {
	return DirtyConfig{
		AbsoluteFloor:   1e-9,
		RelativeFactor:  1e-9,
		RelativeCeiling: 1e-6,
		MaxOverride:     1e-3,
	}
}

// ResourceStore is the canonical numeric economy state: parallel arrays
// indexed by a stable integer index assigned at construction. All mutation
// goes through its methods; nothing outside this file writes the arrays.
type ResourceStore struct {
	ids   []string
	index map[string]int

	amounts    []float64
	capacities []float64 // +Inf when uncapped
	unlocked   []bool
	visible    []bool
	flags      []uint32
	tolerance  []float64 // per-resource dirty override, 0 = none

	// baseline holds the last published amounts; dirty detection compares
	// against it.
	baseline []float64

	cfg  DirtyConfig
	defs []content.ResourceDefinition
}

func NewResourceStore(defs []content.ResourceDefinition, cfg DirtyConfig) *ResourceStore {
	n := len(defs)
	s := &ResourceStore{
		ids:        make([]string, n),
		index:      make(map[string]int, n),
		amounts:    make([]float64, n),
		capacities: make([]float64, n),
		unlocked:   make([]bool, n),
		visible:    make([]bool, n),
		flags:      make([]uint32, n),
		tolerance:  make([]float64, n),
		baseline:   make([]float64, n),
		cfg:        cfg,
		defs:       append([]content.ResourceDefinition(nil), defs...),
	}
	for i, d := range defs {
		s.ids[i] = d.ID
		s.index[d.ID] = i
		s.capacities[i] = math.Inf(1)
		if d.Capacity != nil && *d.Capacity >= 0 {
			s.capacities[i] = *d.Capacity
		}
		s.amounts[i] = math.Min(math.Max(d.StartAmount, 0), s.capacities[i])
		s.baseline[i] = s.amounts[i]
		s.unlocked[i] = d.Unlocked
		s.visible[i] = d.Visible
		if d.DirtyTolerance != nil && *d.DirtyTolerance > 0 {
			s.tolerance[i] = math.Min(*d.DirtyTolerance, cfg.MaxOverride)
		}
	}
	return s
}

func (s *ResourceStore) Len() int { return len(s.ids) }

func (s *ResourceStore) Index(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

func (s *ResourceStore) ID(idx int) string { return s.ids[idx] }

func (s *ResourceStore) IDs() []string { return append([]string(nil), s.ids...) }

func (s *ResourceStore) Amount(idx int) float64 { return s.amounts[idx] }

func (s *ResourceStore) Capacity(idx int) float64 { return s.capacities[idx] }

func (s *ResourceStore) IsUnlocked(idx int) bool { return s.unlocked[idx] }

func (s *ResourceStore) IsVisible(idx int) bool { return s.visible[idx] }

// Add credits delta (which may be negative) and clamps the result into
// [0, capacity]. It returns the delta actually applied.
func (s *ResourceStore) Add(idx int, delta float64) float64 {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0
	}
	old := s.amounts[idx]
	next := old + delta
	if next > s.capacities[idx] {
		next = s.capacities[idx]
	}
	if next < 0 {
		next = 0
	}
	s.amounts[idx] = next
	return next - old
}

// Spend debits amount, failing without side effects if the balance cannot
// cover it. Negative or non-finite amounts fail.
func (s *ResourceStore) Spend(idx int, amount float64) bool {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}
	if s.amounts[idx] < amount {
		return false
	}
	s.amounts[idx] -= amount
	return true
}

// SetCapacity adjusts the cap; limit < 0 means uncapped. Lowering below the
// current amount clamps the amount down.
func (s *ResourceStore) SetCapacity(idx int, limit float64) {
	if math.IsNaN(limit) {
		return
	}
	if limit < 0 {
		s.capacities[idx] = math.Inf(1)
		return
	}
	s.capacities[idx] = limit
	if s.amounts[idx] > limit {
		s.amounts[idx] = limit
	}
}

// Unlock is idempotent and monotonic: a resource never re-locks.
// It reports whether the flag changed.
func (s *ResourceStore) Unlock(idx int) bool {
	if s.unlocked[idx] {
		return false
	}
	s.unlocked[idx] = true
	return true
}

// GrantVisibility is idempotent and monotonic, like Unlock.
func (s *ResourceStore) GrantVisibility(idx int) bool {
	if s.visible[idx] {
		return false
	}
	s.visible[idx] = true
	return true
}

func (s *ResourceStore) SetFlag(idx int, bit uint32) { s.flags[idx] |= bit }

func (s *ResourceStore) HasFlag(idx int, bit uint32) bool { return s.flags[idx]&bit != 0 }

func (s *ResourceStore) dirtyEpsilon(idx int, old, cur float64) float64 {
	floor := s.cfg.AbsoluteFloor
	if s.tolerance[idx] > 0 {
		floor = s.tolerance[idx]
	}
	rel := s.cfg.RelativeFactor
	if rel > s.cfg.RelativeCeiling {
		rel = s.cfg.RelativeCeiling
	}
	return math.Max(floor, rel*math.Max(math.Abs(old), math.Abs(cur)))
}

// Dirty reports whether idx has moved meaningfully since the last MarkClean.
func (s *ResourceStore) Dirty(idx int) bool {
	old := s.baseline[idx]
	now := s.amounts[idx]
	return math.Abs(now-old) > s.dirtyEpsilon(idx, old, now)
}

// DirtyIndices appends every dirty index to dst in index order.
func (s *ResourceStore) DirtyIndices(dst []int) []int {
	for i := range s.amounts {
		if s.Dirty(i) {
			dst = append(dst, i)
		}
	}
	return dst
}

// MarkClean resets the dirty baseline for idx to the current amount.
func (s *ResourceStore) MarkClean(idx int) { s.baseline[idx] = s.amounts[idx] }

func (s *ResourceStore) MarkAllClean() {
	copy(s.baseline, s.amounts)
}
