package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"idleforge.dev/internal/sim/engine"
)

const sampleRules = `
migrations:
  - id: rename_wood
    from:
      version: 2
      ids: [gold, wood]
    to:
      version: 2
      ids: [gold, timber]
    rename:
      wood: timber
  - id: rebalance
    from:
      version: 2
      ids: [gold, timber]
    to:
      version: 3
      ids: [gold, timber, gems]
    scale:
      gold: 0.5
`

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrations.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadRules_MissingFileIsEmpty(t *testing.T) {
	reg := NewRegistry()
	n, err := LoadRules(filepath.Join(t.TempDir(), "migrations.yaml"), reg)
	if err != nil || n != 0 {
		t.Fatalf("n = %d, err = %v", n, err)
	}
}

func TestLoadRules_RegistersChain(t *testing.T) {
	reg := NewRegistry()
	n, err := LoadRules(writeRules(t, sampleRules), reg)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}

	state := engine.SerializedResourceState{
		IDs:        []string{"gold", "wood"},
		Amounts:    []float64{100, 40},
		Capacities: []float64{-1, 500},
		Unlocked:   []bool{true, true},
		Visible:    []bool{true, false},
		Flags:      []uint32{1, 0},
	}
	from := DigestSpec{Version: 2, IDs: []string{"gold", "wood"}}.digest()
	to := DigestSpec{Version: 3, IDs: []string{"gold", "timber", "gems"}}.digest()

	out, ok := reg.Apply(state, from, to)
	if !ok {
		t.Fatalf("no path")
	}
	if out.IDs[1] != "timber" || out.Amounts[1] != 40 {
		t.Fatalf("rename lost: %+v", out)
	}
	if out.Amounts[0] != 50 {
		t.Fatalf("scale lost: gold = %v, want 50", out.Amounts[0])
	}
	if out.Capacities[1] != 500 || out.Visible[1] || !out.Unlocked[1] || out.Flags[0] != 1 {
		t.Fatalf("parallel arrays broken: %+v", out)
	}
}

func TestRuleTransform_RenameDropScale(t *testing.T) {
	rule := Rule{
		ID:     "combo",
		Rename: map[string]string{"wood": "timber"},
		Drop:   []string{"dust"},
		Scale:  map[string]float64{"timber": 2},
	}
	state := engine.SerializedResourceState{
		IDs:      []string{"gold", "wood", "dust"},
		Amounts:  []float64{10, 5, 99},
		Unlocked: []bool{true, true, true},
		Visible:  []bool{true, true, true},
		Progression: &engine.SerializedProgressionState{
			GeneratorsOwned: map[string]int{"chopper": 2},
		},
		RNG: &engine.SerializedRNGState{State: 0xabad1dea},
	}

	out := rule.transform()(state)
	if len(out.IDs) != 2 || out.IDs[0] != "gold" || out.IDs[1] != "timber" {
		t.Fatalf("ids = %v", out.IDs)
	}
	// Scale keys on the post-rename id.
	if out.Amounts[1] != 10 {
		t.Fatalf("timber = %v, want 10", out.Amounts[1])
	}
	if out.Capacities != nil || out.Flags != nil {
		t.Fatalf("nil arrays must stay nil: %+v", out)
	}
	if out.Progression == nil || out.Progression.GeneratorsOwned["chopper"] != 2 {
		t.Fatalf("progression dropped: %+v", out.Progression)
	}
	if out.RNG == nil || out.RNG.State != 0xabad1dea {
		t.Fatalf("rng state dropped: %+v", out.RNG)
	}
}

func TestLoadRules_RejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing id", `
migrations:
  - from:
      version: 1
      ids: [gold]
    to:
      version: 2
      ids: [gold, wood]
`},
		{"self loop", `
migrations:
  - id: noop
    from:
      version: 1
      ids: [gold]
    to:
      version: 1
      ids: [gold]
`},
		{"version mismatch", `
migrations:
  - id: skew
    from:
      version: 5
      ids: [gold]
    to:
      version: 2
      ids: [gold, wood]
`},
		{"not yaml", "{{{"},
	}
	for _, tc := range cases {
		reg := NewRegistry()
		if _, err := LoadRules(writeRules(t, tc.body), reg); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}
