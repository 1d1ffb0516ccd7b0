package migrate

import (
	"testing"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
)

var (
	digestV1 = content.ComputeDigest([]string{"gold", "wood"})
	digestV2 = content.ComputeDigest([]string{"gold", "timber"})
	digestV3 = content.ComputeDigest([]string{"gold", "timber", "gems"})
)

func identity(s engine.SerializedResourceState) engine.SerializedResourceState { return s }

func mustRegister(t *testing.T, r *Registry, d Descriptor) {
	t.Helper()
	if err := r.Register(d); err != nil {
		t.Fatalf("Register %s: %v", d.ID, err)
	}
}

func TestRegistry_RegisterRejects(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "v1_v2", From: digestV1, To: digestV2, Transform: identity})

	cases := []struct {
		name string
		desc Descriptor
	}{
		{"empty id", Descriptor{From: digestV2, To: digestV3, Transform: identity}},
		{"duplicate id", Descriptor{ID: "v1_v2", From: digestV2, To: digestV3, Transform: identity}},
		{"self loop", Descriptor{ID: "loop", From: digestV1, To: digestV1, Transform: identity}},
		{"nil transform", Descriptor{ID: "nilt", From: digestV2, To: digestV3}},
		{"duplicate edge", Descriptor{ID: "again", From: digestV1, To: digestV2, Transform: identity}},
		{"bad digest", Descriptor{
			ID:        "bad",
			From:      content.Digest{Hash: "fnv1a-00000000", Version: 1, IDs: []string{"gold"}},
			To:        digestV3,
			Transform: identity,
		}},
	}
	for _, tc := range cases {
		if err := r.Register(tc.desc); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestRegistry_FindsShortestChain(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "v1_v2", From: digestV1, To: digestV2, Transform: identity})
	mustRegister(t, r, Descriptor{ID: "v2_v3", From: digestV2, To: digestV3, Transform: identity})
	// Direct shortcut beats the two-hop chain.
	mustRegister(t, r, Descriptor{ID: "v1_v3", From: digestV1, To: digestV3, Transform: identity})

	path := r.FindMigrationPath(digestV1, digestV3)
	if !path.Found || len(path.Steps) != 1 || path.Steps[0].ID != "v1_v3" {
		t.Fatalf("path = %+v", path)
	}

	path = r.FindMigrationPath(digestV2, digestV3)
	if !path.Found || len(path.Steps) != 1 || path.Steps[0].ID != "v2_v3" {
		t.Fatalf("path = %+v", path)
	}
}

func TestRegistry_MultiHopChain(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "v1_v2", From: digestV1, To: digestV2, Transform: identity})
	mustRegister(t, r, Descriptor{ID: "v2_v3", From: digestV2, To: digestV3, Transform: identity})

	path := r.FindMigrationPath(digestV1, digestV3)
	if !path.Found || len(path.Steps) != 2 {
		t.Fatalf("path = %+v", path)
	}
	if path.Steps[0].ID != "v1_v2" || path.Steps[1].ID != "v2_v3" {
		t.Fatalf("steps out of order: %s, %s", path.Steps[0].ID, path.Steps[1].ID)
	}
}

func TestRegistry_IdenticalDigestsNeedNoSteps(t *testing.T) {
	r := NewRegistry()
	path := r.FindMigrationPath(digestV1, digestV1)
	if !path.Found || len(path.Steps) != 0 {
		t.Fatalf("path = %+v", path)
	}
}

func TestRegistry_MissingPathIsNotAnError(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "v1_v2", From: digestV1, To: digestV2, Transform: identity})

	if path := r.FindMigrationPath(digestV3, digestV1); path.Found {
		t.Fatalf("found a path from an unknown digest")
	}
	state := engine.SerializedResourceState{IDs: []string{"gold"}, Amounts: []float64{5}}
	out, ok := r.Apply(state, digestV3, digestV1)
	if ok {
		t.Fatalf("Apply reported success without a path")
	}
	if out.IDs[0] != "gold" || out.Amounts[0] != 5 {
		t.Fatalf("state mutated on failed apply: %+v", out)
	}
}

func TestRegistry_ApplyRunsChainInOrder(t *testing.T) {
	r := NewRegistry()
	double := func(s engine.SerializedResourceState) engine.SerializedResourceState {
		for i := range s.Amounts {
			s.Amounts[i] *= 2
		}
		return s
	}
	addTen := func(s engine.SerializedResourceState) engine.SerializedResourceState {
		for i := range s.Amounts {
			s.Amounts[i] += 10
		}
		return s
	}
	mustRegister(t, r, Descriptor{ID: "v1_v2", From: digestV1, To: digestV2, Transform: double})
	mustRegister(t, r, Descriptor{ID: "v2_v3", From: digestV2, To: digestV3, Transform: addTen})

	state := engine.SerializedResourceState{IDs: []string{"gold"}, Amounts: []float64{7}}
	out, ok := r.Apply(state, digestV1, digestV3)
	if !ok {
		t.Fatalf("no path")
	}
	// double then add: (7*2)+10, not (7+10)*2.
	if out.Amounts[0] != 24 {
		t.Fatalf("amount = %v, want 24", out.Amounts[0])
	}
}
