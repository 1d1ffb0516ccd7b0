// Package migrate resolves transform chains between content revisions so
// saves written against an older pack shape can be brought forward.
package migrate

import (
	"fmt"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
)

// Transform rewrites a serialized state from one content shape to another.
// Transforms must be pure, deterministic, and safe to apply twice without
// further drift; that is a registration contract, not something the registry
// can enforce at runtime.
type Transform func(engine.SerializedResourceState) engine.SerializedResourceState

type Descriptor struct {
	ID        string
	From      content.Digest
	To        content.Digest
	Transform Transform
}

type edge struct {
	to   int
	desc Descriptor
}

// Registry is a directed graph over interned digest nodes. Registration is
// fail-fast: a misconfigured migration must surface at startup, never at
// load time.
type Registry struct {
	nodeIdx map[string]int
	nodes   []content.Digest
	adj     [][]edge

	ids     map[string]bool
	edgeSet map[[2]int]bool
}

func NewRegistry() *Registry {
	return &Registry{
		nodeIdx: map[string]int{},
		ids:     map[string]bool{},
		edgeSet: map[[2]int]bool{},
	}
}

func (r *Registry) intern(d content.Digest) int {
	key := d.Key()
	if idx, ok := r.nodeIdx[key]; ok {
		return idx
	}
	idx := len(r.nodes)
	r.nodeIdx[key] = idx
	r.nodes = append(r.nodes, d)
	r.adj = append(r.adj, nil)
	return idx
}

// Register validates and adds one migration edge. It rejects, in order:
// empty/duplicate ids, internally inconsistent digests (hash not matching
// the computed hash of ids, version not matching the id count), identical
// from/to digests, nil transforms, and duplicate edges between the same two
// digest nodes.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("migration: empty id")
	}
	if r.ids[d.ID] {
		return fmt.Errorf("migration %q: duplicate id", d.ID)
	}
	if err := d.From.Validate(); err != nil {
		return fmt.Errorf("migration %q: from digest: %w", d.ID, err)
	}
	if err := d.To.Validate(); err != nil {
		return fmt.Errorf("migration %q: to digest: %w", d.ID, err)
	}
	if d.From.Equal(d.To) {
		return fmt.Errorf("migration %q: from and to digests are identical (%s)", d.ID, d.From.Hash)
	}
	if d.Transform == nil {
		return fmt.Errorf("migration %q: nil transform", d.ID)
	}

	from := r.intern(d.From)
	to := r.intern(d.To)
	if r.edgeSet[[2]int{from, to}] {
		return fmt.Errorf("migration %q: duplicate edge %s -> %s", d.ID, d.From.Hash, d.To.Hash)
	}

	r.ids[d.ID] = true
	r.edgeSet[[2]int{from, to}] = true
	r.adj[from] = append(r.adj[from], edge{to: to, desc: d})
	return nil
}

// Path is the result of a resolution. Found=false means the caller cannot
// auto-migrate and should fall back to defaults; it is not an error.
type Path struct {
	Found bool
	Steps []Descriptor
}

// FindMigrationPath runs breadth-first search from one digest to the other,
// returning the shortest transform chain.
func (r *Registry) FindMigrationPath(from, to content.Digest) Path {
	if from.Equal(to) {
		return Path{Found: true}
	}
	src, ok := r.nodeIdx[from.Key()]
	if !ok {
		return Path{}
	}
	dst, ok := r.nodeIdx[to.Key()]
	if !ok {
		return Path{}
	}

	type hop struct {
		node int
		prev int // index into hops, -1 for the root
		via  Descriptor
	}
	hops := []hop{{node: src, prev: -1}}
	visited := map[int]bool{src: true}

	for i := 0; i < len(hops); i++ {
		cur := hops[i]
		for _, e := range r.adj[cur.node] {
			if visited[e.to] {
				continue
			}
			hops = append(hops, hop{node: e.to, prev: i, via: e.desc})
			if e.to == dst {
				// Walk back to the root, then reverse.
				var steps []Descriptor
				for j := len(hops) - 1; j >= 0; j = hops[j].prev {
					if hops[j].prev < 0 {
						break
					}
					steps = append(steps, hops[j].via)
				}
				for a, b := 0, len(steps)-1; a < b; a, b = a+1, b-1 {
					steps[a], steps[b] = steps[b], steps[a]
				}
				return Path{Found: true, Steps: steps}
			}
			visited[e.to] = true
		}
	}
	return Path{}
}

// Apply resolves and runs the transform chain. A missing path returns
// found=false with the input state untouched.
func (r *Registry) Apply(state engine.SerializedResourceState, from, to content.Digest) (engine.SerializedResourceState, bool) {
	path := r.FindMigrationPath(from, to)
	if !path.Found {
		return state, false
	}
	for _, step := range path.Steps {
		state = step.Transform(state)
	}
	return state, true
}
