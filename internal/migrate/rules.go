package migrate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
)

// Rule is one data-driven migration step. Hosts that do not need custom Go
// transforms describe their content upgrades in migrations.yaml instead.
type Rule struct {
	ID   string     `yaml:"id"`
	From DigestSpec `yaml:"from"`
	To   DigestSpec `yaml:"to"`

	Rename map[string]string  `yaml:"rename"`
	Drop   []string           `yaml:"drop"`
	Scale  map[string]float64 `yaml:"scale"`
}

type DigestSpec struct {
	Version int      `yaml:"version"`
	IDs     []string `yaml:"ids"`
}

func (d DigestSpec) digest() content.Digest {
	dg := content.ComputeDigest(d.IDs)
	dg.Version = d.Version
	return dg
}

type rulesFile struct {
	Migrations []Rule `yaml:"migrations"`
}

// LoadRules reads migrations.yaml and registers one descriptor per rule.
// A missing file is not an error: most deployments have no migrations.
func LoadRules(path string, reg *Registry) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("migrations.yaml: %w", err)
	}
	for i, rule := range f.Migrations {
		if rule.ID == "" {
			return 0, fmt.Errorf("migrations.yaml: rule %d missing id", i)
		}
		if err := reg.Register(Descriptor{
			ID:        rule.ID,
			From:      rule.From.digest(),
			To:        rule.To.digest(),
			Transform: rule.transform(),
		}); err != nil {
			return 0, fmt.Errorf("migrations.yaml: rule %s: %w", rule.ID, err)
		}
	}
	return len(f.Migrations), nil
}

// transform builds the state mapper for one rule: renames first, then drops,
// then scaling. The serialized arrays stay parallel throughout.
func (rule Rule) transform() Transform {
	return func(s engine.SerializedResourceState) engine.SerializedResourceState {
		drop := make(map[string]bool, len(rule.Drop))
		for _, id := range rule.Drop {
			drop[id] = true
		}

		out := engine.SerializedResourceState{Progression: s.Progression, RNG: s.RNG}
		for i, id := range s.IDs {
			if to, ok := rule.Rename[id]; ok {
				id = to
			}
			if drop[id] {
				continue
			}
			amount := s.Amounts[i]
			if f, ok := rule.Scale[id]; ok {
				amount *= f
			}
			out.IDs = append(out.IDs, id)
			out.Amounts = append(out.Amounts, amount)
			if s.Capacities != nil {
				out.Capacities = append(out.Capacities, s.Capacities[i])
			}
			out.Unlocked = append(out.Unlocked, s.Unlocked[i])
			out.Visible = append(out.Visible, s.Visible[i])
			if s.Flags != nil {
				out.Flags = append(out.Flags, s.Flags[i])
			}
		}
		return out
	}
}
