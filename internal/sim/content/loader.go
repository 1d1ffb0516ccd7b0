package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type packMeta struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// Load reads a content pack directory. Expected files:
//
//	pack.json         {id, version}
//	resources.json    []ResourceDefinition
//	generators.json   []GeneratorDefinition      (optional)
//	automations.json  []AutomationDefinition     (optional)
//	upgrades.json     []UpgradeDefinition        (optional)
//	transforms.json   []TransformDefinition      (optional)
//
// Load is fail-fast: a malformed formula or duplicate id aborts with an error
// naming the file and id. Schema-level validation of authored packs is the
// content pipeline's job, not ours; we only enforce what the engine relies on.
func Load(configDir string) (*Pack, error) {
	var p Pack
	manifest := sha256.New()

	readFile := func(name string, required bool) ([]byte, error) {
		raw, err := os.ReadFile(filepath.Join(configDir, name))
		if err != nil {
			if !required && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		manifest.Write([]byte(name))
		manifest.Write(raw)
		return raw, nil
	}

	raw, err := readFile("pack.json", true)
	if err != nil {
		return nil, err
	}
	var meta packMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("pack.json: %w", err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("pack.json: empty id")
	}
	p.ID = meta.ID
	p.Version = meta.Version

	raw, err = readFile("resources.json", true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &p.Resources); err != nil {
		return nil, fmt.Errorf("resources.json: %w", err)
	}
	ids := make([]string, 0, len(p.Resources))
	seen := map[string]bool{}
	for _, r := range p.Resources {
		if r.ID == "" {
			return nil, fmt.Errorf("resources.json: empty id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("resources.json: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
		if err := r.UnlockWhen.Validate(); err != nil {
			return nil, fmt.Errorf("resources.json: %s: unlock_when: %w", r.ID, err)
		}
		if err := r.VisibleWhen.Validate(); err != nil {
			return nil, fmt.Errorf("resources.json: %s: visible_when: %w", r.ID, err)
		}
	}

	if raw, err = readFile("generators.json", false); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.Generators); err != nil {
			return nil, fmt.Errorf("generators.json: %w", err)
		}
		if err := validateGenerators(p.Generators, seen); err != nil {
			return nil, err
		}
	}

	if raw, err = readFile("automations.json", false); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.Automations); err != nil {
			return nil, fmt.Errorf("automations.json: %w", err)
		}
		if err := validateAutomations(p.Automations); err != nil {
			return nil, err
		}
	}

	if raw, err = readFile("upgrades.json", false); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.Upgrades); err != nil {
			return nil, fmt.Errorf("upgrades.json: %w", err)
		}
		if err := validateUpgrades(p.Upgrades); err != nil {
			return nil, err
		}
	}

	if raw, err = readFile("transforms.json", false); err != nil {
		return nil, err
	} else if raw != nil {
		if err := json.Unmarshal(raw, &p.Transforms); err != nil {
			return nil, fmt.Errorf("transforms.json: %w", err)
		}
		if err := validateTransforms(p.Transforms); err != nil {
			return nil, err
		}
	}

	p.Digest = ComputeDigest(ids)
	p.ManifestHash = hex.EncodeToString(manifest.Sum(nil))
	return &p, nil
}

func validateGenerators(gens []GeneratorDefinition, resources map[string]bool) error {
	seen := map[string]bool{}
	for _, g := range gens {
		if g.ID == "" {
			return fmt.Errorf("generators.json: empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("generators.json: duplicate id %q", g.ID)
		}
		seen[g.ID] = true
		for _, y := range append(append([]Yield{}, g.Produces...), g.Consumes...) {
			if !resources[y.Resource] {
				return fmt.Errorf("generators.json: %s: unknown resource %q", g.ID, y.Resource)
			}
			if y.Rate == nil {
				return fmt.Errorf("generators.json: %s: missing rate for %q", g.ID, y.Resource)
			}
			if err := y.Rate.Validate(); err != nil {
				return fmt.Errorf("generators.json: %s: rate for %q: %w", g.ID, y.Resource, err)
			}
		}
		for _, c := range g.Cost {
			if !resources[c.Resource] {
				return fmt.Errorf("generators.json: %s: unknown cost resource %q", g.ID, c.Resource)
			}
			if c.Amount == nil {
				return fmt.Errorf("generators.json: %s: missing cost amount for %q", g.ID, c.Resource)
			}
			if err := c.Amount.Validate(); err != nil {
				return fmt.Errorf("generators.json: %s: cost for %q: %w", g.ID, c.Resource, err)
			}
		}
	}
	return nil
}

func validateAutomations(autos []AutomationDefinition) error {
	seen := map[string]bool{}
	for _, a := range autos {
		if a.ID == "" {
			return fmt.Errorf("automations.json: empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("automations.json: duplicate id %q", a.ID)
		}
		seen[a.ID] = true
		if a.CommandType == "" {
			return fmt.Errorf("automations.json: %s: empty command_type", a.ID)
		}
		switch a.Trigger.Kind {
		case TriggerInterval:
			if a.Trigger.EveryTicks == 0 {
				return fmt.Errorf("automations.json: %s: interval trigger needs every_ticks", a.ID)
			}
		case TriggerThreshold:
			if a.Trigger.Resource == "" {
				return fmt.Errorf("automations.json: %s: threshold trigger needs resource", a.ID)
			}
		case TriggerQueueEmpty:
		case TriggerEvent:
			if a.Trigger.Channel == "" {
				return fmt.Errorf("automations.json: %s: event trigger needs channel", a.ID)
			}
		default:
			return fmt.Errorf("automations.json: %s: unknown trigger kind %q", a.ID, a.Trigger.Kind)
		}
	}
	return nil
}

func validateUpgrades(ups []UpgradeDefinition) error {
	seen := map[string]bool{}
	for _, u := range ups {
		if u.ID == "" {
			return fmt.Errorf("upgrades.json: empty id")
		}
		if seen[u.ID] {
			return fmt.Errorf("upgrades.json: duplicate id %q", u.ID)
		}
		seen[u.ID] = true
		for _, c := range u.Cost {
			if c.Amount == nil {
				return fmt.Errorf("upgrades.json: %s: missing cost amount for %q", u.ID, c.Resource)
			}
			if err := c.Amount.Validate(); err != nil {
				return fmt.Errorf("upgrades.json: %s: cost for %q: %w", u.ID, c.Resource, err)
			}
		}
		for _, e := range u.Effects {
			switch e.Kind {
			case EffectMultiplyRate, EffectAddCapacity, EffectUnlock:
			default:
				return fmt.Errorf("upgrades.json: %s: unknown effect kind %q", u.ID, e.Kind)
			}
			if e.Target == "" {
				return fmt.Errorf("upgrades.json: %s: effect missing target", u.ID)
			}
		}
	}
	return nil
}

func validateTransforms(trs []TransformDefinition) error {
	seen := map[string]bool{}
	for _, tr := range trs {
		if tr.ID == "" {
			return fmt.Errorf("transforms.json: empty id")
		}
		if seen[tr.ID] {
			return fmt.Errorf("transforms.json: duplicate id %q", tr.ID)
		}
		seen[tr.ID] = true
		if len(tr.Inputs) == 0 && len(tr.Outputs) == 0 {
			return fmt.Errorf("transforms.json: %s: empty transform", tr.ID)
		}
		for res, amt := range tr.Inputs {
			if amt < 0 {
				return fmt.Errorf("transforms.json: %s: negative input %q", tr.ID, res)
			}
		}
		for res, amt := range tr.Outputs {
			if amt < 0 {
				return fmt.Errorf("transforms.json: %s: negative output %q", tr.ID, res)
			}
		}
	}
	return nil
}
