package engine

import (
	"sort"

	"idleforge.dev/internal/sim/content"
)

// Progression is the coordinator's mutable state: generator ownership, rate
// multipliers from upgrades, automation enablement and upgrade purchases.
// The definitions themselves stay read-only in the pack.
type Progression struct {
	pack *content.Pack

	owned     map[string]int
	rateMult  map[string]float64
	purchased map[string]bool

	autoEnabled   map[string]bool
	autoLastFired map[string]uint64

	genByID  map[string]*content.GeneratorDefinition
	upByID   map[string]*content.UpgradeDefinition
	autoByID map[string]*content.AutomationDefinition
	trByID   map[string]*content.TransformDefinition

	// Events observed on subscribed channels since the last automation pass;
	// feeds event-kind triggers.
	seenEvents map[eventKey]bool
}

type eventKey struct {
	channel   string
	eventType string
}

func NewProgression(pack *content.Pack) *Progression {
	p := &Progression{
		pack:          pack,
		owned:         map[string]int{},
		rateMult:      map[string]float64{},
		purchased:     map[string]bool{},
		autoEnabled:   map[string]bool{},
		autoLastFired: map[string]uint64{},
		genByID:       map[string]*content.GeneratorDefinition{},
		upByID:        map[string]*content.UpgradeDefinition{},
		autoByID:      map[string]*content.AutomationDefinition{},
		trByID:        map[string]*content.TransformDefinition{},
		seenEvents:    map[eventKey]bool{},
	}
	for i := range pack.Generators {
		g := &pack.Generators[i]
		p.genByID[g.ID] = g
		if g.StartOwned > 0 {
			p.owned[g.ID] = g.StartOwned
		}
	}
	for i := range pack.Upgrades {
		p.upByID[pack.Upgrades[i].ID] = &pack.Upgrades[i]
	}
	for i := range pack.Automations {
		a := &pack.Automations[i]
		p.autoByID[a.ID] = a
		if a.StartEnabled {
			p.autoEnabled[a.ID] = true
		}
	}
	for i := range pack.Transforms {
		p.trByID[pack.Transforms[i].ID] = &pack.Transforms[i]
	}
	return p
}

// WatchEvents subscribes the event-trigger collector to every channel the
// pack's automations reference. Call once after the bus exists.
func (p *Progression) WatchEvents(bus *EventBus) {
	channels := map[string]bool{}
	for _, a := range p.pack.Automations {
		if a.Trigger.Kind == content.TriggerEvent {
			channels[a.Trigger.Channel] = true
		}
	}
	for ch := range channels {
		channel := ch
		bus.Subscribe(channel, func(env EventEnvelope) {
			p.seenEvents[eventKey{channel: channel, eventType: env.Type}] = true
		})
	}
}

func (p *Progression) Owned(generatorID string) int { return p.owned[generatorID] }

func (p *Progression) Purchased(upgradeID string) bool { return p.purchased[upgradeID] }

func (p *Progression) AutomationEnabled(id string) bool { return p.autoEnabled[id] }

func (p *Progression) rateMultiplier(generatorID string) float64 {
	if m, ok := p.rateMult[generatorID]; ok {
		return m
	}
	return 1
}

// Export captures the progression sub-state for saves.
func (p *Progression) Export() *SerializedProgressionState {
	s := &SerializedProgressionState{
		GeneratorsOwned:     map[string]int{},
		RateMultipliers:     map[string]float64{},
		AutomationsEnabled:  map[string]bool{},
		AutomationLastFired: map[string]uint64{},
	}
	for k, v := range p.owned {
		s.GeneratorsOwned[k] = v
	}
	for k, v := range p.rateMult {
		s.RateMultipliers[k] = v
	}
	for k, v := range p.autoEnabled {
		s.AutomationsEnabled[k] = v
	}
	for k, v := range p.autoLastFired {
		s.AutomationLastFired[k] = v
	}
	ids := make([]string, 0, len(p.purchased))
	for id := range p.purchased {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.UpgradesPurchased = ids
	return s
}

// Import reconciles by id: entries for generators/upgrades/automations the
// current pack no longer defines drop silently.
func (p *Progression) Import(s *SerializedProgressionState) {
	if s == nil {
		return
	}
	for id, n := range s.GeneratorsOwned {
		if _, ok := p.genByID[id]; ok && n >= 0 {
			p.owned[id] = n
		}
	}
	for id, m := range s.RateMultipliers {
		if _, ok := p.genByID[id]; ok && m > 0 {
			p.rateMult[id] = m
		}
	}
	for id, on := range s.AutomationsEnabled {
		if _, ok := p.autoByID[id]; ok {
			p.autoEnabled[id] = on
		}
	}
	for id, step := range s.AutomationLastFired {
		if _, ok := p.autoByID[id]; ok {
			p.autoLastFired[id] = step
		}
	}
	for _, id := range s.UpgradesPurchased {
		if _, ok := p.upByID[id]; ok {
			p.purchased[id] = true
		}
	}
}
