package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"idleforge.dev/internal/sim/content"
)

// Event channels the coordinator publishes on.
const (
	ChannelProgression = "progression"
	ChannelResources   = "resources"
)

// RunTick executes the coordinator's passes for one step, in fixed order:
// conditions, generators, automations, transforms. Identical state and step
// produce identical mutations; every pass reads only through tickBindings.
func (p *Progression) RunTick(sim *SimulationContext) {
	p.tickConditions(sim)
	p.tickGenerators(sim)
	p.tickAutomations(sim)
	p.tickTransforms(sim)
}

func (p *Progression) bindings(sim *SimulationContext) tickBindings {
	return tickBindings{step: sim.Step, store: sim.Store, prog: p}
}

func (p *Progression) tickConditions(sim *SimulationContext) {
	b := p.bindings(sim)
	for _, def := range p.pack.Resources {
		idx, ok := sim.Store.Index(def.ID)
		if !ok {
			continue
		}
		if !sim.Store.IsUnlocked(idx) && def.UnlockWhen != nil && def.UnlockWhen.Eval(b) {
			if sim.Store.Unlock(idx) {
				p.publish(sim, ChannelProgression, "resource.unlocked", resourceEvent{Resource: def.ID})
			}
		}
		if sim.Store.IsVisible(idx) {
			continue
		}
		// Unlocked implies eventually visible; an explicit visible_when can
		// also reveal a still-locked resource.
		visible := sim.Store.IsUnlocked(idx) || (def.VisibleWhen != nil && def.VisibleWhen.Eval(b))
		if visible && sim.Store.GrantVisibility(idx) {
			p.publish(sim, ChannelProgression, "resource.visible", resourceEvent{Resource: def.ID})
		}
	}
}

func (p *Progression) tickGenerators(sim *SimulationContext) {
	for gi := range p.pack.Generators {
		g := &p.pack.Generators[gi]
		n := p.owned[g.ID]
		if n == 0 {
			continue
		}
		b := p.bindings(sim)
		b.owned = float64(n)
		b.hasOwned = true
		mult := p.rateMultiplier(g.ID)

		// All-or-nothing consumption: a generator that cannot feed itself
		// this step produces nothing.
		affordable := true
		needs := make([]float64, len(g.Consumes))
		for i, c := range g.Consumes {
			needs[i] = c.Rate.Eval(b) * float64(n)
			idx, ok := sim.Store.Index(c.Resource)
			if !ok || needs[i] < 0 || sim.Store.Amount(idx) < needs[i] {
				affordable = false
				break
			}
		}
		if !affordable {
			continue
		}
		for i, c := range g.Consumes {
			idx, _ := sim.Store.Index(c.Resource)
			sim.Store.Spend(idx, needs[i])
		}
		for _, y := range g.Produces {
			idx, ok := sim.Store.Index(y.Resource)
			if !ok {
				continue
			}
			sim.Store.Add(idx, y.Rate.Eval(b)*float64(n)*mult)
		}
	}
}

func (p *Progression) tickAutomations(sim *SimulationContext) {
	for ai := range p.pack.Automations {
		a := &p.pack.Automations[ai]
		if !p.autoEnabled[a.ID] {
			continue
		}
		if !p.triggerFires(sim, a) {
			continue
		}
		payload, err := json.Marshal(a.CommandPayload)
		if err != nil || string(payload) == "null" {
			payload = nil
		}
		cmd := Command{
			Type:     a.CommandType,
			Priority: PriorityAutomation,
			Payload:  payload,
			Step:     sim.Step,
		}
		if !sim.Queue.Enqueue(cmd) {
			sim.Telemetry.RecordWarning("coordinator",
				fmt.Sprintf("automation %s dropped: queue full", a.ID))
			continue
		}
		p.autoLastFired[a.ID] = sim.Step
	}
	// Event triggers see each published event exactly once.
	clear(p.seenEvents)
}

func (p *Progression) triggerFires(sim *SimulationContext, a *content.AutomationDefinition) bool {
	switch a.Trigger.Kind {
	case content.TriggerInterval:
		last, fired := p.autoLastFired[a.ID]
		if !fired {
			return sim.Step >= a.Trigger.EveryTicks
		}
		return sim.Step-last >= a.Trigger.EveryTicks
	case content.TriggerThreshold:
		idx, ok := sim.Store.Index(a.Trigger.Resource)
		return ok && sim.Store.Amount(idx) >= a.Trigger.AtLeast
	case content.TriggerQueueEmpty:
		return sim.Queue.Empty()
	case content.TriggerEvent:
		if a.Trigger.EventType == "" {
			for k := range p.seenEvents {
				if k.channel == a.Trigger.Channel {
					return true
				}
			}
			return false
		}
		return p.seenEvents[eventKey{channel: a.Trigger.Channel, eventType: a.Trigger.EventType}]
	default:
		return false
	}
}

func (p *Progression) tickTransforms(sim *SimulationContext) {
	for ti := range p.pack.Transforms {
		tr := &p.pack.Transforms[ti]
		if !tr.Auto {
			continue
		}
		if p.applyTransform(sim, tr) {
			p.publish(sim, ChannelProgression, "transform.applied", transformEvent{Transform: tr.ID})
		}
	}
}

// applyTransform spends every input and credits every output, all or
// nothing. Map iteration order never leaks: inputs are checked against the
// store, not each other, and the spend set is fixed before any mutation.
func (p *Progression) applyTransform(sim *SimulationContext, tr *content.TransformDefinition) bool {
	inputs := sortedKeys(tr.Inputs)
	for _, res := range inputs {
		idx, ok := sim.Store.Index(res)
		if !ok || sim.Store.Amount(idx) < tr.Inputs[res] {
			return false
		}
	}
	for _, res := range inputs {
		idx, _ := sim.Store.Index(res)
		sim.Store.Spend(idx, tr.Inputs[res])
	}
	for _, res := range sortedKeys(tr.Outputs) {
		if idx, ok := sim.Store.Index(res); ok {
			sim.Store.Add(idx, tr.Outputs[res])
		}
	}
	return true
}

type resourceEvent struct {
	Resource string `json:"resource"`
}

type transformEvent struct {
	Transform string `json:"transform"`
}

func (p *Progression) publish(sim *SimulationContext, channel, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	sim.Bus.Publish(sim.Step, channel, eventType, raw)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
