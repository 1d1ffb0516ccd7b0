package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"idleforge.dev/internal/sim/content"
)

// quoteFailure maps a rejected quote to its failure code.
func quoteFailure(err error) CommandResult {
	var qe *quoteError
	if errors.As(err, &qe) {
		return Failure(qe.code, qe.msg)
	}
	return Failure(CodeUnknownTarget, err.Error())
}

// RegisterBuiltins installs the closed command set on d. Content-defined
// system commands are registered separately through RegisterType.
func RegisterBuiltins(d *Dispatcher) {
	d.Register(KindPurchaseGenerator, handlePurchaseGenerator)
	d.Register(KindPurchaseUpgrade, handlePurchaseUpgrade)
	d.Register(KindRunTransform, handleRunTransform)
	d.Register(KindToggleAutomation, handleToggleAutomation)
	d.Register(KindOfflineCatchup, handleOfflineCatchup)
	d.Register(KindGrantResource, handleGrantResource)
}

type purchaseGeneratorPayload struct {
	Generator string `json:"generator"`
	Count     int    `json:"count"`
}

func handlePurchaseGenerator(sim *SimulationContext, cmd Command) Outcome {
	var pl purchaseGeneratorPayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	if pl.Count == 0 {
		pl.Count = 1
	}
	q, err := sim.Prog.QuoteGeneratorPurchase(sim, pl.Generator, pl.Count)
	if err != nil {
		return Immediate(quoteFailure(err))
	}
	if !affordQuote(sim, q) {
		return Immediate(Failure(CodeInsufficient,
			fmt.Sprintf("cannot afford %d x %s", pl.Count, pl.Generator)))
	}
	sim.Prog.owned[pl.Generator] += pl.Count
	sim.Prog.publish(sim, ChannelProgression, "generator.purchased", q)
	return Immediate(SuccessWith(q))
}

type purchaseUpgradePayload struct {
	Upgrade string `json:"upgrade"`
}

func handlePurchaseUpgrade(sim *SimulationContext, cmd Command) Outcome {
	var pl purchaseUpgradePayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	q, err := sim.Prog.QuoteUpgradePurchase(sim, pl.Upgrade)
	if err != nil {
		return Immediate(quoteFailure(err))
	}
	if !affordQuote(sim, q) {
		return Immediate(Failure(CodeInsufficient, "cannot afford upgrade "+pl.Upgrade))
	}
	sim.Prog.purchased[pl.Upgrade] = true
	sim.Prog.applyUpgradeEffects(sim, sim.Prog.upByID[pl.Upgrade])
	sim.Prog.publish(sim, ChannelProgression, "upgrade.purchased", q)
	return Immediate(SuccessWith(q))
}

func (p *Progression) applyUpgradeEffects(sim *SimulationContext, u *content.UpgradeDefinition) {
	for _, e := range u.Effects {
		switch e.Kind {
		case content.EffectMultiplyRate:
			p.rateMult[e.Target] = p.rateMultiplier(e.Target) * e.Value
		case content.EffectAddCapacity:
			if idx, ok := sim.Store.Index(e.Target); ok {
				current := sim.Store.Capacity(idx)
				sim.Store.SetCapacity(idx, current+e.Value)
			}
		case content.EffectUnlock:
			if idx, ok := sim.Store.Index(e.Target); ok {
				if sim.Store.Unlock(idx) {
					p.publish(sim, ChannelProgression, "resource.unlocked", resourceEvent{Resource: e.Target})
				}
			}
		}
	}
}

type runTransformPayload struct {
	Transform string `json:"transform"`
}

func handleRunTransform(sim *SimulationContext, cmd Command) Outcome {
	var pl runTransformPayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	tr, ok := sim.Prog.trByID[pl.Transform]
	if !ok {
		return Immediate(Failure(CodeUnknownTarget, "unknown transform "+pl.Transform))
	}
	if !sim.Prog.applyTransform(sim, tr) {
		return Immediate(Failure(CodeInsufficient, "cannot afford transform "+pl.Transform))
	}
	sim.Prog.publish(sim, ChannelProgression, "transform.applied", transformEvent{Transform: tr.ID})
	return Immediate(Success())
}

type toggleAutomationPayload struct {
	Automation string `json:"automation"`
	Enabled    bool   `json:"enabled"`
}

func handleToggleAutomation(sim *SimulationContext, cmd Command) Outcome {
	var pl toggleAutomationPayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	if _, ok := sim.Prog.autoByID[pl.Automation]; !ok {
		return Immediate(Failure(CodeUnknownTarget, "unknown automation "+pl.Automation))
	}
	sim.Prog.autoEnabled[pl.Automation] = pl.Enabled
	return Immediate(Success())
}

type grantResourcePayload struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

// handleGrantResource is the privileged SYSTEM credit/debit escape hatch,
// used by migrations and host tooling.
func handleGrantResource(sim *SimulationContext, cmd Command) Outcome {
	var pl grantResourcePayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	idx, ok := sim.Store.Index(pl.Resource)
	if !ok {
		return Immediate(Failure(CodeUnknownTarget, "unknown resource "+pl.Resource))
	}
	applied := sim.Store.Add(idx, pl.Amount)
	return Immediate(SuccessWith(map[string]float64{"applied": applied}))
}
