package engine

import (
	"fmt"
	"sort"
)

// quoteError carries the failure code the purchase handlers report, so a
// rejected quote keeps its cause distinguishable in telemetry.
type quoteError struct {
	code string
	msg  string
}

func (e *quoteError) Error() string { return e.msg }

// CostLine is one currency's share of a quote.
type CostLine struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

// PurchaseQuote is the evaluated cost of buying Count units of Target. A
// single-currency purchase has one line; multi-currency purchases list every
// line in resource order.
type PurchaseQuote struct {
	Target string     `json:"target"`
	Count  int        `json:"count"`
	Costs  []CostLine `json:"costs"`
}

// QuoteGeneratorPurchase prices count additional units of a generator at the
// current ownership level. Quoting is pure: it reads state, never mutates it.
// Cost formulas see "owned" (current units) and "index" (0-based offset of
// the unit being priced).
func (p *Progression) QuoteGeneratorPurchase(sim *SimulationContext, generatorID string, count int) (PurchaseQuote, error) {
	g, ok := p.genByID[generatorID]
	if !ok {
		return PurchaseQuote{}, &quoteError{CodeUnknownTarget, fmt.Sprintf("unknown generator %q", generatorID)}
	}
	if count <= 0 {
		return PurchaseQuote{}, &quoteError{CodeInvalidPayload, fmt.Sprintf("purchase count must be positive, got %d", count)}
	}
	have := p.owned[generatorID]
	if g.MaxOwned > 0 && have+count > g.MaxOwned {
		return PurchaseQuote{}, &quoteError{CodeTargetCapped, fmt.Sprintf("generator %q capped at %d units", generatorID, g.MaxOwned)}
	}

	totals := map[string]float64{}
	for i := 0; i < count; i++ {
		b := p.bindings(sim)
		b.owned = float64(have)
		b.hasOwned = true
		b.index = float64(i)
		b.hasIndex = true
		for _, c := range g.Cost {
			totals[c.Resource] += c.Amount.Eval(b)
		}
	}
	return PurchaseQuote{Target: generatorID, Count: count, Costs: costLines(totals)}, nil
}

// QuoteUpgradePurchase prices an upgrade. Upgrades are one-shot, so count is
// implicitly 1.
func (p *Progression) QuoteUpgradePurchase(sim *SimulationContext, upgradeID string) (PurchaseQuote, error) {
	u, ok := p.upByID[upgradeID]
	if !ok {
		return PurchaseQuote{}, &quoteError{CodeUnknownTarget, fmt.Sprintf("unknown upgrade %q", upgradeID)}
	}
	if p.purchased[upgradeID] {
		return PurchaseQuote{}, &quoteError{CodeTargetCapped, fmt.Sprintf("upgrade %q already purchased", upgradeID)}
	}
	b := p.bindings(sim)
	totals := map[string]float64{}
	for _, c := range u.Cost {
		totals[c.Resource] += c.Amount.Eval(b)
	}
	return PurchaseQuote{Target: upgradeID, Count: 1, Costs: costLines(totals)}, nil
}

func costLines(totals map[string]float64) []CostLine {
	resources := make([]string, 0, len(totals))
	for res := range totals {
		resources = append(resources, res)
	}
	sort.Strings(resources)
	lines := make([]CostLine, 0, len(resources))
	for _, res := range resources {
		lines = append(lines, CostLine{Resource: res, Amount: totals[res]})
	}
	return lines
}

// affordQuote spends every cost line, all or nothing.
func affordQuote(sim *SimulationContext, q PurchaseQuote) bool {
	for _, line := range q.Costs {
		idx, ok := sim.Store.Index(line.Resource)
		if !ok || sim.Store.Amount(idx) < line.Amount {
			return false
		}
	}
	for _, line := range q.Costs {
		idx, _ := sim.Store.Index(line.Resource)
		sim.Store.Spend(idx, line.Amount)
	}
	return true
}
