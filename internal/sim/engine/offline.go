package engine

import (
	"encoding/json"
	"math"
)

// OfflineLimits caps how much wall-clock absence converts into simulation.
// Zero, negative, NaN or Inf values mean "no limit": a bad limit degrades to
// unlimited rather than erroring.
type OfflineLimits struct {
	MaxElapsedMs float64 `json:"maxElapsedMs,omitempty"`
	MaxSteps     float64 `json:"maxSteps,omitempty"`
}

// OfflineTotals is the resolved catch-up budget.
type OfflineTotals struct {
	TotalMs          float64 `json:"totalMs"`
	TotalSteps       uint64  `json:"totalSteps"`
	TotalRemainderMs float64 `json:"totalRemainderMs"`
}

func validLimit(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ResolveOfflineProgressTotals converts elapsed wall-clock milliseconds into
// whole steps plus a remainder. MaxElapsedMs applies before MaxSteps; when a
// cap truncates to an exact multiple of stepSizeMs the remainder is zero.
// Non-positive or non-finite elapsed/stepSize normalize to all-zero.
func ResolveOfflineProgressTotals(elapsedMs, stepSizeMs float64, limits OfflineLimits) OfflineTotals {
	if !validLimit(elapsedMs) || !validLimit(stepSizeMs) {
		return OfflineTotals{}
	}

	totalMs := elapsedMs
	if validLimit(limits.MaxElapsedMs) && totalMs > limits.MaxElapsedMs {
		totalMs = limits.MaxElapsedMs
	}

	steps := math.Floor(totalMs / stepSizeMs)
	if validLimit(limits.MaxSteps) && steps > math.Floor(limits.MaxSteps) {
		steps = math.Floor(limits.MaxSteps)
		// A step cap swallows the partial remainder: the truncated window is
		// exactly steps*stepSizeMs.
		totalMs = steps * stepSizeMs
	}

	return OfflineTotals{
		TotalMs:          totalMs,
		TotalSteps:       uint64(steps),
		TotalRemainderMs: totalMs - steps*stepSizeMs,
	}
}

// CatchupState is the runtime's pending offline work. A bounded number of
// catch-up steps run per live tick, so a huge absence cannot stall the loop;
// RemainingSteps makes a partially applied catch-up resumable.
type CatchupState struct {
	RemainingSteps uint64
	Deltas         map[string]float64
}

func (c *CatchupState) merge(totals OfflineTotals, deltas map[string]float64) {
	c.RemainingSteps += totals.TotalSteps
	if len(deltas) == 0 {
		return
	}
	if c.Deltas == nil {
		c.Deltas = map[string]float64{}
	}
	for res, d := range deltas {
		c.Deltas[res] += d
	}
}

// applyDeltas credits/debits the post-catchup resource deltas. Clamping in
// Add guarantees a spend cannot drive a resource below zero; unknown ids are
// ignored.
func (c *CatchupState) applyDeltas(sim *SimulationContext) {
	for _, res := range sortedKeys(c.Deltas) {
		if idx, ok := sim.Store.Index(res); ok {
			sim.Store.Add(idx, c.Deltas[res])
		}
	}
	c.Deltas = nil
}

type offlineCatchupPayload struct {
	ElapsedMs float64            `json:"elapsedMs"`
	Deltas    map[string]float64 `json:"deltas,omitempty"`
}

// handleOfflineCatchup resolves the totals and queues them on the runtime's
// catch-up state; the runtime performs the actual stepping between live
// ticks so the command itself stays cheap.
func handleOfflineCatchup(sim *SimulationContext, cmd Command) Outcome {
	var pl offlineCatchupPayload
	if err := json.Unmarshal(cmd.Payload, &pl); err != nil {
		return Immediate(Failure(CodeInvalidPayload, err.Error()))
	}
	totals := ResolveOfflineProgressTotals(pl.ElapsedMs, float64(sim.StepSizeMs), sim.CatchupLimits)
	if sim.Catchup == nil {
		return Immediate(Failure(CodeHandlerError, "runtime has no catch-up state"))
	}
	sim.Catchup.merge(totals, pl.Deltas)
	return Immediate(SuccessWith(totals))
}
