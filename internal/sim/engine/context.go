package engine

import "idleforge.dev/internal/telemetry"

// SimulationContext carries every piece of ambient state a handler or
// coordinator pass may touch: the step counter, the seeded RNG and the
// telemetry sink. It is threaded explicitly through the runtime so there are
// no package-level singletons to leak between sessions.
type SimulationContext struct {
	Step      uint64
	RNG       *SeededRand
	Telemetry telemetry.Sink

	Store *ResourceStore
	Bus   *EventBus
	Queue *CommandQueue
	Prog  *Progression

	StepSizeMs    int64
	CatchupLimits OfflineLimits
	Catchup       *CatchupState
}

func NewSimulationContext(sink telemetry.Sink) *SimulationContext {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &SimulationContext{
		RNG:       NewSeededRand(),
		Telemetry: sink,
	}
}
