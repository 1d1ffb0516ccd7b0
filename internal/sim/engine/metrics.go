package engine

// RuntimeMetrics is an immutable per-tick snapshot for hosts and health
// endpoints. Stored via atomic.Value so transport goroutines can read it
// without touching the loop.
type RuntimeMetrics struct {
	Step          uint64                 `json:"step"`
	QueueDepth    int                    `json:"queueDepth"`
	QueueCapacity int                    `json:"queueCapacity"`
	StepMS        float64                `json:"stepMillis"`
	CatchupSteps  uint64                 `json:"catchupStepsRemaining"`
	Paused        bool                   `json:"paused"`
	Channels      map[string]BusCounters `json:"channels,omitempty"`
}

func (rt *Runtime) storeMetrics(nextStep uint64, stepMS float64, channels map[string]BusCounters) {
	rt.metricsVal.Store(RuntimeMetrics{
		Step:          nextStep,
		QueueDepth:    rt.sim.Queue.Size(),
		QueueCapacity: rt.sim.Queue.Capacity(),
		StepMS:        stepMS,
		CatchupSteps:  rt.sim.Catchup.RemainingSteps,
		Paused:        rt.paused,
		Channels:      channels,
	})
}

func (rt *Runtime) Metrics() RuntimeMetrics {
	m, _ := rt.metricsVal.Load().(RuntimeMetrics)
	return m
}
