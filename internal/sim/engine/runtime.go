package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/telemetry"
)

// Config sizes one runtime instance.
type Config struct {
	StepSizeMs    int64
	Seed          int64
	QueueCapacity int
	Bus           BusConfig
	Dirty         DirtyConfig

	CatchupLimits OfflineLimits
	// CatchupStepsPerTick bounds how many pending offline steps run per live
	// tick so a long absence cannot stall the loop.
	CatchupStepsPerTick int

	// StateEverySteps controls how often a read-only state view is published
	// for transports.
	StateEverySteps int
}

func (c Config) normalized() Config {
	if c.StepSizeMs <= 0 {
		c.StepSizeMs = 100
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.CatchupStepsPerTick <= 0 {
		c.CatchupStepsPerTick = 500
	}
	if c.StateEverySteps <= 0 {
		c.StateEverySteps = 10
	}
	if c.Dirty == (DirtyConfig{}) {
		c.Dirty = DefaultDirtyConfig()
	}
	return c
}

// TickJournalEntry is one line of the always-on tick audit trail.
type TickJournalEntry struct {
	Step     uint64  `json:"step"`
	Commands int     `json:"commands"`
	Queue    int     `json:"queue"`
	Checksum string  `json:"checksum"`
	StepMS   float64 `json:"stepMillis"`
}

// TickJournal receives one entry per completed step. Implemented in
// internal/persistence; may be nil.
type TickJournal interface {
	WriteTick(TickJournalEntry) error
}

// Runtime composes the core into one fixed-step loop. All simulation state is
// owned by the loop goroutine; external callers reach it through Enqueue (for
// single-threaded drivers) or the channel inbox served by Run.
type Runtime struct {
	cfg  Config
	pack *content.Pack

	sim  *SimulationContext
	disp *Dispatcher

	stepCounter atomic.Uint64
	metricsVal  atomic.Value
	stateVal    atomic.Value

	inbox   chan Command
	pauseCh chan bool
	saveCh  chan saveRequest
	stop    chan struct{}
	paused  bool

	// observer sees every externally ingested command, in issue order. The
	// replay recorder attaches here; coordinator-generated commands are not
	// observed because a replay regenerates them deterministically.
	observer func(Command)

	journal TickJournal

	dirtyScratch []int
}

func NewRuntime(cfg Config, pack *content.Pack, sink telemetry.Sink) (*Runtime, error) {
	if pack == nil {
		return nil, fmt.Errorf("nil content pack")
	}
	cfg = cfg.normalized()

	sim := NewSimulationContext(sink)
	sim.RNG.SetSeed(cfg.Seed)
	sim.Store = NewResourceStore(pack.Resources, cfg.Dirty)
	sim.Queue = NewCommandQueue(cfg.QueueCapacity)
	sim.Bus = NewEventBus(cfg.Bus, sim.Telemetry)
	sim.Prog = NewProgression(pack)
	sim.Prog.WatchEvents(sim.Bus)
	sim.StepSizeMs = cfg.StepSizeMs
	sim.CatchupLimits = cfg.CatchupLimits
	sim.Catchup = &CatchupState{}

	disp := NewDispatcher()
	RegisterBuiltins(disp)

	rt := &Runtime{
		cfg:     cfg,
		pack:    pack,
		sim:     sim,
		disp:    disp,
		inbox:   make(chan Command, 256),
		pauseCh: make(chan bool, 1),
		saveCh:  make(chan saveRequest, 1),
		stop:    make(chan struct{}),
	}
	rt.metricsVal.Store(RuntimeMetrics{})
	rt.publishState(0)
	return rt, nil
}

func (rt *Runtime) Dispatcher() *Dispatcher { return rt.disp }

// Context exposes the simulation context for handlers registered by the
// host and for tests. Only touch it from the loop goroutine.
func (rt *Runtime) Context() *SimulationContext { return rt.sim }

func (rt *Runtime) Pack() *content.Pack { return rt.pack }

// Config returns the normalized configuration this runtime was built with.
// Replay recording captures it so verification can rebuild the same wiring.
func (rt *Runtime) Config() Config { return rt.cfg }

func (rt *Runtime) StepSizeMs() int64 { return rt.cfg.StepSizeMs }

func (rt *Runtime) CurrentStep() uint64 { return rt.stepCounter.Load() }

// SetCommandObserver attaches fn to the external ingestion path. Replay
// recording hooks in here.
func (rt *Runtime) SetCommandObserver(fn func(Command)) { rt.observer = fn }

// SetJournal attaches the per-step audit writer.
func (rt *Runtime) SetJournal(j TickJournal) { rt.journal = j }

// Enqueue ingests an external command. A zero Step targets the current step.
// Returns false when the queue is full; callers treat that as backpressure.
func (rt *Runtime) Enqueue(cmd Command) bool {
	now := rt.stepCounter.Load()
	if cmd.Step < now {
		cmd.Step = now
	}
	if !rt.sim.Queue.Enqueue(cmd) {
		rt.sim.Telemetry.RecordWarning("runtime", "command rejected: queue full")
		return false
	}
	if rt.observer != nil {
		rt.observer(cmd)
	}
	return true
}

// EnqueueAsync hands a command to the loop goroutine. Safe from any thread.
func (rt *Runtime) EnqueueAsync(cmd Command) bool {
	select {
	case rt.inbox <- cmd:
		return true
	default:
		return false
	}
}

// SetPaused gates tick advancement in Run. Commands keep queueing while
// paused.
func (rt *Runtime) SetPaused(paused bool) {
	select {
	case rt.pauseCh <- paused:
	default:
	}
}

func (rt *Runtime) Stop() { close(rt.stop) }

// tick advances exactly one step: drain due commands in (step, priority,
// insertion) order, dispatch, run the coordinator passes, drain deferred
// completions, publish dirty resources, flush the bus, count, advance.
func (rt *Runtime) tick() {
	stepStart := time.Now()
	now := rt.stepCounter.Load()
	rt.sim.Step = now

	due := rt.sim.Queue.DrainDue(now)
	for _, entry := range due {
		rt.disp.Execute(rt.sim, entry.Command)
	}

	rt.sim.Prog.RunTick(rt.sim)

	rt.disp.DrainCompletions(rt.sim)

	rt.publishDirty(now)

	rt.sim.Bus.Flush(now)

	busCounters := rt.sim.Bus.TickCounters()
	rt.reportBusCounters(busCounters)

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	rt.sim.Telemetry.RecordTick(now, stepMS)

	if rt.journal != nil {
		entry := TickJournalEntry{
			Step:     now,
			Commands: len(due),
			Queue:    rt.sim.Queue.Size(),
			Checksum: rt.Checksum(),
			StepMS:   stepMS,
		}
		if err := rt.journal.WriteTick(entry); err != nil {
			rt.sim.Telemetry.RecordError("runtime", "JournalWrite", err)
		}
	}

	rt.storeMetrics(now+1, stepMS, busCounters)
	if (now+1)%uint64(rt.cfg.StateEverySteps) == 0 {
		rt.publishState(now + 1)
	}
	rt.stepCounter.Store(now + 1)
	rt.sim.Step = now + 1
}

// ResourceView is one row of the published read-only state.
type ResourceView struct {
	ID       string
	Amount   float64
	Capacity float64
	Unlocked bool
	Visible  bool
}

// StateSnapshot is the transport-facing view of simulation state, refreshed
// every StateEverySteps ticks. Safe to read from any goroutine.
type StateSnapshot struct {
	Step      uint64
	Checksum  string
	Resources []ResourceView
}

func (rt *Runtime) publishState(step uint64) {
	store := rt.sim.Store
	views := make([]ResourceView, store.Len())
	for i := range views {
		views[i] = ResourceView{
			ID:       store.ID(i),
			Amount:   store.Amount(i),
			Capacity: store.Capacity(i),
			Unlocked: store.IsUnlocked(i),
			Visible:  store.IsVisible(i),
		}
	}
	rt.stateVal.Store(StateSnapshot{
		Step:      step,
		Checksum:  StateChecksum(store, rt.sim.Prog, rt.sim.RNG, step),
		Resources: views,
	})
}

// StateSnapshot returns the most recently published state view.
func (rt *Runtime) StateSnapshot() StateSnapshot {
	return rt.stateVal.Load().(StateSnapshot)
}

// SubscribeEvents registers fn on a bus channel. Call before Run starts; fn
// runs on the loop goroutine during Flush and must not block.
func (rt *Runtime) SubscribeEvents(channel string, fn func(EventEnvelope)) int {
	return rt.sim.Bus.Subscribe(channel, fn)
}

type resourceChangedEvent struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

func (rt *Runtime) publishDirty(now uint64) {
	rt.dirtyScratch = rt.sim.Store.DirtyIndices(rt.dirtyScratch[:0])
	for _, idx := range rt.dirtyScratch {
		payload, _ := json.Marshal(resourceChangedEvent{
			Resource: rt.sim.Store.ID(idx),
			Amount:   rt.sim.Store.Amount(idx),
		})
		res := rt.sim.Bus.Publish(now, ChannelResources, "resource.changed", payload)
		if !res.Accepted {
			// Keep the slot dirty; it will publish once the channel drains.
			continue
		}
		rt.sim.Store.MarkClean(idx)
	}
}

func (rt *Runtime) reportBusCounters(counters map[string]BusCounters) {
	if len(counters) == 0 {
		return
	}
	flat := make(map[string]uint64, len(counters)*4)
	for ch, c := range counters {
		flat[ch+".published"] = c.Published
		flat[ch+".softLimited"] = c.SoftLimited
		flat[ch+".overflowed"] = c.Overflowed
		flat[ch+".subscribers"] = c.Subscribers
	}
	rt.sim.Telemetry.RecordCounters("eventbus", flat)
}

// StepOnce advances one live step plus any budgeted offline catch-up steps,
// using the same ordering semantics as Run. It returns the next step and the
// state checksum. Replay and tests drive the runtime through here.
func (rt *Runtime) StepOnce() (step uint64, checksum string) {
	rt.tick()

	c := rt.sim.Catchup
	for i := 0; c.RemainingSteps > 0 && i < rt.cfg.CatchupStepsPerTick; i++ {
		c.RemainingSteps--
		rt.tick()
	}
	if c.RemainingSteps == 0 && c.Deltas != nil {
		c.applyDeltas(rt.sim)
	}

	return rt.stepCounter.Load(), rt.Checksum()
}

// Checksum hashes the current end-of-step state.
func (rt *Runtime) Checksum() string {
	return StateChecksum(rt.sim.Store, rt.sim.Prog, rt.sim.RNG, rt.stepCounter.Load())
}

// Run is the live loop: a fixed ticker, channel inboxes drained into pending
// work, everything applied at the tick boundary.
func (rt *Runtime) Run(ctx context.Context) error {
	interval := time.Duration(rt.cfg.StepSizeMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []Command

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.stop:
			return nil
		case cmd := <-rt.inbox:
			pending = append(pending, cmd)
		case paused := <-rt.pauseCh:
			rt.paused = paused
		case req := <-rt.saveCh:
			req.resp <- SavePayload{
				State: rt.ExportState(),
				Queue: rt.ExportQueue(),
				Step:  rt.stepCounter.Load(),
			}
		case <-ticker.C:
			for _, cmd := range pending {
				rt.Enqueue(cmd)
			}
			pending = pending[:0]
			if rt.paused {
				continue
			}
			rt.StepOnce()
		}
	}
}

// SavePayload is what the loop hands out for persistence.
type SavePayload struct {
	State SerializedResourceState
	Queue SavedQueue
	Step  uint64
}

type saveRequest struct{ resp chan SavePayload }

// RequestSave asks the loop goroutine for a consistent save payload. Only
// valid while Run is serving the loop.
func (rt *Runtime) RequestSave(ctx context.Context) (SavePayload, error) {
	req := saveRequest{resp: make(chan SavePayload, 1)}
	select {
	case rt.saveCh <- req:
	case <-ctx.Done():
		return SavePayload{}, ctx.Err()
	}
	select {
	case p := <-req.resp:
		return p, nil
	case <-ctx.Done():
		return SavePayload{}, ctx.Err()
	}
}

// ExportState captures resource state plus the progression and RNG
// sub-states.
func (rt *Runtime) ExportState() SerializedResourceState {
	s := rt.sim.Store.Export()
	s.Progression = rt.sim.Prog.Export()
	s.RNG = &SerializedRNGState{
		State:        rt.sim.RNG.State(),
		FallbackSeed: rt.sim.RNG.FallbackSeed(),
	}
	return s
}

// ImportState restores a save. Idempotent: importing the same snapshot twice
// leaves the same state. Saves predating the RNG sub-state keep the
// construction-time seed.
func (rt *Runtime) ImportState(s SerializedResourceState) {
	rt.sim.Store.Import(s)
	rt.sim.Prog.Import(s.Progression)
	if s.RNG != nil {
		rt.sim.RNG.SetState(s.RNG.State)
	}
}

// SetStep force-positions the step counter (replay rehydration).
func (rt *Runtime) SetStep(step uint64) {
	rt.stepCounter.Store(step)
	rt.sim.Step = step
}

// ExportQueue persists pending commands alongside a save.
func (rt *Runtime) ExportQueue() SavedQueue {
	return rt.sim.Queue.ExportForSave(rt.stepCounter.Load())
}

// RestoreQueue re-admits a saved queue, dropping command types this build no
// longer supports.
func (rt *Runtime) RestoreQueue(saved SavedQueue) RestoreResult {
	res := rt.sim.Queue.RestoreFromSave(saved, RestoreOptions{
		IsCommandTypeSupported: rt.disp.Supports,
		CurrentStep:            rt.stepCounter.Load(),
	})
	if res.Skipped > 0 {
		rt.sim.Telemetry.RecordWarning("runtime",
			fmt.Sprintf("queue restore skipped %d unsupported commands", res.Skipped))
	}
	return res
}
