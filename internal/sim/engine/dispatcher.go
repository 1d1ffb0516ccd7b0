package engine

import (
	"fmt"
)

// CommandKind is the closed set of built-in commands. Content-defined system
// commands go through the open string registry instead; the closed table gets
// exhaustive switches, the open one keeps late registration possible.
type CommandKind int

const (
	KindUnknown CommandKind = iota
	KindPurchaseGenerator
	KindPurchaseUpgrade
	KindRunTransform
	KindToggleAutomation
	KindOfflineCatchup
	KindGrantResource
	kindCount
)

// Command type strings as they appear on the wire and in saves.
const (
	CmdPurchaseGenerator = "generator.purchase"
	CmdPurchaseUpgrade   = "upgrade.purchase"
	CmdRunTransform      = "transform.run"
	CmdToggleAutomation  = "automation.toggle"
	CmdOfflineCatchup    = "system.offline_catchup"
	CmdGrantResource     = "system.grant"
)

var kindByType = map[string]CommandKind{
	CmdPurchaseGenerator: KindPurchaseGenerator,
	CmdPurchaseUpgrade:   KindPurchaseUpgrade,
	CmdRunTransform:      KindRunTransform,
	CmdToggleAutomation:  KindToggleAutomation,
	CmdOfflineCatchup:    KindOfflineCatchup,
	CmdGrantResource:     KindGrantResource,
}

func KindOf(commandType string) CommandKind {
	return kindByType[commandType]
}

// privileged kinds may only run at SYSTEM priority. An automation or player
// command claiming one is rejected before its handler is resolved.
func (k CommandKind) privileged() bool {
	switch k {
	case KindOfflineCatchup, KindGrantResource:
		return true
	default:
		return false
	}
}

// Handler executes one command against the simulation context. It returns an
// Outcome: either an immediate result, or a deferred task for work that must
// not block the tick (the deferred path may not touch simulation state).
type Handler func(sim *SimulationContext, cmd Command) Outcome

// Outcome is the explicit union of handler results.
type Outcome struct {
	result CommandResult
	task   func() CommandResult
}

func Immediate(r CommandResult) Outcome { return Outcome{result: r} }

// Deferred schedules task on a worker goroutine; its result surfaces through
// the dispatcher's completion queue on a later tick, via telemetry only.
func Deferred(task func() CommandResult) Outcome { return Outcome{task: task} }

// Authorizer gates a command before its handler runs. Returning a non-empty
// reason rejects the command.
type Authorizer func(sim *SimulationContext, cmd Command) (reason string)

type deferredCompletion struct {
	commandType string
	result      CommandResult
}

// Dispatcher routes commands to handlers. One handler per type;
// re-registration overwrites. A failing handler never propagates out of
// Execute, so one bad command cannot halt the tick.
type Dispatcher struct {
	table     [kindCount]Handler
	open      map[string]Handler
	authorize Authorizer

	completions chan deferredCompletion
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		open:        map[string]Handler{},
		completions: make(chan deferredCompletion, 256),
	}
	d.authorize = DefaultAuthorizer
	return d
}

// DefaultAuthorizer blocks privileged kinds below SYSTEM priority.
func DefaultAuthorizer(_ *SimulationContext, cmd Command) string {
	if KindOf(cmd.Type).privileged() && cmd.Priority != PrioritySystem {
		return fmt.Sprintf("%s requires SYSTEM priority, got %s", cmd.Type, cmd.Priority)
	}
	return ""
}

// SetAuthorizer replaces the gate. Nil restores the default.
func (d *Dispatcher) SetAuthorizer(a Authorizer) {
	if a == nil {
		a = DefaultAuthorizer
	}
	d.authorize = a
}

// Register installs a handler for a built-in kind.
func (d *Dispatcher) Register(kind CommandKind, h Handler) {
	if kind > KindUnknown && kind < kindCount {
		d.table[kind] = h
	}
}

// RegisterType installs a handler in the open registry for a content-defined
// command type. Overwrites any previous handler for that type.
func (d *Dispatcher) RegisterType(commandType string, h Handler) {
	d.open[commandType] = h
}

func (d *Dispatcher) resolve(commandType string) Handler {
	if k := KindOf(commandType); k != KindUnknown {
		if h := d.table[k]; h != nil {
			return h
		}
	}
	return d.open[commandType]
}

// Supports reports whether a handler exists for commandType. Queue restore
// uses it to drop command types the current build no longer carries.
func (d *Dispatcher) Supports(commandType string) bool {
	return d.resolve(commandType) != nil
}

// Execute runs cmd and discards the result; failures still reach telemetry.
func (d *Dispatcher) Execute(sim *SimulationContext, cmd Command) {
	d.ExecuteWithResult(sim, cmd)
}

// ExecuteWithResult runs cmd and returns the normalized result.
func (d *Dispatcher) ExecuteWithResult(sim *SimulationContext, cmd Command) CommandResult {
	h := d.resolve(cmd.Type)
	if h == nil {
		sim.Telemetry.RecordError("dispatcher", CodeUnknownCommandType,
			fmt.Errorf("no handler for command type %q", cmd.Type))
		return Failure(CodeUnknownCommandType, fmt.Sprintf("unknown command type %q", cmd.Type))
	}

	if reason := d.authorize(sim, cmd); reason != "" {
		sim.Telemetry.RecordWarning("dispatcher", "unauthorized command: "+reason)
		return Failure(CodeUnauthorized, reason)
	}

	outcome, panicked := d.invoke(h, sim, cmd)
	if panicked != nil {
		sim.Telemetry.RecordError("dispatcher", CodeHandlerError,
			fmt.Errorf("handler for %q panicked: %v", cmd.Type, panicked))
		return Failure(CodeHandlerError, fmt.Sprintf("handler for %q panicked", cmd.Type))
	}

	if outcome.task != nil {
		task := outcome.task
		commandType := cmd.Type
		go func() {
			res := normalize(runTask(task))
			d.completions <- deferredCompletion{commandType: commandType, result: res}
		}()
		// The synchronous contract: a deferred command is accepted now,
		// its real result surfaces via telemetry later.
		return Success()
	}

	res := normalize(outcome.result)
	if !res.OK {
		sim.Telemetry.RecordError("dispatcher", res.Code,
			fmt.Errorf("command %q failed: %s", cmd.Type, res.Message))
	}
	return res
}

func (d *Dispatcher) invoke(h Handler, sim *SimulationContext, cmd Command) (out Outcome, panicked any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
		}
	}()
	return h(sim, cmd), nil
}

func runTask(task func() CommandResult) (res CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(CodeHandlerError, fmt.Sprintf("deferred task panicked: %v", r))
		}
	}()
	return task()
}

// normalize forces every result into the canonical shape: a success carries
// no code, a failure must carry both code and message or it is downgraded to
// an invalid-result failure.
func normalize(r CommandResult) CommandResult {
	if r.OK {
		r.Code = ""
		r.Message = ""
		return r
	}
	if r.Code == "" || r.Message == "" {
		return Failure(CodeInvalidResult, "handler returned failure without code/message")
	}
	return r
}

// DrainCompletions reports finished deferred tasks. Runs once per tick; never
// blocks.
func (d *Dispatcher) DrainCompletions(sim *SimulationContext) int {
	n := 0
	for {
		select {
		case c := <-d.completions:
			n++
			if !c.result.OK {
				sim.Telemetry.RecordError("dispatcher", c.result.Code,
					fmt.Errorf("deferred %q failed: %s", c.commandType, c.result.Message))
			}
		default:
			return n
		}
	}
}
