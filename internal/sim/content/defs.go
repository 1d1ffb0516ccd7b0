package content

// Definitions are the read-only input to the simulation core. The loader owns
// parsing and digesting; the engine only ever reads these structs.

type ResourceDefinition struct {
	ID             string   `json:"id"`
	StartAmount    float64  `json:"start_amount"`
	Capacity       *float64 `json:"capacity,omitempty"`
	Unlocked       bool     `json:"unlocked"`
	Visible        bool     `json:"visible"`
	DirtyTolerance *float64 `json:"dirty_tolerance,omitempty"`

	// Optional progression conditions, re-evaluated each tick.
	UnlockWhen  *Condition `json:"unlock_when,omitempty"`
	VisibleWhen *Condition `json:"visible_when,omitempty"`
}

// Yield is one side of a generator's per-step flow. Rate is evaluated in the
// shared tick context; variables like "owned" and "step" are bound by the
// coordinator.
type Yield struct {
	Resource string `json:"resource"`
	Rate     *Expr  `json:"rate"`
}

type GeneratorDefinition struct {
	ID         string  `json:"id"`
	StartOwned int     `json:"start_owned"`
	Produces   []Yield `json:"produces"`
	Consumes   []Yield `json:"consumes,omitempty"`

	// Purchase cost per unit; evaluated with "owned" and "index" bound,
	// where index ranges over the units being quoted.
	Cost     []CostEntry `json:"cost"`
	MaxOwned int         `json:"max_owned,omitempty"` // 0 = unbounded
}

type CostEntry struct {
	Resource string `json:"resource"`
	Amount   *Expr  `json:"amount"`
}

const (
	TriggerInterval   = "interval"
	TriggerThreshold  = "threshold"
	TriggerQueueEmpty = "queue_empty"
	TriggerEvent      = "event"
)

type TriggerSpec struct {
	Kind string `json:"kind"`

	// interval
	EveryTicks uint64 `json:"every_ticks,omitempty"`

	// threshold
	Resource string  `json:"resource,omitempty"`
	AtLeast  float64 `json:"at_least,omitempty"`

	// event
	Channel   string `json:"channel,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

// AutomationDefinition enqueues CommandType with CommandPayload whenever its
// trigger fires. Automations never mutate state directly.
type AutomationDefinition struct {
	ID             string      `json:"id"`
	Trigger        TriggerSpec `json:"trigger"`
	CommandType    string      `json:"command_type"`
	CommandPayload any         `json:"command_payload,omitempty"`
	StartEnabled   bool        `json:"start_enabled"`
}

const (
	EffectMultiplyRate = "multiply_rate"
	EffectAddCapacity  = "add_capacity"
	EffectUnlock       = "unlock"
)

type UpgradeEffect struct {
	Kind   string  `json:"kind"`
	Target string  `json:"target"` // generator id or resource id, per kind
	Value  float64 `json:"value,omitempty"`
}

type UpgradeDefinition struct {
	ID      string          `json:"id"`
	Cost    []CostEntry     `json:"cost"`
	Effects []UpgradeEffect `json:"effects"`
}

// TransformDefinition converts fixed input amounts into fixed output amounts.
// Auto transforms run every tick when affordable; manual ones run via command.
type TransformDefinition struct {
	ID      string             `json:"id"`
	Inputs  map[string]float64 `json:"inputs"`
	Outputs map[string]float64 `json:"outputs"`
	Auto    bool               `json:"auto"`
}

// Pack is one loaded content revision.
type Pack struct {
	ID      string `json:"id"`
	Version string `json:"version"`

	Resources   []ResourceDefinition
	Generators  []GeneratorDefinition
	Automations []AutomationDefinition
	Upgrades    []UpgradeDefinition
	Transforms  []TransformDefinition

	// Digest fingerprints the resource id set for save/replay compatibility.
	Digest Digest
	// ManifestHash covers every raw definition file byte-for-byte.
	ManifestHash string
}
