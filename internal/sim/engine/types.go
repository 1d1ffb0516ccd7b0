// Package engine is the deterministic fixed-step simulation core. All state
// in this package must be accessed only from the runtime loop goroutine;
// cross-thread callers talk to it through channels and immutable snapshots.
package engine

import "encoding/json"

// Priority orders commands that target the same step. Lower dispatches first.
type Priority int

const (
	PrioritySystem Priority = iota
	PriorityAutomation
	PriorityPlayer
)

func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "SYSTEM"
	case PriorityAutomation:
		return "AUTOMATION"
	case PriorityPlayer:
		return "PLAYER"
	default:
		return "UNKNOWN"
	}
}

// Command is immutable once enqueued. Step is the earliest step it may
// dispatch on; Timestamp is host wall-clock milliseconds at issue time and is
// carried for diagnostics only (it never influences simulation state).
type Command struct {
	Type      string          `json:"type"`
	Priority  Priority        `json:"priority"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Step      uint64          `json:"step"`
}

// QueueEntry is a Command plus queue-assigned ordering metadata.
type QueueEntry struct {
	Command Command `json:"command"`
	Seq     uint64  `json:"seq"`
}

// EventEnvelope is what subscribers receive. DispatchOrder is assigned per
// channel in publish order; (Channel, DispatchOrder) is the total ordering key.
type EventEnvelope struct {
	Channel       string          `json:"channel"`
	Type          string          `json:"type"`
	Tick          uint64          `json:"tick"`
	DispatchOrder uint64          `json:"dispatchOrder"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// CommandResult is the canonical outcome of one dispatched command.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success() CommandResult { return CommandResult{OK: true} }

func SuccessWith(data any) CommandResult { return CommandResult{OK: true, Data: data} }

func Failure(code, message string) CommandResult {
	return CommandResult{OK: false, Code: code, Message: message}
}

// Failure codes reported through telemetry. These are stable identifiers;
// renaming one breaks external dashboards.
const (
	CodeUnknownCommandType = "UnknownCommandType"
	CodeUnauthorized       = "UnauthorizedCommand"
	CodeHandlerError       = "HandlerError"
	CodeInvalidResult      = "InvalidHandlerResult"
	CodeInvalidPayload     = "InvalidPayload"
	CodeInsufficient       = "InsufficientResources"
	CodeUnknownTarget      = "UnknownTarget"
	CodeTargetCapped       = "TargetCapped"
)
