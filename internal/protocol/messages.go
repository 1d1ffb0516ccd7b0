package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ClientName      string   `json:"client_name"`
	Subscribe       []string `json:"subscribe,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	PackID          string     `json:"pack_id"`
	Content         ContentRef `json:"content"`
	StepSizeMs      float64    `json:"step_size_ms"`
	CurrentStep     uint64     `json:"current_step"`
}

type ContentRef struct {
	Digest  string `json:"digest"`
	Version int    `json:"version"`
	Count   int    `json:"count"`
}

// ENQUEUE (client -> server)
type EnqueueMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Command         string          `json:"command"`
	Priority        string          `json:"priority,omitempty"` // "player" when omitted
	Payload         json.RawMessage `json:"payload,omitempty"`
	Step            uint64          `json:"step,omitempty"` // 0 means next tick
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Accepted        bool            `json:"accepted"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Step            uint64          `json:"step,omitempty"`
}

// STATE (server -> client): a resource snapshot for the subscribed client.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Step            uint64          `json:"step"`
	Checksum        string          `json:"checksum"`
	Resources       []ResourceState `json:"resources"`
}

type ResourceState struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Capacity float64 `json:"capacity,omitempty"` // 0 means uncapped
	Unlocked bool    `json:"unlocked"`
	Visible  bool    `json:"visible"`
}

// ERROR (server -> client): transport-level rejection outside a RESULT.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
