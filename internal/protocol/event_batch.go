package protocol

import "encoding/json"

type EventItem struct {
	Channel       string          `json:"channel"`
	Event         string          `json:"event"`
	Tick          uint64          `json:"tick"`
	DispatchOrder uint64          `json:"dispatch_order"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// EVENT_BATCH (server -> client): events published during one tick, in
// dispatch order.
type EventBatchMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Events          []EventItem `json:"events"`
}
