// Package event defines the Hookline event envelope.
//
// An Event is the unit of the log: one immutable record of something that
// happened in an agent runtime, carrying an opaque payload. The pipeline
// stores and forwards payloads verbatim and never interprets them.
package event

import (
	"encoding/json"
	"time"
)

// Event is the fixed envelope for a lifecycle event.
//
// ID and ReceivedAt are assigned by the store at append time and must be
// absent on submission. All other fields come from the producer and are
// opaque to the pipeline.
type Event struct {
	ID         int64     `json:"id,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`

	SourceApp     string `json:"source_app"`
	SessionID     string `json:"session_id"`
	HookEventType string `json:"hook_event_type"`

	// Payload is an arbitrary JSON object, stored and returned verbatim.
	Payload json.RawMessage `json:"payload"`

	// Optional envelope fields, carried verbatim when present.
	Chat           json.RawMessage `json:"chat,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	SessionName    string          `json:"session_name,omitempty"`
	SessionContext json.RawMessage `json:"session_context,omitempty"`
}
