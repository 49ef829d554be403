package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed is returned when a submission body is not valid JSON or does
// not satisfy the envelope schema.
var ErrMalformed = errors.New("malformed event envelope")

// envelopeSchema validates the fixed envelope only. Payload, chat and
// session_context contents are deliberately unconstrained beyond their JSON
// kind.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["source_app", "session_id", "hook_event_type", "payload"],
	"properties": {
		"source_app": {"type": "string", "minLength": 1},
		"session_id": {"type": "string", "minLength": 1},
		"hook_event_type": {"type": "string", "minLength": 1},
		"payload": {"type": "object"},
		"chat": {"type": ["array", "null"]},
		"summary": {"type": ["string", "null"]},
		"session_name": {"type": ["string", "null"]},
		"session_context": {"type": ["object", "null"]}
	}
}`

// Validator checks submission bodies against the envelope schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the envelope schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := "https://hookline.dev/schemas/event.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("failed to load envelope schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates body against the envelope schema and unmarshals it into
// an Event. Any failure wraps ErrMalformed; the wrapped detail is safe to
// return to the producer.
func (v *Validator) Decode(body []byte) (*Event, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}
	if err := v.schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Submissions must not carry store-assigned fields.
	ev.ID = 0
	ev.ReceivedAt = time.Time{}

	// JSON null for an optional field is treated as absent.
	ev.Chat = dropNull(ev.Chat)
	ev.SessionContext = dropNull(ev.SessionContext)

	return &ev, nil
}

func dropNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
