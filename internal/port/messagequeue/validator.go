package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchema = `{
	"type": "object",
	"required": ["event_type", "organization_id"],
	"properties": {
		"event_type": {"type": "string"},
		"organization_id": {"type": "string", "minLength": 1},
		"zone_id": {"type": "string"},
		"target_ids": {"type": ["array", "null"], "items": {"type": "string"}},
		"payload": {"type": ["object", "null"]},
		"occurred_at": {"type": "string"}
	}
}`

// payloadSchemas constrain the payload of events that subscribers decode.
// Other governance events accept any payload object.
var payloadSchemas = map[string]string{
	EventReviewersSelected: `{
		"type": "object",
		"properties": {
			"proposal_id": {"type": "string"},
			"reviewers": {"type": "array", "items": {"type": "string"}},
			"selected_by": {"type": "string"}
		}
	}`,
	EventProposalResolved: `{
		"type": "object",
		"properties": {
			"proposal_id": {"type": "string"},
			"status": {"type": "string"}
		}
	}`,
	EventZoneStatusChanged: `{
		"type": "object",
		"properties": {
			"status": {"type": "string"},
			"cascaded_zone_ids": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	EventAgentCheckinFailed: `{
		"type": "object",
		"properties": {
			"agent_id": {"type": "string"},
			"wake_attempts": {"type": "integer", "minimum": 0}
		}
	}`,
	EventEvaluationCreated: `{
		"type": "object",
		"required": ["evaluation_id"],
		"properties": {
			"evaluation_id": {"type": "string", "minLength": 1}
		}
	}`,
}

type schemaSet struct {
	envelope *jsonschema.Schema
	payload  map[string]*jsonschema.Schema
}

var schemas = sync.OnceValues(func() (*schemaSet, error) {
	c := jsonschema.NewCompiler()
	compile := func(name, src string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%s schema: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("%s schema: %w", name, err)
		}
		return c.Compile(name)
	}

	set := &schemaSet{payload: make(map[string]*jsonschema.Schema, len(payloadSchemas))}
	var err error
	if set.envelope, err = compile("envelope.json", envelopeSchema); err != nil {
		return nil, err
	}
	for event, src := range payloadSchemas {
		if set.payload[event], err = compile(event+".json", src); err != nil {
			return nil, err
		}
	}
	return set, nil
})

// Validate checks a message before its handler runs. Every subject must
// carry JSON; governance subjects must also match the event envelope, and
// the payload schema registered for their event type. Dead letters are
// passed through as stored.
func Validate(subject string, data []byte) error {
	if IsDeadLetter(subject) {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	event, ok := strings.CutPrefix(subject, SubjectGovernance+".")
	if !ok {
		return nil
	}

	set, err := schemas()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if err := set.envelope.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}

	obj := doc.(map[string]any)
	if obj["event_type"] != event {
		return fmt.Errorf("schema validation failed for %s: event_type %q does not match subject", subject, obj["event_type"])
	}
	s, ok := set.payload[event]
	if !ok || obj["payload"] == nil {
		return nil
	}
	if err := s.Validate(obj["payload"]); err != nil {
		return fmt.Errorf("schema validation failed for %s payload: %w", subject, err)
	}
	return nil
}
