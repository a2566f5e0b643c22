package zone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
)

const stringList = `{"type": "array", "items": {"type": "string"}}`

// policySchemas maps each JSON policy block to the schema its documents
// must satisfy. Unknown keys are allowed so organizations can annotate
// policies freely.
var policySchemas = map[string]string{
	"responsibilities":       `{"type": "object"}`,
	"agent_qualifications":   `{"type": "object"}`,
	"alignment_requirements": `{"type": "object"}`,
	"incentive_model":        `{"type": "object"}`,
	"evaluation_criteria":    `{"type": "object"}`,
	"constraints": `{
		"type": "object",
		"properties": {
			"blocked_actions": ` + stringList + `,
			"allowed_actions": ` + stringList + `,
			"max_concurrent_tasks": {"type": "integer", "minimum": 0},
			"require_human_review": {"type": "boolean"}
		}
	}`,
	"resource_scope": `{
		"type": "object",
		"properties": {
			"allowed_boards": ` + stringList + `,
			"allowed_agent_types": ` + stringList + `,
			"budget_limit": {"type": "number", "minimum": 0}
		}
	}`,
	"decision_model": `{
		"type": "object",
		"properties": {
			"model_type": {"enum": ["unilateral", "threshold", "majority", "weighted", "consensus"]},
			"threshold": {"type": "integer", "minimum": 1},
			"timeout_hours": {"type": "integer", "minimum": 1},
			"fallback_model": {"type": "string"},
			"static_reviewers": ` + stringList + `
		}
	}`,
	"approval_policy": `{
		"type": "object",
		"properties": {
			"static_reviewers": ` + stringList + `,
			"reviewer_selection_strategy": {"type": "string"},
			"auto_approve_types": ` + stringList + `,
			"max_reviewers": {"type": "integer", "minimum": 1}
		}
	}`,
	"escalation_policy": `{
		"type": "object",
		"properties": {
			"cosigner_threshold": {"type": "integer"},
			"max_escalations_per_day": {"type": "integer", "minimum": 0},
			"auto_escalate_after_hours": {"type": "number", "exclusiveMinimum": 0},
			"target_zone_id": {"type": "string", "pattern": "^[0-9a-fA-F-]{36}$"}
		}
	}`,
}

var compiledSchemas = sync.OnceValues(compilePolicySchemas)

func compilePolicySchemas() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(policySchemas))
	for name, src := range policySchemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		url := name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// ValidatePolicyDocuments checks every policy block present in a zone
// create or update body against its schema. Keys that are not policy blocks
// are ignored; null blocks are accepted.
func ValidatePolicyDocuments(body []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return fmt.Errorf("policy schemas: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return domain.Validationf("request body must be a JSON object")
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := schemas[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		raw := bytes.TrimSpace(fields[name])
		if bytes.Equal(raw, []byte("null")) {
			continue
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return domain.Validationf("%s: invalid JSON", name)
		}
		if err := schemas[name].Validate(doc); err != nil {
			return domain.Validationf("%s: %v", name, err)
		}
	}
	return nil
}
