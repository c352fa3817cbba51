package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
)

const jsonRepairTemplate = `The JSON below failed validation.

Validation errors:
{VALIDATION_ERRORS}

It must satisfy this JSON schema:
{SCHEMA}

Invalid JSON:
{CONTENT}

Return only the corrected JSON between %%% JSON START %%% and %%% JSON END %%%.`

type jsonPlugin struct {
	base

	mu      sync.Mutex
	schemas map[string]*jsonschema.Resolved
}

func newJSON(s Settings) (Plugin, error) {
	p := &jsonPlugin{
		base:    newBase(s, "json", "json", "JSON", jsonRepairTemplate),
		schemas: make(map[string]*jsonschema.Resolved),
	}
	if p.defaultSchema != "" {
		if _, err := p.resolve(p.defaultSchema); err != nil {
			return nil, fmt.Errorf("json plugin %s: default schema: %w", p.name, err)
		}
	}
	return p, nil
}

// ExtractContent prefers tagged content, then falls back to the whole
// response with any markdown fence removed.
func (p *jsonPlugin) ExtractContent(raw string) string {
	if inner, ok := p.between(raw); ok {
		return llm.StripCodeFence(inner)
	}
	return llm.StripCodeFence(raw)
}

// Process pretty-prints the JSON with two-space indentation, keeping key order.
func (p *jsonPlugin) Process(content string) (string, error) {
	return p.indent(p.ExtractContent(content), "process")
}

func (p *jsonPlugin) indent(content, op string) (string, error) {
	data := []byte(content)
	if !json.Valid(data) {
		var probe any
		err := json.Unmarshal(data, &probe)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return "", p.formatError(op, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return "", p.formatError(op, err)
	}
	return buf.String(), nil
}

func (p *jsonPlugin) ValidateContent(content, schema string) error {
	if schema == "" {
		return nil
	}
	resolved, err := p.resolve(schema)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, p.name, "validate", "unusable schema", err)
	}
	var instance any
	if err := json.Unmarshal([]byte(content), &instance); err != nil {
		return invalid("content is not valid JSON: " + err.Error())
	}
	if err := resolved.Validate(instance); err != nil {
		return invalid(err.Error())
	}
	return nil
}

func (p *jsonPlugin) resolve(schema string) (*jsonschema.Resolved, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if resolved, ok := p.schemas[schema]; ok {
		return resolved, nil
	}
	var parsed jsonschema.Schema
	if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := parsed.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	p.schemas[schema] = resolved
	return resolved, nil
}

// Repair re-formats parseable JSON and otherwise falls back to an empty object.
func (p *jsonPlugin) Repair(content string) (string, error) {
	if out, err := p.indent(p.ExtractContent(content), "repair"); err == nil {
		return out, nil
	}
	return "{}", nil
}

func (p *jsonPlugin) AttemptRepair(ctx context.Context, req RepairRequest) (string, error) {
	return p.modelRepair(ctx, p, req)
}

func (p *jsonPlugin) Serialize(content string) (string, error) {
	return p.indent(content, "serialize")
}

func (p *jsonPlugin) Deserialize(content string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, p.formatError("deserialize", err)
	}
	return out, nil
}
