package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tachyon-beep/storyteller/internal/services"
)

const textRepairTemplate = `The text below does not meet its requirements.

Problems:
{VALIDATION_ERRORS}

Requirements:
{SCHEMA}

Text:
{CONTENT}

Rewrite the text so it meets the requirements. Return only the rewritten text.`

type textPlugin struct {
	base
}

// lengthSchema is the subset of JSON schema the text format understands.
type lengthSchema struct {
	MinLength *int `json:"minLength"`
	MaxLength *int `json:"maxLength"`
}

func newText(s Settings) (Plugin, error) {
	p := &textPlugin{base: newBase(s, "text", "txt", "", textRepairTemplate)}
	if p.defaultSchema != "" {
		if _, err := parseLengthSchema(p.defaultSchema); err != nil {
			return nil, fmt.Errorf("text plugin %s: default schema: %w", p.name, err)
		}
	}
	return p, nil
}

func parseLengthSchema(schema string) (lengthSchema, error) {
	var out lengthSchema
	if err := json.Unmarshal([]byte(schema), &out); err != nil {
		return out, fmt.Errorf("parse schema: %w", err)
	}
	return out, nil
}

// ExtractContent returns the tagged block when a tag is configured and
// present, and the whole trimmed response otherwise.
func (p *textPlugin) ExtractContent(raw string) string {
	if inner, ok := p.between(raw); ok {
		return inner
	}
	return strings.TrimSpace(raw)
}

func (p *textPlugin) Process(content string) (string, error) {
	return content, nil
}

// ValidateContent enforces minLength and maxLength, counted in characters.
func (p *textPlugin) ValidateContent(content, schema string) error {
	if schema == "" {
		return nil
	}
	bounds, err := parseLengthSchema(schema)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, p.name, "validate", "unusable schema", err)
	}
	length := utf8.RuneCountInString(content)
	if bounds.MinLength != nil && length < *bounds.MinLength {
		return invalid(fmt.Sprintf("Text is too short. Minimum length: %d, Actual length: %d", *bounds.MinLength, length))
	}
	if bounds.MaxLength != nil && length > *bounds.MaxLength {
		return invalid(fmt.Sprintf("Text is too long. Maximum length: %d, Actual length: %d", *bounds.MaxLength, length))
	}
	return nil
}

func (p *textPlugin) Repair(content string) (string, error) {
	return content, nil
}

func (p *textPlugin) AttemptRepair(ctx context.Context, req RepairRequest) (string, error) {
	return p.modelRepair(ctx, p, req)
}

func (p *textPlugin) Serialize(content string) (string, error) {
	return content, nil
}

func (p *textPlugin) Deserialize(content string) (any, error) {
	return content, nil
}
