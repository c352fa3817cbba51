package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tachyon-beep/storyteller/internal/services"
)

type listPlugin struct {
	base
}

// itemSchema is the subset of JSON schema the list format understands.
type itemSchema struct {
	MinItems *int `json:"minItems"`
	MaxItems *int `json:"maxItems"`
}

func newList(s Settings) (Plugin, error) {
	return &listPlugin{base: newBase(s, "list", "lst", "LIST", "")}, nil
}

func (p *listPlugin) ExtractContent(raw string) string {
	if inner, ok := p.between(raw); ok {
		return inner
	}
	return raw
}

// Process drops blank lines and keeps the rest verbatim.
func (p *listPlugin) Process(content string) (string, error) {
	return strings.Join(listItems(p.ExtractContent(content)), "\n"), nil
}

func listItems(content string) []string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	items := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			items = append(items, line)
		}
	}
	return items
}

func (p *listPlugin) ValidateContent(content, schema string) error {
	if schema == "" {
		return nil
	}
	var bounds itemSchema
	if err := json.Unmarshal([]byte(schema), &bounds); err != nil {
		return services.Wrap(services.ErrConfiguration, p.name, "validate", "unusable schema", err)
	}
	count := len(listItems(content))
	if count == 0 {
		return invalid("List is empty")
	}
	if bounds.MinItems != nil && count < *bounds.MinItems {
		return invalid(fmt.Sprintf("List is too short. Minimum items: %d, Actual items: %d", *bounds.MinItems, count))
	}
	if bounds.MaxItems != nil && count > *bounds.MaxItems {
		return invalid(fmt.Sprintf("List is too long. Maximum items: %d, Actual items: %d", *bounds.MaxItems, count))
	}
	return nil
}

func (p *listPlugin) Repair(string) (string, error) {
	return "", ErrRepairUnsupported
}

func (p *listPlugin) AttemptRepair(context.Context, RepairRequest) (string, error) {
	return "", ErrRepairUnsupported
}

func (p *listPlugin) Serialize(content string) (string, error) { return content, nil }

func (p *listPlugin) Deserialize(content string) (any, error) {
	return strings.Split(content, "\n"), nil
}
