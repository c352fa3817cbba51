package plugins

import "context"

// subtextPlugin accepts any extracted content. It has nothing to validate or
// repair, so both repair paths hand the content back untouched.
type subtextPlugin struct {
	base
}

func newSubtext(s Settings) (Plugin, error) {
	return &subtextPlugin{base: newBase(s, "subtext", "txt", "SUBTEXT", "{CONTENT}")}, nil
}

func (p *subtextPlugin) ExtractContent(raw string) string {
	if inner, ok := p.between(raw); ok {
		return inner
	}
	p.logger.Debug("subtext markers missing, keeping full response")
	return raw
}

func (p *subtextPlugin) Process(content string) (string, error) {
	return p.ExtractContent(content), nil
}

func (p *subtextPlugin) ValidateContent(string, string) error { return nil }

func (p *subtextPlugin) Repair(content string) (string, error) { return content, nil }

func (p *subtextPlugin) AttemptRepair(_ context.Context, req RepairRequest) (string, error) {
	return req.Content, nil
}

func (p *subtextPlugin) Serialize(content string) (string, error) { return content, nil }

func (p *subtextPlugin) Deserialize(content string) (any, error) { return content, nil }
