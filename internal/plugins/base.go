package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/services"
)

const noSchemaText = "No schema available"

// base holds the settings shared by every format.
type base struct {
	name           string
	format         string
	ext            string
	guidance       string
	defaultSchema  string
	repairTemplate string
	startTag       string
	endTag         string
	logger         *slog.Logger
}

func newBase(s Settings, format, ext, defaultTag, defaultTemplate string) base {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = format
	}
	tag := strings.TrimSpace(s.Tag)
	if tag == "" {
		tag = defaultTag
	}
	b := base{
		name:           name,
		format:         format,
		ext:            ext,
		guidance:       s.Guidance,
		defaultSchema:  strings.TrimSpace(s.DefaultSchema),
		repairTemplate: s.RepairPrompt,
		logger:         logging.NewComponentLogger(s.Logger, "plugins").With(logging.String(logging.FieldPlugin, name)),
	}
	if strings.TrimSpace(b.repairTemplate) == "" {
		b.repairTemplate = defaultTemplate
	}
	if tag != "" {
		b.startTag, b.endTag = Delimiters(tag)
	}
	return b
}

// Delimiters returns the start and end markers that wrap a tagged payload.
func Delimiters(tag string) (string, string) {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	return "%%% " + tag + " START %%%", "%%% " + tag + " END %%%"
}

func (b *base) Name() string          { return b.name }
func (b *base) Format() string        { return b.format }
func (b *base) Extension() string     { return b.ext }
func (b *base) Guidance() string      { return b.guidance }
func (b *base) DefaultSchema() string { return b.defaultSchema }

// between returns the trimmed text between the configured tags, or ok=false
// when the tags are absent or out of order.
func (b *base) between(raw string) (string, bool) {
	if b.startTag == "" {
		return "", false
	}
	start := strings.Index(raw, b.startTag)
	end := strings.Index(raw, b.endTag)
	if start == -1 || end == -1 || start >= end {
		return "", false
	}
	return strings.TrimSpace(raw[start+len(b.startTag) : end]), true
}

func (b *base) formatError(op string, err error) error {
	return services.Wrap(services.ErrFormat, b.name, op, "malformed content", err)
}

// BuildRepairPrompt fills a repair template. Substitution is single pass so
// placeholders that appear inside the content are left alone.
func BuildRepairPrompt(template, content, schema, validationErrors string) string {
	if strings.TrimSpace(schema) == "" {
		schema = noSchemaText
	}
	return strings.NewReplacer(
		"{CONTENT}", content,
		"{SCHEMA}", schema,
		"{VALIDATION_ERRORS}", validationErrors,
	).Replace(template)
}

// modelRepair runs one model-assisted repair for p: build the prompt, audit
// it, generate, audit the response, then process and validate the result.
func (b *base) modelRepair(ctx context.Context, p Plugin, req RepairRequest) (string, error) {
	if req.Generator == nil {
		return "", errors.New("repair: no generator")
	}
	detail := "No validation errors"
	if err := p.ValidateContent(req.Content, req.Schema); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return "", fmt.Errorf("repair: %w", err)
		}
		detail = verr.Detail()
	}
	prompt := BuildRepairPrompt(b.repairTemplate, req.Content, req.Schema, detail)
	b.audit(ctx, req, content.IdentifierRepairPrompt, "txt", prompt)

	genCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	b.logger.Debug("requesting model repair",
		logging.String(logging.FieldStage, req.Stage),
		logging.String(logging.FieldPhase, req.Phase),
		logging.Float64("temperature", req.Temperature),
		logging.Duration("timeout", req.Timeout),
	)
	response, err := req.Generator.Generate(genCtx, prompt, req.Temperature)
	if err != nil {
		return "", fmt.Errorf("repair: generate: %w", err)
	}
	b.audit(ctx, req, content.IdentifierRepairedContent, b.ext, response)

	processed, err := p.Process(p.ExtractContent(response))
	if err != nil {
		return "", fmt.Errorf("repair: %w", err)
	}
	if err := p.ValidateContent(processed, req.Schema); err != nil {
		return "", fmt.Errorf("repair: repaired content still invalid: %w", err)
	}
	return processed, nil
}

func (b *base) audit(ctx context.Context, req RepairRequest, identifier, ext, text string) {
	if req.Store == nil {
		return
	}
	packet := content.New(text, content.Identity{
		Stage:      req.Stage,
		Phase:      req.Phase,
		Plugin:     b.name,
		Identifier: identifier,
		Extension:  ext,
	}, nil)
	if err := req.Store.SaveEphemeral(ctx, packet); err != nil {
		logging.WarnWithContext(b.logger, "failed to save repair audit copy", "repair_audit",
			logging.String("identifier", identifier),
			logging.Error(err),
			logging.String(logging.FieldImpact, "repair continues without an audit copy"),
			logging.String(logging.FieldErrorHint, "check ephemeral storage permissions"),
		)
	}
}
