package plugins

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tachyon-beep/storyteller/internal/content"
	"github.com/tachyon-beep/storyteller/internal/services"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
)

// ErrRepairUnsupported is returned by formats that have no repair path.
var ErrRepairUnsupported = errors.New("repair not supported by format")

// Plugin is the capability set every content format implements.
type Plugin interface {
	Name() string
	Format() string
	Extension() string
	Guidance() string
	DefaultSchema() string

	// ExtractContent pulls the payload out of raw model output. It never validates.
	ExtractContent(raw string) string
	// Process normalizes extracted content. Malformed input yields an
	// error marked services.ErrFormat.
	Process(content string) (string, error)
	// ValidateContent returns nil when content satisfies schema or schema is
	// empty, a *ValidationError when it does not, and any other error when the
	// schema itself is unusable.
	ValidateContent(content, schema string) error
	Repair(content string) (string, error)
	AttemptRepair(ctx context.Context, req RepairRequest) (string, error)
	// Serialize renders processed content in its storage form and is stable
	// on its own output. Deserialize parses the storage form back into a
	// value without altering it.
	Serialize(content string) (string, error)
	Deserialize(content string) (any, error)
}

// AuditStore receives repair prompts and responses for later inspection.
type AuditStore interface {
	SaveEphemeral(ctx context.Context, packet *content.Packet) error
}

// RepairRequest carries what AttemptRepair needs for one model-assisted fix.
type RepairRequest struct {
	Content     string
	Schema      string
	Stage       string
	Phase       string
	Timeout     time.Duration
	Temperature float64
	Generator   llm.Generator
	Store       AuditStore
}

// ValidationError lists why content did not satisfy its schema.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "content failed validation"
	}
	return "content failed validation: " + strings.Join(e.Problems, "; ")
}

// Is lets errors.Is match services.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == services.ErrValidation
}

// Detail renders the problems the way repair prompts present them.
func (e *ValidationError) Detail() string {
	if len(e.Problems) == 0 {
		return "No validation errors"
	}
	return strings.Join(e.Problems, ". ")
}

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// IsInvalid reports whether err is a content validation failure rather than a
// schema or configuration problem.
func IsInvalid(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Valid is the boolean form of ValidateContent. Schema errors count as invalid.
func Valid(p Plugin, content, schema string) bool {
	return p.ValidateContent(content, schema) == nil
}

// Settings configures a plugin instance. Resource fields hold file contents,
// not file names.
type Settings struct {
	Name          string
	Format        string
	Tag           string
	Guidance      string
	DefaultSchema string
	RepairPrompt  string
	Logger        *slog.Logger
}

// Factory constructs one plugin instance.
type Factory func(Settings) (Plugin, error)

// Factories maps a format name to its constructor.
var Factories = map[string]Factory{
	"json":    newJSON,
	"text":    newText,
	"subtext": newSubtext,
	"list":    newList,
}
