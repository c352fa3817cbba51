package content

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Well-known identifiers used in file names.
const (
	IdentifierPrompt          = "prompt"
	IdentifierResponse        = "response"
	IdentifierRepairPrompt    = "repair_prompt"
	IdentifierRepairedContent = "repaired_content"
	invalidPrefix             = "invalid_"
)

// Well-known metadata keys and values.
const (
	MetaPrompt         = "prompt"
	MetaContentType    = "content_type"
	MetaRequestID      = "request_id"
	ContentTypeInvalid = "invalid"
)

// InvalidIdentifier returns the identifier used to audit content that failed validation.
func InvalidIdentifier(at time.Time) string {
	return invalidPrefix + at.Format("20060102_150405")
}

// IsInvalidIdentifier reports whether identifier was produced by InvalidIdentifier.
func IsInvalidIdentifier(identifier string) bool {
	return strings.HasPrefix(identifier, invalidPrefix)
}

// MissingAttributeError is returned when an unset identity field is read.
type MissingAttributeError struct {
	Field string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("content packet attribute %q is not set", e.Field)
}

// Identity names a packet. Empty fields stay unset.
type Identity struct {
	Stage      string
	Phase      string
	Plugin     string
	Identifier string
	Extension  string
}

// Packet carries generated content and the identity used to store it.
type Packet struct {
	Content  string
	Metadata map[string]string

	fileName  string
	extension string
	plugin    string
	stage     string
	phase     string
}

// New builds a packet whose file name follows the naming contract. The
// metadata map is copied.
func New(content string, id Identity, metadata map[string]string) *Packet {
	p := &Packet{
		Content:   content,
		Metadata:  make(map[string]string, len(metadata)),
		extension: id.Extension,
		plugin:    id.Plugin,
		stage:     id.Stage,
		phase:     id.Phase,
	}
	maps.Copy(p.Metadata, metadata)
	if id.Stage != "" && id.Phase != "" && id.Identifier != "" {
		p.fileName = FileName(id.Stage, id.Phase, id.Identifier, id.Extension)
	}
	return p
}

// FromFile rebuilds a packet for an existing stored file. The stage, phase,
// and extension are recovered from the name when it follows the naming
// contract; plugin is left as given.
func FromFile(name, plugin, content string) *Packet {
	p := &Packet{Content: content, Metadata: map[string]string{}, fileName: name, plugin: plugin}
	if stage, phase, _, ext, ok := ParseFileName(name); ok {
		p.stage, p.phase, p.extension = stage, phase, ext
	}
	return p
}

// FileName renders the naming contract. An empty extension omits the dot.
func FileName(stage, phase, identifier, extension string) string {
	base := stage + "_" + phase + "_" + identifier
	if extension == "" {
		return base
	}
	return base + "." + extension
}

// ParseFileName splits a file name produced by FileName. Stage and phase
// names containing underscores cannot be recovered unambiguously; the first
// two underscore-separated tokens are taken as stage and phase.
func ParseFileName(name string) (stage, phase, identifier, extension string, ok bool) {
	stem := name
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		stem, extension = name[:dot], name[dot+1:]
	}
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], extension, true
}

func required(field, value string) (string, error) {
	if value == "" {
		return "", &MissingAttributeError{Field: field}
	}
	return value, nil
}

// FileName returns the storage key.
func (p *Packet) FileName() (string, error) { return required("file_name", p.fileName) }

// Extension returns the file extension without the dot.
func (p *Packet) Extension() (string, error) { return required("file_extension", p.extension) }

// PluginName returns the format plugin that produced the content.
func (p *Packet) PluginName() (string, error) { return required("plugin_name", p.plugin) }

// StageName returns the owning stage.
func (p *Packet) StageName() (string, error) { return required("stage_name", p.stage) }

// PhaseName returns the owning phase.
func (p *Packet) PhaseName() (string, error) { return required("phase_name", p.phase) }

// Identifier returns the identifier portion of the file name.
func (p *Packet) Identifier() (string, error) {
	name, err := p.FileName()
	if err != nil {
		return "", err
	}
	_, _, identifier, _, ok := ParseFileName(name)
	if !ok {
		return "", &MissingAttributeError{Field: "identifier"}
	}
	return identifier, nil
}

// Validate checks that every identity field is set.
func (p *Packet) Validate() error {
	for _, get := range []func() (string, error){p.FileName, p.Extension, p.PluginName, p.StageName, p.PhaseName} {
		if _, err := get(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return &c
}

// WithContent returns a copy carrying different content and the same identity.
func (p *Packet) WithContent(content string) *Packet {
	c := p.Clone()
	c.Content = content
	return c
}

// Derive returns a packet with the same stage, phase, plugin, and extension
// but a different identifier, for audit copies such as prompts and repairs.
func (p *Packet) Derive(identifier, content string) *Packet {
	return New(content, Identity{
		Stage:      p.stage,
		Phase:      p.phase,
		Plugin:     p.plugin,
		Identifier: identifier,
		Extension:  p.extension,
	}, p.Metadata)
}

// Prompt returns the originating prompt recorded in metadata.
func (p *Packet) Prompt() string {
	return p.Metadata[MetaPrompt]
}

func (p *Packet) String() string {
	name := p.fileName
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("packet %s (%d bytes)", name, len(p.Content))
}
