package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout. Relative entries are resolved against Root.
type Paths struct {
	Root             string `toml:"root" yaml:"root"`
	PromptsDir       string `toml:"prompts_dir" yaml:"prompts_dir"`
	SchemasDir       string `toml:"schemas_dir" yaml:"schemas_dir"`
	PluginsDir       string `toml:"plugins_dir" yaml:"plugins_dir"`
	DataDir          string `toml:"data_dir" yaml:"data_dir"`
	GuidanceDir      string `toml:"guidance_dir" yaml:"guidance_dir"`
	BatchStorage     string `toml:"batch_storage" yaml:"batch_storage"`
	EphemeralStorage string `toml:"ephemeral_storage" yaml:"ephemeral_storage"`
	OutputDir        string `toml:"output_dir" yaml:"output_dir"`
	LogDir           string `toml:"log_dir" yaml:"log_dir"`
}

// LLM contains model adapter settings.
type LLM struct {
	Type               string  `toml:"type" yaml:"type"`
	DefaultTemperature float64 `toml:"default_temperature" yaml:"default_temperature"`
	PassSchema         bool    `toml:"pass_schema" yaml:"pass_schema"`
	APIKey             string  `toml:"api_key" yaml:"api_key"`
	BaseURL            string  `toml:"base_url" yaml:"base_url"`
	Model              string  `toml:"model" yaml:"model"`
	Referer            string  `toml:"referer" yaml:"referer"`
	Title              string  `toml:"title" yaml:"title"`
	TimeoutSeconds     int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries         int     `toml:"max_retries" yaml:"max_retries"`
}

// Batch controls how many pipeline runs a batch performs and how they are named.
type Batch struct {
	Size       int    `toml:"size" yaml:"size"`
	Name       string `toml:"name" yaml:"name"`
	StartingID int    `toml:"starting_id" yaml:"starting_id"`
	// KeepFolders and MaxAgeDays bound old batch folders during cleanup.
	// Zero disables the respective bound.
	KeepFolders int `toml:"keep_folders" yaml:"keep_folders"`
	MaxAgeDays  int `toml:"max_age_days" yaml:"max_age_days"`
}

// ContentProcessing contains the validate/repair/retry policy knobs.
type ContentProcessing struct {
	MaxRetries           int     `toml:"max_retries" yaml:"max_retries"`
	Strategy             string  `toml:"strategy" yaml:"strategy"`
	RepairTemperature    float64 `toml:"repair_temperature" yaml:"repair_temperature"`
	RepairTimeoutSeconds int     `toml:"repair_timeout_seconds" yaml:"repair_timeout_seconds"`
}

// Storage contains retry settings shared by every storage tier.
type Storage struct {
	RetryAttempts       int `toml:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelayMilli int `toml:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format" yaml:"format"`
	Level          string            `toml:"level" yaml:"level"`
	Development    bool              `toml:"development" yaml:"development"`
	StageOverrides map[string]string `toml:"stage_overrides" yaml:"stage_overrides"`
}

// Plugin describes one format plugin entry. Enabled, Format, and Dir are
// required; the plugin registry rejects entries missing any of them.
type Plugin struct {
	Enabled       *bool  `toml:"enabled" yaml:"enabled"`
	Format        string `toml:"format" yaml:"format"`
	Dir           string `toml:"dir" yaml:"dir"`
	Tag           string `toml:"tag" yaml:"tag"`
	Guidance      string `toml:"guidance" yaml:"guidance"`
	DefaultSchema string `toml:"default_schema" yaml:"default_schema"`
	RepairPrompt  string `toml:"repair_prompt" yaml:"repair_prompt"`
	Repair        bool   `toml:"repair" yaml:"repair"`
	Retry         bool   `toml:"retry" yaml:"retry"`
}

// IsEnabled reports whether the plugin entry is switched on.
func (p Plugin) IsEnabled() bool {
	return p.Enabled != nil && *p.Enabled
}

// Phase is a single prompt -> generate -> validate unit inside a stage.
type Phase struct {
	Name        string   `toml:"name" yaml:"name"`
	PromptFile  string   `toml:"prompt_file" yaml:"prompt_file"`
	Plugin      string   `toml:"plugin" yaml:"plugin"`
	Temperature *float64 `toml:"temperature" yaml:"temperature"`
	Schema      string   `toml:"schema" yaml:"schema"`
}

// Stage is a named, ordered group of phases.
type Stage struct {
	Name        string  `toml:"name" yaml:"name"`
	DisplayName string  `toml:"display_name" yaml:"display_name"`
	Description string  `toml:"description" yaml:"description"`
	Order       int     `toml:"order" yaml:"order"`
	Enabled     *bool   `toml:"enabled" yaml:"enabled"`
	Guidance    string  `toml:"guidance" yaml:"guidance"`
	Phases      []Phase `toml:"phases" yaml:"phases"`
}

// IsEnabled reports whether the stage takes part in runs. Stages default to enabled.
func (s Stage) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Placeholder describes a library placeholder whose values are sampled from a
// JSON data file ({"values": [...]}) on every prompt preparation.
type Placeholder struct {
	Tag             string `toml:"tag" yaml:"tag"`
	Source          string `toml:"source" yaml:"source"`
	Count           int    `toml:"count" yaml:"count"`
	AllowDuplicates bool   `toml:"allow_duplicates" yaml:"allow_duplicates"`
}

// Config encapsulates all configuration values for storyteller.
//
// Configuration sections by subsystem:
//   - Paths: prompts, schemas, plugin resources, storage tiers, logs
//   - LLM: model adapter selection and connection settings
//   - Batch: batch size, naming, and cleanup bounds
//   - ContentProcessing: retry count, strategy, repair temperature/timeout
//   - Storage: tier retry policy
//   - Logging: log format and level
//   - Plugins: format plugin entries keyed by plugin name
//   - Stages: ordered stage and phase definitions
//   - Placeholders: library placeholders used in prompts
type Config struct {
	Paths             Paths                  `toml:"paths" yaml:"paths"`
	LLM               LLM                    `toml:"llm" yaml:"llm"`
	Batch             Batch                  `toml:"batch" yaml:"batch"`
	ContentProcessing ContentProcessing      `toml:"content_processing" yaml:"content_processing"`
	Storage           Storage                `toml:"storage" yaml:"storage"`
	Logging           Logging                `toml:"logging" yaml:"logging"`
	Plugins           map[string]Plugin      `toml:"plugins" yaml:"plugins"`
	Stages            []Stage                `toml:"stages" yaml:"stages"`
	Placeholders      map[string]Placeholder `toml:"placeholders" yaml:"placeholders"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/storyteller/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Files ending in .yaml or .yml are decoded as YAML,
// everything else as TOML.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	for _, name := range []string{"storyteller.toml", "storyteller.yaml"} {
		projectPath, err := filepath.Abs(name)
		if err != nil {
			return "", false, err
		}
		if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
			return projectPath, true, nil
		}
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the storage tier and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BatchStorage, c.Paths.EphemeralStorage, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnabledStages returns enabled stages sorted by ascending Order. Stages with
// equal Order keep their configuration order.
func (c *Config) EnabledStages() []Stage {
	stages := make([]Stage, 0, len(c.Stages))
	for _, stg := range c.Stages {
		if stg.IsEnabled() {
			stages = append(stages, stg)
		}
	}
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Order < stages[j].Order
	})
	return stages
}

// LoadSchema reads a schema file from the schemas directory.
func (c *Config) LoadSchema(name string) (string, error) {
	return readText(resolveUnder(c.Paths.SchemasDir, name))
}

// LoadPrompt reads a prompt template from the prompts directory.
func (c *Config) LoadPrompt(name string) (string, error) {
	return readText(resolveUnder(c.Paths.PromptsDir, name))
}

// LoadPluginResource reads a file (guidance, schema, repair template) that
// belongs to the named plugin's resource directory.
func (c *Config) LoadPluginResource(plugin, file string) (string, error) {
	entry, ok := c.Plugins[plugin]
	if !ok {
		return "", fmt.Errorf("plugin %q is not configured", plugin)
	}
	dir := entry.Dir
	if dir == "" {
		dir = plugin
	}
	return readText(resolveUnder(resolveUnder(c.Paths.PluginsDir, dir), file))
}

// LoadGuidance reads a guidance file from the guidance directory.
func (c *Config) LoadGuidance(name string) (string, error) {
	return readText(resolveUnder(c.Paths.GuidanceDir, name))
}

// DataPath returns the absolute path of a placeholder data file.
func (c *Config) DataPath(name string) string {
	return resolveUnder(c.Paths.DataDir, name)
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func resolveUnder(base, name string) string {
	if filepath.IsAbs(name) || base == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(base, name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
