package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeBatch()
	c.normalizeContentProcessing()
	c.normalizeStorage()
	c.normalizePlugins()
	c.normalizeStages()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	root := strings.TrimSpace(c.Paths.Root)
	if root == "" {
		root = defaultRoot
	}
	var err error
	if c.Paths.Root, err = expandPath(root); err != nil {
		return fmt.Errorf("paths.root: %w", err)
	}

	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.prompts_dir", &c.Paths.PromptsDir, defaultPromptsDir},
		{"paths.schemas_dir", &c.Paths.SchemasDir, defaultSchemasDir},
		{"paths.plugins_dir", &c.Paths.PluginsDir, defaultPluginsDir},
		{"paths.data_dir", &c.Paths.DataDir, defaultDataDir},
		{"paths.guidance_dir", &c.Paths.GuidanceDir, defaultGuidanceDir},
		{"paths.batch_storage", &c.Paths.BatchStorage, defaultBatchStorage},
		{"paths.ephemeral_storage", &c.Paths.EphemeralStorage, defaultEphemeralStorage},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		value := strings.TrimSpace(*field.value)
		if value == "" {
			value = field.fallback
		}
		if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
			value = filepath.Join(c.Paths.Root, value)
		}
		if *field.value, err = expandPath(value); err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Type = strings.ToLower(strings.TrimSpace(c.LLM.Type))
	if c.LLM.Type == "" {
		c.LLM.Type = defaultLLMType
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		switch c.LLM.Type {
		case "gemini":
			c.LLM.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		default:
			c.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" && c.LLM.Type != "gemini" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
		if c.LLM.Type == "gemini" {
			c.LLM.Model = defaultGeminiModel
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
}

func (c *Config) normalizeBatch() {
	c.Batch.Name = strings.TrimSpace(c.Batch.Name)
	if c.Batch.Name == "" {
		c.Batch.Name = defaultBatchName
	}
	if c.Batch.KeepFolders < 0 {
		c.Batch.KeepFolders = 0
	}
	if c.Batch.MaxAgeDays < 0 {
		c.Batch.MaxAgeDays = 0
	}
}

func (c *Config) normalizeContentProcessing() {
	c.ContentProcessing.Strategy = strings.ToLower(strings.TrimSpace(c.ContentProcessing.Strategy))
	if c.ContentProcessing.Strategy == "" {
		c.ContentProcessing.Strategy = defaultStrategy
	}
	if c.ContentProcessing.RepairTimeoutSeconds <= 0 {
		c.ContentProcessing.RepairTimeoutSeconds = defaultRepairTimeoutSeconds
	}
}

func (c *Config) normalizeStorage() {
	if c.Storage.RetryAttempts <= 0 {
		c.Storage.RetryAttempts = 1
	}
	if c.Storage.RetryBaseDelayMilli < 0 {
		c.Storage.RetryBaseDelayMilli = 0
	}
}

// normalizePlugins lowercases plugin keys and formats.
func (c *Config) normalizePlugins() {
	if len(c.Plugins) == 0 {
		return
	}
	normalized := make(map[string]Plugin, len(c.Plugins))
	for name, entry := range c.Plugins {
		entry.Format = strings.ToLower(strings.TrimSpace(entry.Format))
		entry.Dir = strings.TrimSpace(entry.Dir)
		entry.Tag = strings.TrimSpace(entry.Tag)
		normalized[strings.ToLower(strings.TrimSpace(name))] = entry
	}
	c.Plugins = normalized
}

func (c *Config) normalizeStages() {
	for i := range c.Stages {
		stg := &c.Stages[i]
		stg.Name = strings.TrimSpace(stg.Name)
		for j := range stg.Phases {
			phase := &stg.Phases[j]
			phase.Name = strings.TrimSpace(phase.Name)
			phase.PromptFile = strings.TrimSpace(phase.PromptFile)
			phase.Plugin = strings.ToLower(strings.TrimSpace(phase.Plugin))
			if phase.Plugin == "" {
				phase.Plugin = "text"
			}
			phase.Schema = strings.TrimSpace(phase.Schema)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.StageOverrides) > 0 {
		overrides := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			overrides[strings.ToLower(strings.TrimSpace(stage))] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.StageOverrides = overrides
	}
}
