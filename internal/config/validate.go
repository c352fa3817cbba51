package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are not checked
// here so that read-only commands work without an API key; the LLM adapter
// rejects a missing key when it is initialized.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateContentProcessing(); err != nil {
		return err
	}
	if err := c.validatePlugins(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validatePlaceholders(); err != nil {
		return err
	}
	return nil
}

func validTemperature(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0 && value <= 2
}

func (c *Config) validateLLM() error {
	switch c.LLM.Type {
	case "openrouter", "openai", "gemini":
	default:
		return fmt.Errorf("llm.type must be one of openrouter, openai, gemini (got %q)", c.LLM.Type)
	}
	if !validTemperature(c.LLM.DefaultTemperature) {
		return errors.New("llm.default_temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Size < 1 {
		return errors.New("batch.size must be at least 1")
	}
	if c.Batch.StartingID < 0 {
		return errors.New("batch.starting_id must be non-negative")
	}
	return nil
}

func (c *Config) validateContentProcessing() error {
	if c.ContentProcessing.MaxRetries < 0 {
		return errors.New("content_processing.max_retries must be non-negative")
	}
	switch c.ContentProcessing.Strategy {
	case "default", "repair_only":
	default:
		return fmt.Errorf("content_processing.strategy must be default or repair_only (got %q)", c.ContentProcessing.Strategy)
	}
	if !validTemperature(c.ContentProcessing.RepairTemperature) {
		return errors.New("content_processing.repair_temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePlugins() error {
	for name, entry := range c.Plugins {
		if entry.Enabled == nil {
			return fmt.Errorf("plugins.%s.enabled must be set", name)
		}
		if entry.Format == "" {
			return fmt.Errorf("plugins.%s.format must be set", name)
		}
		if entry.Dir == "" {
			return fmt.Errorf("plugins.%s.dir must be set", name)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	seen := make(map[string]struct{}, len(c.Stages))
	for i, stg := range c.Stages {
		if stg.Name == "" {
			return fmt.Errorf("stages[%d].name must be set", i)
		}
		if _, dup := seen[stg.Name]; dup {
			return fmt.Errorf("stage %q is defined more than once", stg.Name)
		}
		seen[stg.Name] = struct{}{}
		if len(stg.Phases) == 0 {
			return fmt.Errorf("stage %q must define at least one phase", stg.Name)
		}
		phases := make(map[string]struct{}, len(stg.Phases))
		for j, phase := range stg.Phases {
			key := fmt.Sprintf("stage %q phase[%d]", stg.Name, j)
			if phase.Name == "" {
				return fmt.Errorf("%s: name must be set", key)
			}
			if _, dup := phases[phase.Name]; dup {
				return fmt.Errorf("stage %q: phase %q is defined more than once", stg.Name, phase.Name)
			}
			phases[phase.Name] = struct{}{}
			if phase.PromptFile == "" {
				return fmt.Errorf("stage %q phase %q: prompt_file must be set", stg.Name, phase.Name)
			}
			if phase.Temperature != nil && !validTemperature(*phase.Temperature) {
				return fmt.Errorf("stage %q phase %q: temperature must be between 0 and 2", stg.Name, phase.Name)
			}
			if _, ok := c.Plugins[phase.Plugin]; !ok {
				return fmt.Errorf("stage %q phase %q: plugin %q is not configured", stg.Name, phase.Name, phase.Plugin)
			}
		}
	}
	return nil
}

func (c *Config) validatePlaceholders() error {
	for key, entry := range c.Placeholders {
		if strings.TrimSpace(entry.Tag) == "" {
			return fmt.Errorf("placeholders.%s.tag must be set", key)
		}
		if strings.TrimSpace(entry.Source) == "" {
			return fmt.Errorf("placeholders.%s.source must be set", key)
		}
		if entry.Count < 1 {
			return fmt.Errorf("placeholders.%s.count must be at least 1", key)
		}
	}
	return nil
}
