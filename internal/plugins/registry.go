package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/logging"
	"github.com/tachyon-beep/storyteller/internal/services"
)

// ResourceLoader reads a file from a plugin's resource directory.
type ResourceLoader interface {
	LoadPluginResource(plugin, file string) (string, error)
}

type entry struct {
	plugin Plugin
	repair bool
	retry  bool
}

// Registry holds one plugin instance per enabled config entry. It is
// immutable after construction.
type Registry struct {
	entries map[string]entry
}

// Info summarizes a loaded plugin for display.
type Info struct {
	Name          string
	Format        string
	Extension     string
	Repair        bool
	Retry         bool
	DefaultSchema bool
	Guidance      bool
}

// NewRegistry validates every entry before instantiating any plugin, then
// loads the enabled ones. Missing resource files are logged and skipped.
func NewRegistry(cfgs map[string]config.Plugin, resources ResourceLoader, logger *slog.Logger) (*Registry, error) {
	logger = logging.NewComponentLogger(logger, "plugins")
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	slices.Sort(names)

	var problems []error
	for _, name := range names {
		if err := checkEntry(name, cfgs[name]); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) > 0 {
		return nil, services.Wrap(services.ErrPlugin, "plugins", "load", "invalid plugin configuration", errors.Join(problems...))
	}

	r := &Registry{entries: make(map[string]entry, len(cfgs))}
	for _, name := range names {
		cfg := cfgs[name]
		if !cfg.IsEnabled() {
			logger.Debug("plugin disabled", logging.String(logging.FieldPlugin, name))
			continue
		}
		settings := Settings{
			Name:          name,
			Format:        cfg.Format,
			Tag:           cfg.Tag,
			Guidance:      loadResource(resources, logger, name, "guidance", cfg.Guidance),
			DefaultSchema: loadResource(resources, logger, name, "default_schema", cfg.DefaultSchema),
			RepairPrompt:  loadResource(resources, logger, name, "repair_prompt", cfg.RepairPrompt),
			Logger:        logger,
		}
		plugin, err := Factories[cfg.Format](settings)
		if err != nil {
			return nil, services.Wrap(services.ErrPlugin, "plugins", "load", name, err)
		}
		r.entries[name] = entry{plugin: plugin, repair: cfg.Repair, retry: cfg.Retry}
		logger.Debug("plugin loaded",
			logging.String(logging.FieldPlugin, name),
			logging.String("format", cfg.Format),
			logging.Bool("repair", cfg.Repair),
			logging.Bool("retry", cfg.Retry),
		)
	}
	return r, nil
}

func checkEntry(name string, cfg config.Plugin) error {
	var missing []string
	if cfg.Enabled == nil {
		missing = append(missing, "enabled")
	}
	if strings.TrimSpace(cfg.Format) == "" {
		missing = append(missing, "format")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		missing = append(missing, "dir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("plugin %q missing required fields: %s", name, strings.Join(missing, ", "))
	}
	if _, ok := Factories[cfg.Format]; !ok {
		return fmt.Errorf("plugin %q: unknown format %q", name, cfg.Format)
	}
	return nil
}

func loadResource(resources ResourceLoader, logger *slog.Logger, plugin, kind, file string) string {
	if resources == nil || strings.TrimSpace(file) == "" {
		return ""
	}
	text, err := resources.LoadPluginResource(plugin, file)
	if err != nil {
		logging.WarnWithContext(logger, "plugin resource unavailable", "plugin_resource_missing",
			logging.String(logging.FieldPlugin, plugin),
			logging.String("resource", kind),
			logging.Error(err),
			logging.String(logging.FieldImpact, "plugin runs without this resource"),
			logging.String(logging.FieldErrorHint, "check the plugins directory"),
		)
		return ""
	}
	return text
}

// Get returns the named plugin.
func (r *Registry) Get(name string) (Plugin, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, services.Wrap(services.ErrPlugin, "plugins", "lookup", fmt.Sprintf("plugin %q is not loaded", name), nil)
	}
	return e.plugin, nil
}

// RepairEnabled reports whether invalid content from the plugin may be repaired.
func (r *Registry) RepairEnabled(name string) bool {
	return r.entries[name].repair
}

// RetryEnabled reports whether invalid content from the plugin may be regenerated.
func (r *Registry) RetryEnabled(name string) bool {
	return r.entries[name].retry
}

// Names returns the loaded plugin names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int { return len(r.entries) }

// Info describes every loaded plugin, sorted by name.
func (r *Registry) Info() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, name := range r.Names() {
		e := r.entries[name]
		out = append(out, Info{
			Name:          name,
			Format:        e.plugin.Format(),
			Extension:     e.plugin.Extension(),
			Repair:        e.repair,
			Retry:         e.retry,
			DefaultSchema: e.plugin.DefaultSchema() != "",
			Guidance:      e.plugin.Guidance() != "",
		})
	}
	return out
}
