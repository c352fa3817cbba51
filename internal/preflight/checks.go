package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tachyon-beep/storyteller/internal/config"
	"github.com/tachyon-beep/storyteller/internal/services/llm"
)

// healthChecker is implemented by model adapters that can ping their endpoint.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckLLM verifies that the model API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cfg.MaxRetries = 1
	adapter, err := llm.New(cfg, nil)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checker, ok := adapter.(healthChecker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s adapter has no health check", cfg.Type)}
	}
	if err := checker.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%s)", cfg.Type, cfg.Model)}
}

// CheckLLMConfig reports whether the model settings look usable without
// contacting the provider.
func CheckLLMConfig(cfg config.LLM) Result {
	const name = "Model settings"
	switch {
	case strings.TrimSpace(cfg.Type) == "":
		return Result{Name: name, Detail: "llm.type missing"}
	case strings.TrimSpace(cfg.APIKey) == "":
		return Result{Name: name, Detail: "API key missing"}
	}
	detail := cfg.Type
	if cfg.Model != "" {
		detail += " / " + cfg.Model
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that the directory exists and is readable.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckPhaseResources verifies that every enabled phase's prompt template and
// schema file can be read.
func CheckPhaseResources(cfg *config.Config) Result {
	const name = "Phase resources"
	var missing []string
	phases := 0
	for _, stg := range cfg.EnabledStages() {
		for _, phase := range stg.Phases {
			phases++
			label := stg.Name + "/" + phase.Name
			if strings.TrimSpace(phase.PromptFile) == "" {
				missing = append(missing, label+": no prompt_file")
			} else if _, err := cfg.LoadPrompt(phase.PromptFile); err != nil {
				missing = append(missing, label+": prompt "+phase.PromptFile)
			}
			if phase.Schema != "" {
				if _, err := cfg.LoadSchema(phase.Schema); err != nil {
					missing = append(missing, label+": schema "+phase.Schema)
				}
			}
		}
	}
	if phases == 0 {
		return Result{Name: name, Detail: "no enabled phases"}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing " + strings.Join(missing, "; ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d phases ready", phases)}
}

// CheckPlaceholderData verifies that every library placeholder source exists.
func CheckPlaceholderData(cfg *config.Config) Result {
	const name = "Placeholder data"
	var missing []string
	for key, entry := range cfg.Placeholders {
		if _, err := os.Stat(cfg.DataPath(entry.Source)); err != nil {
			missing = append(missing, key+": "+entry.Source)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing " + strings.Join(missing, "; ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d sources ready", len(cfg.Placeholders))}
}

// summarizeLLMError produces a human-readable summary for model health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (model API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (model API unreachable)"
	}
	return err.Error()
}
