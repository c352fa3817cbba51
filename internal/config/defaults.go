package config

const (
	defaultRoot                 = "~/.local/share/storyteller"
	defaultPromptsDir           = "prompts"
	defaultSchemasDir           = "schemas"
	defaultPluginsDir           = "plugins"
	defaultDataDir              = "data"
	defaultGuidanceDir          = "guidance"
	defaultBatchStorage         = "batch"
	defaultEphemeralStorage     = "ephemeral"
	defaultOutputDir            = "output"
	defaultLogDir               = "logs"
	defaultLLMType              = "openrouter"
	defaultLLMTemperature       = 0.7
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultGeminiModel          = "gemini-2.5-flash"
	defaultLLMReferer           = "https://github.com/tachyon-beep/storyteller"
	defaultLLMTitle             = "Storyteller"
	defaultLLMTimeoutSeconds    = 120
	defaultLLMMaxRetries        = 5
	defaultBatchSize            = 1
	defaultBatchName            = "story"
	defaultBatchStartingID      = 1
	defaultMaxRetries           = 3
	defaultStrategy             = "default"
	defaultRepairTemperature    = 0.2
	defaultRepairTimeoutSeconds = 120
	defaultStorageRetryAttempts = 3
	defaultStorageRetryDelayMS  = 100
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

func boolPtr(v bool) *bool { return &v }

// Default returns a Config populated with repository defaults. The four
// builtin format plugins are registered and enabled; no stages are defined.
func Default() Config {
	return Config{
		Paths: Paths{
			Root:             defaultRoot,
			PromptsDir:       defaultPromptsDir,
			SchemasDir:       defaultSchemasDir,
			PluginsDir:       defaultPluginsDir,
			DataDir:          defaultDataDir,
			GuidanceDir:      defaultGuidanceDir,
			BatchStorage:     defaultBatchStorage,
			EphemeralStorage: defaultEphemeralStorage,
			OutputDir:        defaultOutputDir,
			LogDir:           defaultLogDir,
		},
		LLM: LLM{
			Type:               defaultLLMType,
			DefaultTemperature: defaultLLMTemperature,
			BaseURL:            defaultLLMBaseURL,
			Referer:            defaultLLMReferer,
			Title:              defaultLLMTitle,
			TimeoutSeconds:     defaultLLMTimeoutSeconds,
			MaxRetries:         defaultLLMMaxRetries,
		},
		Batch: Batch{
			Size:       defaultBatchSize,
			Name:       defaultBatchName,
			StartingID: defaultBatchStartingID,
		},
		ContentProcessing: ContentProcessing{
			MaxRetries:           defaultMaxRetries,
			Strategy:             defaultStrategy,
			RepairTemperature:    defaultRepairTemperature,
			RepairTimeoutSeconds: defaultRepairTimeoutSeconds,
		},
		Storage: Storage{
			RetryAttempts:       defaultStorageRetryAttempts,
			RetryBaseDelayMilli: defaultStorageRetryDelayMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Plugins: map[string]Plugin{
			"json":    {Enabled: boolPtr(true), Format: "json", Dir: "json", Tag: "JSON", Repair: true, Retry: true},
			"text":    {Enabled: boolPtr(true), Format: "text", Dir: "text", Retry: true},
			"subtext": {Enabled: boolPtr(true), Format: "subtext", Dir: "subtext", Tag: "SUBTEXT"},
			"list":    {Enabled: boolPtr(true), Format: "list", Dir: "list", Tag: "LIST", Retry: true},
		},
	}
}
