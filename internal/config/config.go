// Package config loads pipeline settings from defaults, an optional YAML
// file, and VIZ_-prefixed environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the default config file looked up in the working directory.
const ConfigFileName = "vizinsight.yaml"

const envPrefix = "VIZ_"

// Config holds every tunable of the pipeline.
type Config struct {
	// Gemini API key. Usually supplied via VIZ_GEMINI_API_KEY.
	GeminiAPIKey string `koanf:"gemini_api_key"`

	// Model used by the variant arms unless an arm overrides it.
	Model string `koanf:"model"`

	// MaxLLMTokens caps generation length per call.
	MaxLLMTokens int `koanf:"max_llm_tokens"`

	// LLMRetries is the number of retries after the first attempt for
	// transient provider errors.
	LLMRetries int `koanf:"llm_retries"`

	// JSONRepairMax bounds the repair re-prompts after unparseable output.
	JSONRepairMax int `koanf:"json_repair_max"`

	// MaxSchemaColumns and MaxSampleRows bound the dataset context placed
	// into prompts.
	MaxSchemaColumns int `koanf:"max_schema_columns"`
	MaxSampleRows    int `koanf:"max_sample_rows"`

	// Interpreter runs generated transformation scripts.
	Interpreter string `koanf:"interpreter"`

	// ExecTimeout bounds one sandboxed script execution.
	ExecTimeout time.Duration `koanf:"exec_timeout"`

	// BanditStatePath is the flat JSON file holding arm posteriors.
	BanditStatePath string `koanf:"bandit_state_path"`

	// ProfileReportsDir receives generated profiling reports.
	ProfileReportsDir string `koanf:"profile_reports_dir"`

	// Debug switches logging to development output.
	Debug bool `koanf:"debug"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"model":               "gemini-2.5-flash",
		"max_llm_tokens":      4096,
		"llm_retries":         2,
		"json_repair_max":     1,
		"max_schema_columns":  40,
		"max_sample_rows":     3,
		"interpreter":         "python3",
		"exec_timeout":        "15s",
		"bandit_state_path":   "runs/rl_state.json",
		"profile_reports_dir": "runs/profiles",
		"debug":               false,
	}
}

// Load builds the effective config. cfgFile may be empty, in which case
// ConfigFileName is used if it exists; a missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(ConfigFileName); err == nil {
			cfgFile = ConfigFileName
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// VIZ_EXEC_TIMEOUT -> exec_timeout
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
