// Package config loads the run configuration from a YAML file, TABLETRAN_
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/logger"
	"github.com/valpere/tabletran/internal/ratelimit"
	"github.com/valpere/tabletran/internal/retry"
	"github.com/valpere/tabletran/internal/translator"
)

const (
	EnvPrefix         = "TABLETRAN"
	DefaultConfigName = "tabletran"
	DefaultThreshold  = 0.4
	// AnonymousToken stands in for keyless local endpoints such as vLLM.
	AnonymousToken = "EMPTY"
)

// DefaultConfig mirrors the original pipeline: a local vLLM server for
// stages 1 and 3 with Gemini as fallback, and Gemini alone for refinement.
func DefaultConfig() *Config {
	return &Config{
		Credentials: map[string][]string{},
		Backends: map[string]BackendConfig{
			"vllm": {
				ProviderConfig: translator.ProviderConfig{
					Provider: "openai",
					BaseURL:  "http://localhost:8000/v1",
					Model:    "Qwen/Qwen3-32B",
					Timeout:  5 * time.Minute,
				},
				Mode:        ModeBatch,
				Concurrency: 16,
			},
			"gemini": {
				ProviderConfig: translator.ProviderConfig{
					Provider: "gemini",
					Model:    "gemini-flash-latest",
					Timeout:  2 * time.Minute,
				},
				Mode:              ModeSequential,
				RequestsPerMinute: 10,
				Window:            ratelimit.DefaultWindow,
				WindowKind:        ratelimit.KindSliding,
			},
		},
		Stages: StagesConfig{
			Initial:        StageConfig{Primary: "vllm", Fallback: "gemini"},
			Refined:        StageConfig{Primary: "gemini"},
			BackTranslated: StageConfig{Primary: "vllm", Fallback: "gemini"},
		},
		Retry:   retry.DefaultPolicy(),
		Quality: QualityConfig{Threshold: DefaultThreshold},
		Paths: PathsConfig{
			Tables:      "./data/processed/tables",
			QA:          "./data/processed/qa_pairs",
			Checkpoints: "./data/processed/translation_checkpoints",
			Final:       "./data/processed/tables_translated",
			Metadata:    "./data/processed/translation_metadata",
			QAFinal:     "./data/processed/qa_pairs_translated",
			QAMetadata:  "./data/processed/qa_translation_metadata",
			DB:          "./data/tabletran.db",
		},
		Checkpoint: CheckpointConfig{Driver: DriverFile},
		Policy: PolicyConfig{
			PinNumeric:       true,
			ValidateLanguage: false,
		},
		Logging: logger.Config{
			Level:      logger.LevelInfo,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// scalar keys that can be overridden from the environment without a file.
var envKeys = []string{
	"languages.file",
	"quality.threshold",
	"paths.tables", "paths.qa", "paths.checkpoints", "paths.final",
	"paths.metadata", "paths.qa_final", "paths.qa_metadata", "paths.db",
	"checkpoint.driver",
	"policy.exhaustion_cooldown", "policy.skip_failed", "policy.pin_numeric", "policy.validate_language",
	"retry.max_attempts", "retry.base_delay", "retry.max_delay", "retry.quota_delay",
	"logging.level", "logging.file",
}

// Load reads the configuration. An empty path searches for tabletran.yaml in
// the working directory and ./config; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	defaults := cfg.Backends
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := mergeBackends(v, cfg, defaults); err != nil {
		return nil, err
	}
	cfg.applyCredentialEnv(os.Getenv)
	cfg.fillBackendDefaults()
	return cfg, nil
}

// mergeBackends decodes every file entry of a built-in backend over its
// default, so a file may override single fields. Map values are otherwise
// decoded from zero.
func mergeBackends(v *viper.Viper, cfg *Config, defaults map[string]BackendConfig) error {
	if cfg.Backends == nil {
		cfg.Backends = map[string]BackendConfig{}
	}
	for name, def := range defaults {
		key := "backends." + name
		if !v.IsSet(key) {
			cfg.Backends[name] = def
			continue
		}
		b := def
		if err := v.UnmarshalKey(key, &b); err != nil {
			return fmt.Errorf("unable to decode backend %q: %w", name, err)
		}
		cfg.Backends[name] = b
	}
	return nil
}

// applyCredentialEnv reads TABLETRAN_CREDENTIALS_<LIST> as a comma separated
// token list, replacing the file's list of that name.
func (c *Config) applyCredentialEnv(getenv func(string) string) {
	if c.Credentials == nil {
		c.Credentials = map[string][]string{}
	}
	for name, b := range c.Backends {
		list := b.credentialList(name)
		raw := getenv(EnvPrefix + "_CREDENTIALS_" + strings.ToUpper(strings.ReplaceAll(list, "-", "_")))
		if raw == "" {
			continue
		}
		var tokens []string
		for _, tok := range strings.Split(raw, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		c.Credentials[list] = tokens
	}
}

func (c *Config) fillBackendDefaults() {
	for name, b := range c.Backends {
		if b.Mode == "" {
			b.Mode = ModeBatch
		}
		if b.Concurrency < 1 {
			b.Concurrency = 1
		}
		if b.WindowKind == "" {
			b.WindowKind = ratelimit.KindSliding
		}
		c.Backends[name] = b
	}
}

func (b BackendConfig) credentialList(name string) string {
	if b.Credentials != "" {
		return b.Credentials
	}
	return name
}

// needsKey reports whether the provider refuses anonymous requests.
func needsKey(provider string) bool {
	switch provider {
	case "gemini", "google":
		return true
	}
	return false
}

var knownProviders = map[string]bool{
	"openai": true, "openrouter": true, "ollama": true, "gemini": true, "google": true,
}

// Tokens returns the credential list of a backend. Keyless providers
// without configured credentials get a single anonymous token.
func (c *Config) Tokens(backend string) ([]string, error) {
	b, ok := c.Backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	tokens := c.Credentials[b.credentialList(backend)]
	if len(tokens) == 0 {
		if needsKey(b.Provider) {
			return nil, fmt.Errorf("backend %q: credential list %q is empty", backend, b.credentialList(backend))
		}
		return []string{AnonymousToken}, nil
	}
	return tokens, nil
}

// StageBackends returns the configured backend names per stage.
func (c *Config) StageBackends() map[checkpoint.Stage]StageConfig {
	return map[checkpoint.Stage]StageConfig{
		checkpoint.Initial:        c.Stages.Initial,
		checkpoint.Refined:        c.Stages.Refined,
		checkpoint.BackTranslated: c.Stages.BackTranslated,
	}
}

// Validate reports configuration errors that must abort the run.
func (c *Config) Validate() error {
	var errs []error

	used := map[string]bool{}
	for stage, sc := range c.StageBackends() {
		if sc.Primary == "" {
			errs = append(errs, fmt.Errorf("stage %s: no primary backend", stage))
			continue
		}
		for _, name := range []string{sc.Primary, sc.Fallback} {
			if name == "" {
				continue
			}
			if _, ok := c.Backends[name]; !ok {
				errs = append(errs, fmt.Errorf("stage %s: unknown backend %q", stage, name))
				continue
			}
			used[name] = true
		}
		if sc.Primary == sc.Fallback {
			errs = append(errs, fmt.Errorf("stage %s: fallback must differ from primary", stage))
		}
	}

	for name := range used {
		b := c.Backends[name]
		if !knownProviders[b.Provider] {
			errs = append(errs, fmt.Errorf("backend %q: unknown provider %q", name, b.Provider))
			continue
		}
		if b.Mode != ModeBatch && b.Mode != ModeSequential {
			errs = append(errs, fmt.Errorf("backend %q: unknown mode %q", name, b.Mode))
		}
		if b.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("backend %q: requests_per_minute must not be negative", name))
		}
		if _, err := c.Tokens(name); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Quality.Threshold < 0 {
		errs = append(errs, fmt.Errorf("quality threshold %v must not be negative", c.Quality.Threshold))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	switch c.Checkpoint.Driver {
	case DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint driver %q", c.Checkpoint.Driver))
	}

	return errors.Join(errs...)
}
