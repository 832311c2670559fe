package config

import (
	"time"

	"github.com/valpere/tabletran/internal/logger"
	"github.com/valpere/tabletran/internal/ratelimit"
	"github.com/valpere/tabletran/internal/retry"
	"github.com/valpere/tabletran/internal/translator"
)

// Config is the whole run configuration.
type Config struct {
	Languages   LanguagesConfig          `mapstructure:"languages"`
	Credentials map[string][]string      `mapstructure:"credentials"`
	Backends    map[string]BackendConfig `mapstructure:"backends"`
	Stages      StagesConfig             `mapstructure:"stages"`
	Retry       retry.Policy             `mapstructure:"retry"`
	Quality     QualityConfig            `mapstructure:"quality"`
	Paths       PathsConfig              `mapstructure:"paths"`
	Checkpoint  CheckpointConfig         `mapstructure:"checkpoint"`
	Policy      PolicyConfig             `mapstructure:"policy"`
	Logging     logger.Config            `mapstructure:"logging"`
}

// LanguagesConfig selects the registry and optionally a subset of it.
type LanguagesConfig struct {
	// File is a YAML mapping of code to display name; empty uses the
	// built-in registry.
	File string   `mapstructure:"file"`
	Only []string `mapstructure:"only"`
}

// BackendConfig describes one named backend: a provider, how it is
// dispatched and how its credentials are throttled.
type BackendConfig struct {
	translator.ProviderConfig `mapstructure:",squash"`

	// Credentials names the credential list; it defaults to the backend name.
	Credentials string `mapstructure:"credentials"`
	// Mode is "batch" for the high-throughput backend or "sequential" for
	// the strictly rate-limited one.
	Mode              string         `mapstructure:"mode"`
	Concurrency       int            `mapstructure:"concurrency"`
	DispatchRPS       float64        `mapstructure:"dispatch_rps"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute"`
	Window            time.Duration  `mapstructure:"window"`
	WindowKind        ratelimit.Kind `mapstructure:"window_kind"`
}

const (
	ModeBatch      = "batch"
	ModeSequential = "sequential"
)

// StageConfig names the backends of a stage.
type StageConfig struct {
	Primary  string `mapstructure:"primary"`
	Fallback string `mapstructure:"fallback"`
}

type StagesConfig struct {
	Initial        StageConfig `mapstructure:"initial"`
	Refined        StageConfig `mapstructure:"refined"`
	BackTranslated StageConfig `mapstructure:"back_translated"`
}

type QualityConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// PathsConfig holds the input and output roots.
type PathsConfig struct {
	Tables      string `mapstructure:"tables"`
	QA          string `mapstructure:"qa"`
	Checkpoints string `mapstructure:"checkpoints"`
	Final       string `mapstructure:"final"`
	Metadata    string `mapstructure:"metadata"`
	QAFinal     string `mapstructure:"qa_final"`
	QAMetadata  string `mapstructure:"qa_metadata"`
	DB          string `mapstructure:"db"`
}

// CheckpointConfig selects the checkpoint store: "file" or "sqlite".
type CheckpointConfig struct {
	Driver string `mapstructure:"driver"`
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// PolicyConfig holds the behaviour switches of a run.
type PolicyConfig struct {
	// ExhaustionCooldown re-enables exhausted credentials after the given
	// duration; zero never does.
	ExhaustionCooldown time.Duration `mapstructure:"exhaustion_cooldown"`
	// SkipFailed skips pairs with a recorded permanent failure.
	SkipFailed       bool `mapstructure:"skip_failed"`
	PinNumeric       bool `mapstructure:"pin_numeric"`
	ValidateLanguage bool `mapstructure:"validate_language"`
}
