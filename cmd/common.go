/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/valpere/tabletran/internal/checkpoint"
	"github.com/valpere/tabletran/internal/config"
	"github.com/valpere/tabletran/internal/credential"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/logger"
	"github.com/valpere/tabletran/internal/orchestrator"
	"github.com/valpere/tabletran/internal/output"
	"github.com/valpere/tabletran/internal/store"
	"github.com/valpere/tabletran/internal/tracker"
	"github.com/valpere/tabletran/internal/translator"
	"github.com/valpere/tabletran/internal/validator"
)

// loadRuntime reads the configuration, applies the global flag overrides and
// builds the logger. The returned cleanup closes the log file.
func loadRuntime() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}

	log, cleanup, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(log)
	return cfg, log, cleanup, nil
}

// loadLanguages returns the run's target languages in registry order.
func loadLanguages(cfg *config.Config) (*language.Registry, error) {
	reg := language.Default()
	if cfg.Languages.File != "" {
		var err error
		if reg, err = language.LoadFile(cfg.Languages.File); err != nil {
			return nil, err
		}
	}
	return reg.Filter(cfg.Languages.Only)
}

// newProvider builds the protocol adapter of a backend.
func newProvider(name string, bc config.BackendConfig) (translator.Provider, error) {
	switch bc.Provider {
	case "openai", "openrouter":
		return translator.NewOpenAIProvider(name, bc.ProviderConfig), nil
	case "ollama":
		return translator.NewOllamaProvider(bc.ProviderConfig), nil
	case "gemini":
		return translator.NewGeminiProvider(bc.ProviderConfig), nil
	case "google":
		return translator.NewGoogleProvider(bc.ProviderConfig), nil
	default:
		return nil, fmt.Errorf("backend %q: unknown provider %q", name, bc.Provider)
	}
}

// outputRoots are the directories one pipeline writes to.
type outputRoots struct {
	checkpoints string
	final       string
	metadata    string
}

// pipeline owns everything a run needs and must be closed afterwards.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	db      *store.Store
	runID   string
	pools   map[string]*credential.Pool
	closers []io.Closer
	log     *slog.Logger
}

func (p *pipeline) Close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			p.log.Warn("close failed", "error", err)
		}
	}
}

// logPools reports how each credential pool was used.
func (p *pipeline) logPools() {
	for name, pool := range p.pools {
		st := pool.Stats()
		p.log.Info("credential pool",
			"pool", name, "keys", st.Size, "exhausted", st.Exhausted,
			"rotations", st.Rotations, "waits", st.Waits, "requests", st.Requests)
	}
}

// buildPipeline wires backends, credential pools, the checkpoint store and
// the output writer into an orchestrator.
func buildPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger, roots outputRoots) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg, err := loadLanguages(cfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{pools: map[string]*credential.Pool{}, log: log}
	built := false
	defer func() {
		if !built {
			p.Close()
		}
	}()

	var check translator.Checker
	if cfg.Policy.ValidateLanguage {
		check = validator.NewFor(reg).Unit
	}

	backends := map[string]translator.Backend{}
	backend := func(name string) (translator.Backend, error) {
		if name == "" {
			return nil, nil
		}
		if b, ok := backends[name]; ok {
			return b, nil
		}
		bc := cfg.Backends[name]
		provider, err := newProvider(name, bc)
		if err != nil {
			return nil, err
		}
		if c, ok := provider.(io.Closer); ok {
			p.closers = append(p.closers, c)
		}

		list := bc.Credentials
		if list == "" {
			list = name
		}
		pool, ok := p.pools[list]
		if !ok {
			tokens, err := cfg.Tokens(name)
			if err != nil {
				return nil, err
			}
			pool, err = credential.New(list, tokens, credential.Options{
				RequestsPerMinute:  bc.RequestsPerMinute,
				Window:             bc.Window,
				WindowKind:         bc.WindowKind,
				ExhaustionCooldown: cfg.Policy.ExhaustionCooldown,
				Logger:             log,
			})
			if err != nil {
				return nil, err
			}
			p.pools[list] = pool
		}

		opts := translator.Options{
			Name:    name,
			Policy:  cfg.Retry,
			Timeout: bc.Timeout,
			Check:   check,
			Logger:  log,
		}
		var b translator.Backend
		if bc.Mode == config.ModeSequential {
			b = translator.NewRateLimited(provider, pool, opts)
		} else {
			b = translator.NewHighThroughput(provider, pool, bc.Concurrency, bc.DispatchRPS, opts)
		}
		backends[name] = b
		return b, nil
	}

	stages := map[checkpoint.Stage]orchestrator.StageBackends{}
	for stage, sc := range cfg.StageBackends() {
		primary, err := backend(sc.Primary)
		if err != nil {
			return nil, err
		}
		fallback, err := backend(sc.Fallback)
		if err != nil {
			return nil, err
		}
		stages[stage] = orchestrator.StageBackends{Primary: primary, Fallback: fallback}
	}

	var (
		cpStore  checkpoint.Store
		failures checkpoint.FailureLog
		ledger   orchestrator.VerdictLedger
	)
	switch cfg.Checkpoint.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.DB), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := store.New(cfg.Paths.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		p.closers = append(p.closers, db)
		p.db = db
		cpStore, failures, ledger = db, db, db

		if p.runID, err = db.StartRun(ctx); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	default:
		fs, err := checkpoint.NewFileStore(roots.checkpoints)
		if err != nil {
			return nil, err
		}
		cpStore, failures = fs, fs
	}

	runner, err := orchestrator.NewRunner(cpStore, stages, orchestrator.RunnerOptions{
		PinNumeric: cfg.Policy.PinNumeric,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	out, err := output.NewWriter(roots.final, roots.metadata)
	if err != nil {
		return nil, err
	}

	p.orch, err = orchestrator.New(runner, reg.All(), tracker.New(out), out, orchestrator.Options{
		Threshold:  cfg.Quality.Threshold,
		SkipFailed: cfg.Policy.SkipFailed,
		Failures:   failures,
		Ledger:     ledger,
		RunID:      p.runID,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	built = true
	return p, nil
}

// finishRun records the run totals when the SQLite ledger is in use.
func (p *pipeline) finishRun(summary *orchestrator.Summary, runErr error) {
	if p.db == nil || p.runID == "" {
		return
	}
	status := "completed"
	if runErr != nil {
		status = "interrupted"
	}
	t := summary.Totals()
	err := p.db.FinishRun(context.Background(), p.runID, status, store.RunTotals{
		Units:   summary.Units(),
		Kept:    t.Kept,
		Dropped: t.Dropped,
		Failed:  t.Failed,
		Skipped: t.Skipped,
	})
	if err != nil {
		p.log.Warn("failed to record run totals", "run", p.runID, "error", err)
	}
}
