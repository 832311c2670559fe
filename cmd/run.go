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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/valpere/tabletran/internal/config"
	"github.com/valpere/tabletran/internal/orchestrator"
	"github.com/valpere/tabletran/internal/source"
	"github.com/valpere/tabletran/internal/unit"
)

// runFlags are the overrides shared by the run and qa commands.
type runFlags struct {
	langs      []string
	threshold  float64
	skipFailed bool
	driver     string
	limit      int
}

var tableFlags runFlags

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.langs, "langs", "l", nil, "Target language codes (default: every registry language)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", -1, "Round-trip BLEU threshold (default from config, 0 keeps everything)")
	cmd.Flags().BoolVar(&f.skipFailed, "skip-failed", false, "Skip pairs with a recorded permanent failure instead of retrying them")
	cmd.Flags().StringVar(&f.driver, "checkpoint-driver", "", "Checkpoint store: file or sqlite")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Process at most this many units (0 = all)")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if len(f.langs) > 0 {
		cfg.Languages.Only = f.langs
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Quality.Threshold = f.threshold
	}
	if cmd.Flags().Changed("skip-failed") {
		cfg.Policy.SkipFailed = f.skipFailed
	}
	if f.driver != "" {
		cfg.Checkpoint.Driver = f.driver
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Translate every table of the tables directory",
	Long: `Translate tables into every configured language.

Each table goes through initial translation and back-translation on the
high-throughput backend and refinement on the rate-limited backend, one
language at a time. Pairs whose round-trip score reaches the threshold are
written to the final output directory; every gated pair gets a quality
metadata record.

Interrupt with Ctrl-C at any time: finished stages are checkpointed and the
next run resumes from them.

Example:
  tabletran run --langs es,fr,ja_formal --threshold 0.4
  tabletran run --config prod.yaml --checkpoint-driver sqlite --skip-failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, cleanup, err := loadRuntime()
		if err != nil {
			return err
		}
		defer cleanup()
		tableFlags.apply(cmd, cfg)

		units, err := source.LoadTables(cfg.Paths.Tables)
		if err != nil {
			return err
		}
		log.Info("loaded tables", "count", len(units), "dir", cfg.Paths.Tables)

		return runPipeline(cmd.Context(), cfg, log, outputRoots{
			checkpoints: cfg.Paths.Checkpoints,
			final:       cfg.Paths.Final,
			metadata:    cfg.Paths.Metadata,
		}, units, tableFlags.limit)
	},
}

func runPipeline(parent context.Context, cfg *config.Config, log *slog.Logger, roots outputRoots, units []*unit.Unit, limit int) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if limit > 0 && limit < len(units) {
		units = units[:limit]
	}

	p, err := buildPipeline(ctx, cfg, log, roots)
	if err != nil {
		return err
	}
	defer p.Close()

	summary, runErr := p.orch.Run(ctx, units)
	p.finishRun(summary, runErr)
	p.logPools()
	printSummary(summary)

	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

func printSummary(s *orchestrator.Summary) {
	data := pterm.TableData{{"LANG", "KEPT", "DROPPED", "FAILED", "SKIPPED"}}
	for _, c := range s.Languages() {
		data = append(data, []string{
			c.Lang,
			fmt.Sprint(c.Kept), fmt.Sprint(c.Dropped), fmt.Sprint(c.Failed), fmt.Sprint(c.Skipped),
		})
	}
	t := s.Totals()
	data = append(data, []string{"total", fmt.Sprint(t.Kept), fmt.Sprint(t.Dropped), fmt.Sprint(t.Failed), fmt.Sprint(t.Skipped)})

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to render summary: %v\n", err)
	}
	fmt.Printf("Units: %d  Elapsed: %s\n", s.Units(), s.Elapsed().Round(time.Second))
}

func init() {
	rootCmd.AddCommand(runCmd)
	tableFlags.register(runCmd)
}
