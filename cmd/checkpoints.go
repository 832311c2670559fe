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
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/tabletran/internal/config"
	"github.com/valpere/tabletran/internal/store"
)

var (
	checkpointsDBPath string
	checkpointsLang   string
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect the SQLite checkpoint store",
	Long: `List verdicts, failures and runs recorded by runs that use the sqlite
checkpoint driver, and clear recorded failures so --skip-failed retries them.`,
}

func openStore() (*store.Store, error) {
	path := checkpointsDBPath
	if path == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		path = cfg.Paths.DB
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

var checkpointsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show checkpoint, verdict and failure counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		stages := make([]string, 0, len(stats.Checkpoints))
		for st := range stats.Checkpoints {
			stages = append(stages, st)
		}
		sort.Strings(stages)
		for _, st := range stages {
			fmt.Printf("%-28s %d\n", st+":", stats.Checkpoints[st])
		}
		fmt.Printf("Verdicts:    %d (kept %d, dropped %d)\n", stats.Verdicts, stats.Kept, stats.Dropped)
		fmt.Printf("Failures:    %d\n", stats.Failures)
		fmt.Printf("Runs:        %d\n", stats.Runs)
		return nil
	},
}

var checkpointsVerdictsCmd = &cobra.Command{
	Use:   "verdicts",
	Short: "List quality verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		verdicts, err := db.ListVerdicts(context.Background(), checkpointsLang)
		if err != nil {
			return fmt.Errorf("failed to list verdicts: %w", err)
		}
		if len(verdicts) == 0 {
			fmt.Println("No verdicts recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tLANG\tSCORE\tTHRESHOLD\tDECISION")
		for _, v := range verdicts {
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.2f\t%s\n", v.UnitID, v.Lang, v.Score, v.Threshold, v.Decision)
		}
		return w.Flush()
	},
}

var checkpointsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List pairs that failed permanently",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		failures, err := db.ListFailures(context.Background(), checkpointsLang)
		if err != nil {
			return fmt.Errorf("failed to list failures: %w", err)
		}
		if len(failures) == 0 {
			fmt.Println("No failures recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tLANG\tSTAGE\tWHEN\tREASON")
		for _, f := range failures {
			reason := f.Reason
			if len(reason) > 60 {
				reason = reason[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				f.UnitID, f.Lang, f.Stage, f.CreatedAt.Format("2006-01-02 15:04"), reason)
		}
		return w.Flush()
	},
}

var checkpointsClearFailuresCmd = &cobra.Command{
	Use:   "clear-failures",
	Short: "Forget recorded failures so they are retried",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearFailures(context.Background(), checkpointsLang)
		if err != nil {
			return fmt.Errorf("failed to clear failures: %w", err)
		}
		fmt.Printf("Cleared %d recorded failures.\n", n)
		return nil
	},
}

var checkpointsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background(), 20)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tUNITS\tKEPT\tDROPPED\tFAILED\tSKIPPED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04"),
				r.Totals.Units, r.Totals.Kept, r.Totals.Dropped, r.Totals.Failed, r.Totals.Skipped)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointsDBPath, "db", "", "Database path (default from config)")
	checkpointsCmd.PersistentFlags().StringVar(&checkpointsLang, "lang", "", "Only this language")

	checkpointsCmd.AddCommand(checkpointsStatsCmd)
	checkpointsCmd.AddCommand(checkpointsVerdictsCmd)
	checkpointsCmd.AddCommand(checkpointsFailuresCmd)
	checkpointsCmd.AddCommand(checkpointsClearFailuresCmd)
	checkpointsCmd.AddCommand(checkpointsRunsCmd)
}
