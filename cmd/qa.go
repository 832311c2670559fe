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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valpere/tabletran/internal/source"
)

var qaFlags runFlags

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Translate question/answer pairs with their context tables",
	Long: `Translate the question/answer pairs of the QA directory.

Every <table>_qa.json file holds a list of pairs about <table>.json in the
tables directory; files whose table is missing are skipped. Each pair is a
unit named <table>_qaNNN and goes through the same three stages and quality
gate as a table, with the table given to the model as context.

Example:
  tabletran qa --langs es,zh_cn
  tabletran qa --threshold 0 --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, cleanup, err := loadRuntime()
		if err != nil {
			return err
		}
		defer cleanup()
		qaFlags.apply(cmd, cfg)

		units, err := source.LoadQA(cfg.Paths.QA, cfg.Paths.Tables, log)
		if err != nil {
			return err
		}
		log.Info("loaded QA pairs", "count", len(units), "dir", cfg.Paths.QA)

		return runPipeline(cmd.Context(), cfg, log, outputRoots{
			checkpoints: filepath.Join(cfg.Paths.Checkpoints, "qa"),
			final:       cfg.Paths.QAFinal,
			metadata:    cfg.Paths.QAMetadata,
		}, units, qaFlags.limit)
	},
}

func init() {
	rootCmd.AddCommand(qaCmd)
	qaFlags.register(qaCmd)
}
