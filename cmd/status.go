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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/tabletran/internal/config"
	"github.com/valpere/tabletran/internal/output"
	"github.com/valpere/tabletran/internal/tracker"
)

var statusQA bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-language progress from the output directories",
	Long: `Count, per target language, the units with a final output and the kept and
dropped quality verdicts. Works with either checkpoint driver since it reads
the final and metadata directories.

Example:
  tabletran status
  tabletran status --qa`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		reg, err := loadLanguages(cfg)
		if err != nil {
			return err
		}

		finalRoot, metaRoot := cfg.Paths.Final, cfg.Paths.Metadata
		if statusQA {
			finalRoot, metaRoot = cfg.Paths.QAFinal, cfg.Paths.QAMetadata
		}
		out, err := output.NewWriter(finalRoot, metaRoot)
		if err != nil {
			return err
		}
		tr := tracker.New(out)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANG\tCOMPLETED\tKEPT\tDROPPED")
		for _, l := range reg.All() {
			completed, err := tr.Count(l.Code)
			if err != nil {
				return err
			}
			verdicts, err := out.Verdicts(l.Code)
			if err != nil {
				return err
			}
			kept := 0
			for _, v := range verdicts {
				if v.Kept() {
					kept++
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", l.Code, completed, kept, len(verdicts)-kept)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusQA, "qa", false, "Report the QA output directories")
}
