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
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "tabletran",
	Short: "Multilingual table and QA translation pipeline",
	Long: `A CLI application that translates tables and question/answer pairs into many
languages through three stages: initial translation, refinement and
back-translation. Every pair is gated on round-trip BLEU before its output is
kept.

Every stage output is checkpointed, so an interrupted run resumes where it
stopped. Credentials of each backend are pooled and rotated on quota errors.

Use "tabletran run --help" for table translation options.`,
	Version:       version,
	SilenceUsage:  true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./tabletran.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this rotating file")
}
