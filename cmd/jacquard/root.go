// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/teradata-labs/jacquard/internal/version"
	"github.com/teradata-labs/jacquard/pkg/config"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "jacquard",
	Short:   "Jacquard - Multi-agent orchestration runtime",
	Long:    `Jacquard runs a fleet of coding agents as long-lived sessions: it streams their output, detects signals, prioritizes them, and dispatches work back to the best-suited agent under a shared token budget.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Custom help template with Quick Start and Support at bottom
	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasSubCommands}}{{.UsageString}}{{end}}

Quick Start:
  1. Describe your agents: $JACQUARD_DATA_DIR/agents.yaml
  2. Start the runtime:    jacquard serve
  3. Check configuration:  jacquard validate

Support:
  GitHub: https://github.com/teradata-labs/jacquard/issues
  Documentation: https://github.com/teradata-labs/jacquard
`)

	// Global flags
	defaultConfig := filepath.Join(config.DataDir(), "jacquard.yaml")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfig, "config file")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("console", false, "force console log output (default: auto-detect terminal)")

	// Bind flags to viper
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.console", rootCmd.PersistentFlags().Lookup("console"))

	viper.SetEnvPrefix("JACQUARD")
	viper.AutomaticEnv()
}

// loadRuntimeConfig reads the runtime configuration and applies the
// logging flag overrides on top.
func loadRuntimeConfig(cmd *cobra.Command) (*config.Runtime, error) {
	cfg, err := config.LoadRuntime(cfgFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") || viper.GetString("log.level") != "" {
		if lvl := viper.GetString("log.level"); lvl != "" {
			cfg.Log.Level = lvl
		}
	}
	if cmd.Flags().Changed("console") {
		cfg.Log.Console = viper.GetBool("log.console")
	} else if !cfg.Log.Console {
		// Without an explicit setting, console output follows the terminal.
		cfg.Log.Console = term.IsTerminal(int(os.Stdout.Fd()))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
