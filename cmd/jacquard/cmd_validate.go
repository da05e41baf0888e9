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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/jacquard/pkg/config"
	"github.com/teradata-labs/jacquard/pkg/guidelines"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration files",
	Long: `Validate the runtime configuration, the agents file, and the
guidelines snapshot without starting the runtime.

Examples:
  jacquard validate
  jacquard validate --config ./jacquard.yaml`,
	Run: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	failures := 0
	report := func(name string, err error) {
		if err != nil {
			fmt.Printf("❌ %s\n   %v\n", name, err)
			failures++
			return
		}
		fmt.Printf("✅ %s\n", name)
	}

	cfg, err := config.LoadRuntime(cfgFile)
	report(cfgFile, err)
	if err != nil {
		os.Exit(1)
	}

	agents, err := config.LoadAgents(cfg.Paths.AgentsFile)
	report(cfg.Paths.AgentsFile, err)

	report(cfg.Paths.GuidelinesFile, validateGuidelinesFile(cfg.Paths.GuidelinesFile))

	fmt.Println()
	if failures > 0 {
		fmt.Printf("Validation failed: %d problem(s) found\n", failures)
		os.Exit(1)
	}
	fmt.Printf("Configuration is valid (%d agent(s))\n", len(agents))
}

// validateGuidelinesFile checks every guideline document in the
// snapshot. A missing file is fine: the runtime starts with an empty
// registry.
func validateGuidelinesFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap guidelines.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("failed to parse guidelines snapshot: %w", err)
	}
	for _, g := range snap.Guidelines {
		if err := guidelines.Validate(g); err != nil {
			return fmt.Errorf("guideline %q: %w", g.ID, err)
		}
	}
	return nil
}
