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
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/teradata-labs/jacquard/pkg/config"
)

// keyringService is the OS keyring service name; it must match the one
// the lifecycle manager reads credentials from.
const keyringService = "jacquard"

// secretKeys lists the key names the runtime looks up in the keyring.
var secretKeys = map[string]string{
	"anthropic_api_key": "Anthropic API key used by model-backed agents",
	"github_token":      "GitHub token used by guideline requirements",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Jacquard configuration",
	Long:  `Manage configuration files and secrets for the Jacquard runtime.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration files",
	Long:  `Generate example jacquard.yaml and agents.yaml files in the data directory.`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: `Save an API key to the system keyring securely.

The key will be stored in your system's secure credential storage
(Keychain on macOS, Credential Manager on Windows, Secret Service on Linux).

Run 'jacquard config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification).`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Long:  `Remove an API key from the system keyring.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Long:  `List all available secret keys that can be stored in the keyring.`,
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	runtimeExample := heredoc.Doc(`
		# Jacquard runtime configuration
		log:
		  level: info

		# Session backend: subprocess or tmux
		session_backend: subprocess

		# Model context window the orchestrator budgets against
		model_window: 200000

		warroom:
		  archive_after_days: 7

		# Cron schedules for background maintenance; empty disables a sweep
		sweeps:
		  archive: "0 * * * *"
		  snapshot: "*/10 * * * *"
		  compaction: "*/5 * * * *"

		# Per-kind signal priority overrides (1-10)
		# signal_priorities:
		#   tp: 6
	`)

	agentsExample := heredoc.Doc(`
		# Jacquard agent fleet
		agents:
		  - id: dev-1
		    role: developer
		    kind: model
		    roles: [developer, reviewer]
		    run_command: ["claude", "--print", "--output-format", "stream-json"]
		    token_limits:
		      daily: 500000
		    capabilities:
		      code_execution: true
		      context_window: 200000
	`)

	wrote := false
	for name, content := range map[string]string{
		"jacquard.yaml": runtimeExample,
		"agents.yaml":   agentsExample,
	} {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Skipping %s (already exists)\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Created %s\n", path)
		wrote = true
	}
	if wrote {
		fmt.Println("\nEdit the agent fleet, then run: jacquard serve")
	}
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	if _, ok := secretKeys[keyName]; !ok {
		fmt.Fprintf(os.Stderr, "Unknown key name: %s\n\n", keyName)
		fmt.Fprintln(os.Stderr, "Run 'jacquard config list-keys' to see available key names.")
		os.Exit(1)
	}

	fmt.Printf("Enter value for %s: ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading secret: %v\n", err)
		os.Exit(1)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Empty value, nothing saved.")
		os.Exit(1)
	}

	if err := keyring.Set(keyringService, keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	secret, err := keyring.Get(keyringService, keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s from keyring: %v\n", keyName, err)
		os.Exit(1)
	}

	// Show only a prefix, enough to verify the right key is stored.
	masked := secret
	if len(masked) > 8 {
		masked = masked[:8] + "..."
	}
	fmt.Printf("%s: %s (%d characters)\n", keyName, masked, len(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	if err := keyring.Delete(keyringService, keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting %s from keyring: %v\n", keyName, err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	for name, description := range secretKeys {
		fmt.Printf("  %-20s %s\n", name, description)
	}
	fmt.Println("\nSave one with: jacquard config set-key <key-name>")
}
