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

// Package config loads the runtime configuration and the user-editable
// agents file.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the jacquard data directory.
//
// Priority:
// 1. JACQUARD_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.jacquard (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the
// user's home directory; relative paths are made absolute.
//
// This reads os.Getenv directly, not viper: it runs during bootstrap to
// locate the config file itself.
func DataDir() string {
	if dataDir := os.Getenv("JACQUARD_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".jacquard"
	}
	return filepath.Join(homeDir, ".jacquard")
}

// SubDir returns a subdirectory within the data directory.
// Example: SubDir("agents") returns ~/.jacquard/agents.
func SubDir(subdir string) string {
	return filepath.Join(DataDir(), subdir)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// resolveRelativePath resolves path against baseDir unless already
// absolute or empty.
func resolveRelativePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// expandEnvVars expands ${VAR} and $VAR references in file content.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
