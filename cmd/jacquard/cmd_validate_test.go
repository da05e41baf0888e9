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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validSnapshot = `{
  "guidelines": [
    {
      "id": "security-review",
      "category": "security",
      "priority": 8,
      "enabled": true,
      "protocol": {
        "triggers": ["vr"],
        "steps": [{"name": "scan", "action": "run the security checklist"}]
      },
      "prompts": {
        "inspector": "Inspect {{signalId}}",
        "orchestrator": "Review the change for {{signalKind}}"
      },
      "tokenLimits": {"inspector": 2000, "orchestrator": 8000},
      "metadata": {}
    }
  ],
  "metrics": {},
  "signalPatterns": {}
}`

func TestValidateGuidelinesFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, validateGuidelinesFile(filepath.Join(dir, "absent.json")),
		"a missing snapshot is not an error")

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(validSnapshot), 0o600))
	require.NoError(t, validateGuidelinesFile(valid))

	garbled := filepath.Join(dir, "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{"), 0o600))
	require.Error(t, validateGuidelinesFile(garbled))

	badID := filepath.Join(dir, "bad-id.json")
	content := []byte(`{"guidelines": [{"id": "Bad_ID"}]}`)
	require.NoError(t, os.WriteFile(badID, content, 0o600))
	err := validateGuidelinesFile(badID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Bad_ID")
}
