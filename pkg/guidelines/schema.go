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
package guidelines

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/jacquard/pkg/types"
)

// guidelineSchema is the JSON schema every registered guideline
// document must satisfy. Structural rules the schema cannot express
// (id shape, positive token limits) live in validateStructure.
const guidelineSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "category", "protocol", "prompts", "tokenLimits"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "category": {"type": "string", "minLength": 1},
    "priority": {"type": "integer"},
    "enabled": {"type": "boolean"},
    "protocol": {
      "type": "object",
      "required": ["triggers", "steps"],
      "properties": {
        "triggers": {
          "type": "array",
          "minItems": 1,
          "items": {"type": "string", "minLength": 2, "maxLength": 2}
        },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["name", "action"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "action": {"type": "string", "minLength": 1},
              "outputs": {"type": "array", "items": {"type": "string"}},
              "decisionPoints": {"type": "object"},
              "successCriteria": {"type": "string"},
              "fallback": {"type": "string"}
            }
          }
        }
      }
    },
    "requirements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "envVar": {"type": "string"}
        }
      }
    },
    "prompts": {
      "type": "object",
      "required": ["inspector", "orchestrator"],
      "properties": {
        "inspector": {"type": "string"},
        "orchestrator": {"type": "string"}
      }
    },
    "tokenLimits": {
      "type": "object",
      "required": ["inspector", "orchestrator"],
      "properties": {
        "inspector": {"type": "integer"},
        "orchestrator": {"type": "integer"}
      }
    },
    "tools": {"type": "array", "items": {"type": "string"}},
    "metadata": {
      "type": "object",
      "properties": {
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "version": {"type": "string"},
        "author": {"type": "string"}
      }
    }
  }
}`

// validateDocument checks a guideline against the embedded schema.
func validateDocument(g Guideline) error {
	schemaLoader := gojsonschema.NewStringLoader(guidelineSchema)
	docLoader := gojsonschema.NewGoLoader(g)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return types.NewConfigError("guideline", "schema validation failed for %s: %v", g.ID, err)
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			violations[i] = e.String()
		}
		return types.NewConfigError("guideline", "invalid document %s: %s", g.ID, strings.Join(violations, "; "))
	}
	return nil
}
