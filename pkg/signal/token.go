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
package signal

import "regexp"

// tokenPattern matches any bracketed two-letter code. Codes are matched
// case-sensitively against the catalog afterwards, so "[FF]" and "[ff]"
// are distinct and "[zz]" is dropped.
var tokenPattern = regexp.MustCompile(`\[([a-zA-Z]{2})\]`)

// TokenMatch is one recognized signal token on a line.
type TokenMatch struct {
	// Kind is the catalog kind the code resolved to.
	Kind Kind

	// Start and End are the byte offsets of the bracketed token within
	// the line, End exclusive.
	Start, End int
}

// FindTokens scans a line for bracketed signal codes and returns the
// matches whose codes are declared in the catalog, in line order.
// Unknown codes are ignored.
func FindTokens(catalog *Catalog, line string) []TokenMatch {
	idx := tokenPattern.FindAllStringSubmatchIndex(line, -1)
	if len(idx) == 0 {
		return nil
	}
	matches := make([]TokenMatch, 0, len(idx))
	for _, m := range idx {
		code := Kind(line[m[2]:m[3]])
		if !catalog.Known(code) {
			continue
		}
		matches = append(matches, TokenMatch{Kind: code, Start: m[0], End: m[1]})
	}
	return matches
}
