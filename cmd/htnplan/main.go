// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command htnplan plans contingency policies for the combat domain.
//
// Usage:
//
//	htnplan plan world.txt
//	htnplan plan --task kill --args steve,zombie1 --explain world.txt
//	cat world.txt | htnplan plan --format yaml
//	htnplan serve --config htn.yaml
//	htnplan domain
//
// Atoms are relation-entity[-value] strings separated by whitespace or
// newlines. Lines starting with # are comments.
//
// While serve runs, edits to the --config file retune the rate limit and
// planning timeout; pass --watch=false to disable.
//
// Example requests against the server:
//
//	curl http://localhost:8090/v1/htn/health
//
//	curl -X POST http://localhost:8090/v1/htn/plan \
//	  -H "Content-Type: application/json" \
//	  -d '{"atoms": ["agents-steve", "agent_at-steve-house",
//	       "mobs-zombie1-hostile", "agent_at-zombie1-field"]}'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
