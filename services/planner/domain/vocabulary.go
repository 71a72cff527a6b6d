// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import "github.com/AleutianAI/AleutianHTN/services/planner/facts"

// Vocabulary describes the entity types of a domain for grounding.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Vocabulary interface {
	// Types returns the known type names, e.g. "agent", "mob".
	Types() []string

	// Entities returns the known entities of a type in st, sorted.
	Entities(st *facts.State, typ string) []string

	// Population returns the number of live entities of the counting role
	// (for the combat domain: alive hostile mobs).
	Population(st *facts.State) int
}
