// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facts provides the world-state fact store used by the planner.
//
// A State maps relation -> entity -> value. World facts arrive as atoms:
//
//	agent_at-steve-yard        (relation agent_at, entity steve, value yard)
//	agents-steve               (relation agents, entity steve, value "")
//
// Atoms are lower-cased and must have exactly two or three dash-separated
// parts. States are cloned before every hypothetical transition; clones are
// copy-on-write so backtracking search can keep many snapshots alive.
package facts
