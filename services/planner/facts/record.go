// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facts

import "sort"

// Record is a relation -> entity -> value sub-mapping of a State.
//
// Operators and methods return a Record of the facts they consulted
// (their precondition record). The engine also uses Records for the diff
// between two states.
type Record map[string]map[string]string

// Add stores (rel, ent, val) in the record.
func (r Record) Add(rel, ent, val string) Record {
	ents, ok := r[rel]
	if !ok {
		ents = make(map[string]string)
		r[rel] = ents
	}
	ents[ent] = val
	return r
}

// Observe copies the current value of (rel, ent) from st into the record,
// if it is known.
func (r Record) Observe(st *State, rel, ent string) Record {
	if v, ok := st.Get(rel, ent); ok {
		r.Add(rel, ent, v)
	}
	return r
}

// Touches reports whether the record mentions (rel, ent).
func (r Record) Touches(rel, ent string) bool {
	_, ok := r[rel][ent]
	return ok
}

// Len returns the number of triples in the record.
func (r Record) Len() int {
	n := 0
	for _, ents := range r {
		n += len(ents)
	}
	return n
}

// Relations returns the sorted relation names in the record.
func (r Record) Relations() []string {
	out := make([]string, 0, len(r))
	for rel := range r {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for rel, ents := range r {
		cp := make(map[string]string, len(ents))
		for e, v := range ents {
			cp[e] = v
		}
		out[rel] = cp
	}
	return out
}

// Satisfied reports whether every triple of the record holds in st.
// Removal markers hold when the pair is absent.
func (r Record) Satisfied(st *State) bool {
	for rel, ents := range r {
		for ent, val := range ents {
			if val == RemovedValue {
				if _, ok := st.Get(rel, ent); ok {
					return false
				}
				continue
			}
			if !st.Has(rel, ent, val) {
				return false
			}
		}
	}
	return true
}
