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

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync/atomic"
)

// RemovedValue marks a relation/entity pair that a transition deleted.
//
// It never appears inside a State; it only shows up in diffs and in the
// expectation maps derived from them.
const RemovedValue = "\x00removed"

// State is a relation -> entity -> value snapshot of the world.
//
// Description:
//
//	States are immutable by convention. Every hypothetical transition works
//	on a Clone. Clones share the inner relation maps with their parent and
//	copy a relation map the first time it is written (copy-on-write), so a
//	clone costs O(relations) instead of O(facts).
//
//	Reads must go through Get/Has: an absent relation or entity is
//	"unknown", which is not the same as a false or empty value.
//
// Thread Safety: Safe for concurrent reads. Writers must own the State
// (i.e. it must be a fresh Clone not yet shared with another goroutine).
type State struct {
	relations map[string]map[string]string
	owned     map[string]bool

	// shared is set once the relation maps are visible to a clone. After
	// that every write copies the relation map first.
	shared atomic.Bool
}

// New creates an empty State.
func New() *State {
	return &State{
		relations: make(map[string]map[string]string),
		owned:     make(map[string]bool),
	}
}

// Clone returns a copy-on-write copy of the state.
//
// Outputs:
//   - *State: A state that observes the same facts. Writes to either copy are
//     invisible to the other.
func (s *State) Clone() *State {
	c := &State{
		relations: make(map[string]map[string]string, len(s.relations)),
		owned:     make(map[string]bool),
	}
	for rel, ents := range s.relations {
		c.relations[rel] = ents
	}
	s.shared.Store(true)
	return c
}

// Get returns the value stored for (rel, ent) and whether it is known.
func (s *State) Get(rel, ent string) (string, bool) {
	ents, ok := s.relations[rel]
	if !ok {
		return "", false
	}
	v, ok := ents[ent]
	return v, ok
}

// Has reports whether (rel, ent) holds exactly val.
func (s *State) Has(rel, ent, val string) bool {
	v, ok := s.Get(rel, ent)
	return ok && v == val
}

// Set stores val for (rel, ent).
func (s *State) Set(rel, ent, val string) {
	s.writable(rel)[ent] = val
}

// Delete removes (rel, ent). Deleting an unknown pair is a no-op.
func (s *State) Delete(rel, ent string) {
	if _, ok := s.Get(rel, ent); !ok {
		return
	}
	ents := s.writable(rel)
	delete(ents, ent)
	if len(ents) == 0 {
		delete(s.relations, rel)
		delete(s.owned, rel)
	}
}

func (s *State) writable(rel string) map[string]string {
	ents, ok := s.relations[rel]
	if ok && s.owned[rel] && !s.shared.Load() {
		return ents
	}
	if s.shared.Load() {
		// Maps owned before the clone are now shared too.
		s.owned = make(map[string]bool)
		s.shared.Store(false)
	}
	cp := make(map[string]string, len(ents)+1)
	for k, v := range ents {
		cp[k] = v
	}
	s.relations[rel] = cp
	s.owned[rel] = true
	return cp
}

// Entities returns the sorted entity ids known under rel.
func (s *State) Entities(rel string) []string {
	ents := s.relations[rel]
	out := make([]string, 0, len(ents))
	for e := range ents {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Relations returns the sorted relation names present in the state.
func (s *State) Relations() []string {
	out := make([]string, 0, len(s.relations))
	for r := range s.relations {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of (relation, entity) facts.
func (s *State) Len() int {
	n := 0
	for _, ents := range s.relations {
		n += len(ents)
	}
	return n
}

// Each calls fn for every fact in canonical (sorted) order.
func (s *State) Each(fn func(rel, ent, val string)) {
	for _, rel := range s.Relations() {
		ents := s.relations[rel]
		for _, ent := range s.Entities(rel) {
			fn(rel, ent, ents[ent])
		}
	}
}

// Canonical returns the sorted atom serialization of the state.
//
// Two states with the same facts always produce byte-identical output, which
// is what the repeat-state detector compares.
func (s *State) Canonical() string {
	return strings.Join(s.Atoms(), "\n")
}

// Key returns the SHA-256 hex digest of Canonical.
func (s *State) Key() string {
	h := sha256.Sum256([]byte(s.Canonical()))
	return hex.EncodeToString(h[:])
}

// Equal reports whether both states hold the same facts.
func (s *State) Equal(o *State) bool {
	if s.Len() != o.Len() {
		return false
	}
	for rel, ents := range s.relations {
		for ent, v := range ents {
			if !o.Has(rel, ent, v) {
				return false
			}
		}
	}
	return true
}

// Diff returns the facts that changed going from prior to next.
//
// Description:
//
//	Pairs whose value changed or that were added map to their new value.
//	Pairs present in prior but absent from next map to RemovedValue.
//
// Outputs:
//   - Record: The changed facts. Empty when the states are equal.
func Diff(prior, next *State) Record {
	out := Record{}
	for rel, ents := range next.relations {
		for ent, v := range ents {
			if !prior.Has(rel, ent, v) {
				out.Add(rel, ent, v)
			}
		}
	}
	for rel, ents := range prior.relations {
		for ent := range ents {
			if _, ok := next.Get(rel, ent); !ok {
				out.Add(rel, ent, RemovedValue)
			}
		}
	}
	return out
}
