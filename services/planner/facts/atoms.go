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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedAtom indicates an atom that is not relation-entity[-value].
var ErrMalformedAtom = errors.New("malformed atom")

// atomSeparator separates the parts of an atom.
const atomSeparator = "-"

// ParseError reports the atom that could not be parsed.
type ParseError struct {
	Atom  string
	Index int
	Parts int
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("parse atom %q: expected 2 or 3 dash-separated parts, got %d", e.Atom, e.Parts)
	}
	return fmt.Sprintf("parse atom %d %q: expected 2 or 3 dash-separated parts, got %d", e.Index, e.Atom, e.Parts)
}

// Unwrap lets errors.Is match ErrMalformedAtom.
func (e *ParseError) Unwrap() error {
	return ErrMalformedAtom
}

// ParseAtom splits a single atom into (relation, entity, value).
//
// Description:
//
//	The atom is trimmed and lower-cased first. "relation-entity" yields an
//	empty value; "relation-entity-value" yields the third part. Any other
//	arity, or an empty relation/entity, is a ParseError.
func ParseAtom(atom string) (rel, ent, val string, err error) {
	norm := strings.ToLower(strings.TrimSpace(atom))
	parts := strings.Split(norm, atomSeparator)
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", &ParseError{Atom: atom, Index: -1, Parts: len(parts)}
	}
	if len(parts) == 3 {
		val = parts[2]
	}
	return parts[0], parts[1], val, nil
}

// ParseAtoms builds a State from a list of atoms.
//
// Description:
//
//	Blank lines are skipped. The first malformed atom aborts parsing; no
//	partial state is returned.
//
// Inputs:
//   - atoms: Atom strings, one fact each.
//
// Outputs:
//   - *State: The parsed state.
//   - error: *ParseError naming the offending atom.
func ParseAtoms(atoms []string) (*State, error) {
	s := New()
	for i, a := range atoms {
		if strings.TrimSpace(a) == "" {
			continue
		}
		rel, ent, val, err := ParseAtom(a)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Index = i
			}
			return nil, err
		}
		s.Set(rel, ent, val)
	}
	return s, nil
}

// FormatAtom is the inverse of ParseAtom.
func FormatAtom(rel, ent, val string) string {
	if val == "" {
		return rel + atomSeparator + ent
	}
	return rel + atomSeparator + ent + atomSeparator + val
}

// Atoms serializes the state back into sorted atoms.
func (s *State) Atoms() []string {
	out := make([]string, 0, s.Len())
	s.Each(func(rel, ent, val string) {
		out = append(out, FormatAtom(rel, ent, val))
	})
	sort.Strings(out)
	return out
}
