// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"sort"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Dist maps a value to its probability.
type Dist map[string]float64

// Sum returns the total probability mass of the distribution.
func (d Dist) Sum() float64 {
	var s float64
	for _, p := range d {
		s += p
	}
	return s
}

// Values returns the values in sorted order.
func (d Dist) Values() []string {
	out := make([]string, 0, len(d))
	for v := range d {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Expectation maps relation -> entity -> value distribution.
type Expectation map[string]map[string]Dist

// Singleton wraps a scalar record into the {value: 1.0} shape.
func Singleton(r facts.Record) Expectation {
	out := Expectation{}
	for rel, ents := range r {
		for ent, val := range ents {
			out.Set(rel, ent, val, 1.0)
		}
	}
	return out
}

// Get returns the distribution for (rel, ent), or nil.
func (e Expectation) Get(rel, ent string) Dist {
	return e[rel][ent]
}

// Prob returns the probability recorded for (rel, ent, val).
func (e Expectation) Prob(rel, ent, val string) float64 {
	return e[rel][ent][val]
}

// Has reports whether (rel, ent) has any distribution.
func (e Expectation) Has(rel, ent string) bool {
	_, ok := e[rel][ent]
	return ok
}

// Set writes probability p for (rel, ent, val).
func (e Expectation) Set(rel, ent, val string, p float64) {
	ents, ok := e[rel]
	if !ok {
		ents = make(map[string]Dist)
		e[rel] = ents
	}
	d, ok := ents[ent]
	if !ok {
		d = make(Dist)
		ents[ent] = d
	}
	d[val] = p
}

// Replace overwrites the whole distribution of (rel, ent).
func (e Expectation) Replace(rel, ent string, d Dist) {
	ents, ok := e[rel]
	if !ok {
		ents = make(map[string]Dist)
		e[rel] = ents
	}
	ents[ent] = d
}

// Drop removes (rel, ent).
func (e Expectation) Drop(rel, ent string) {
	ents, ok := e[rel]
	if !ok {
		return
	}
	delete(ents, ent)
	if len(ents) == 0 {
		delete(e, rel)
	}
}

// Clone returns a deep copy.
func (e Expectation) Clone() Expectation {
	out := make(Expectation, len(e))
	for rel, ents := range e {
		cp := make(map[string]Dist, len(ents))
		for ent, d := range ents {
			dc := make(Dist, len(d))
			for v, p := range d {
				dc[v] = p
			}
			cp[ent] = dc
		}
		out[rel] = cp
	}
	return out
}

// Len returns the number of (relation, entity) pairs.
func (e Expectation) Len() int {
	n := 0
	for _, ents := range e {
		n += len(ents)
	}
	return n
}

// Each visits every (rel, ent, dist) in sorted order.
func (e Expectation) Each(fn func(rel, ent string, d Dist)) {
	rels := make([]string, 0, len(e))
	for rel := range e {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		ents := make([]string, 0, len(e[rel]))
		for ent := range e[rel] {
			ents = append(ents, ent)
		}
		sort.Strings(ents)
		for _, ent := range ents {
			fn(rel, ent, e[rel][ent])
		}
	}
}

// addWeighted accumulates w*src into e, capping every value at 1.0.
func (e Expectation) addWeighted(src Expectation, w float64) {
	for rel, ents := range src {
		for ent, d := range ents {
			for v, p := range d {
				cur := e.Prob(rel, ent, v)
				e.Set(rel, ent, v, capProb(cur+w*p))
			}
		}
	}
}

// overlay writes every pair of top into e, replacing e's distribution for it.
func (e Expectation) overlay(top Expectation) {
	for rel, ents := range top {
		for ent, d := range ents {
			dc := make(Dist, len(d))
			for v, p := range d {
				dc[v] = p
			}
			e.Replace(rel, ent, dc)
		}
	}
}

// underlay writes pairs of bottom that e does not mention yet.
func (e Expectation) underlay(bottom Expectation) {
	for rel, ents := range bottom {
		for ent, d := range ents {
			if e.Has(rel, ent) {
				continue
			}
			dc := make(Dist, len(d))
			for v, p := range d {
				dc[v] = p
			}
			e.Replace(rel, ent, dc)
		}
	}
}

// without returns a copy of e with every pair mentioned by mask removed.
func (e Expectation) without(mask Expectation) Expectation {
	out := e.Clone()
	for rel, ents := range mask {
		for ent := range ents {
			out.Drop(rel, ent)
		}
	}
	return out
}

func capProb(p float64) float64 {
	if p > 1.0 {
		return 1.0
	}
	return p
}
