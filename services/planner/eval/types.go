// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval declares the property and metric contracts planner components
// expose for verification.
package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Package-level error definitions.
var (
	// ErrInvalidProperty is returned when a property is malformed.
	ErrInvalidProperty = errors.New("invalid property definition")

	// ErrPropertyFailed is returned when a property check fails.
	ErrPropertyFailed = errors.New("property check failed")
)

// Evaluable is implemented by components that publish correctness properties.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Evaluable interface {
	// Name returns a stable identifier suitable for metric labels.
	Name() string

	// Properties returns the invariants the component guarantees.
	Properties() []Property

	// Metrics returns the metrics the component exposes.
	Metrics() []MetricDefinition

	// HealthCheck returns nil when the component can serve requests.
	HealthCheck(ctx context.Context) error
}

// Property defines a correctness invariant checked against an
// input/output pair.
type Property struct {
	// Name is lowercase with underscores (e.g., "terminal_reachable").
	Name string

	// Description explains what the property verifies.
	Description string

	// Check returns nil if the property holds.
	Check func(input any, output any) error

	// Tags categorize the property for selective checking.
	Tags []string

	// Timeout bounds a single check. Zero means no bound.
	Timeout time.Duration
}

// Validate checks that the property is well-formed.
func (p *Property) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProperty)
	}
	if p.Description == "" {
		return fmt.Errorf("%w: description is required for %s", ErrInvalidProperty, p.Name)
	}
	if p.Check == nil {
		return fmt.Errorf("%w: check function is required for %s", ErrInvalidProperty, p.Name)
	}
	return nil
}

// HasTag returns true if this property has the specified tag.
func (p *Property) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MetricType identifies the type of metric.
type MetricType int

const (
	// MetricCounter is a monotonically increasing value.
	MetricCounter MetricType = iota
	// MetricGauge is a value that can go up or down.
	MetricGauge
	// MetricHistogram records observations in buckets.
	MetricHistogram
)

// String returns the string representation of a MetricType.
func (m MetricType) String() string {
	switch m {
	case MetricCounter:
		return "counter"
	case MetricGauge:
		return "gauge"
	case MetricHistogram:
		return "histogram"
	default:
		return fmt.Sprintf("metric_type(%d)", m)
	}
}

// MetricDefinition describes a metric exposed by a component.
type MetricDefinition struct {
	Name        string
	Type        MetricType
	Description string
	Labels      []string
	Buckets     []float64
}

// Validate checks that the metric definition is well-formed.
func (m *MetricDefinition) Validate() error {
	if m.Name == "" {
		return errors.New("metric name is required")
	}
	if m.Description == "" {
		return errors.New("metric description is required")
	}
	if m.Type == MetricHistogram && len(m.Buckets) == 0 {
		return errors.New("histogram metrics require buckets")
	}
	return nil
}

// PropertyResult is the outcome of one property check.
type PropertyResult struct {
	Name     string
	Passed   bool
	Error    error
	Duration time.Duration
}

// VerifyResult collects the property results for one input/output pair.
type VerifyResult struct {
	Component  string
	Properties []PropertyResult
}

// Passed reports whether every property held.
func (r *VerifyResult) Passed() bool {
	return len(r.FailedProperties()) == 0
}

// FailedProperties returns the results of failed properties, sorted by name.
func (r *VerifyResult) FailedProperties() []PropertyResult {
	var failed []PropertyResult
	for _, p := range r.Properties {
		if !p.Passed {
			failed = append(failed, p)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Name < failed[j].Name })
	return failed
}

// Verify runs every property of c against the pair.
//
// Description:
//
//	Malformed properties are reported as failures. A property with tags is
//	skipped unless it carries one of the requested tags; with no tags
//	requested every property runs.
func Verify(c Evaluable, input, output any, tags ...string) *VerifyResult {
	res := &VerifyResult{Component: c.Name()}
	for _, p := range c.Properties() {
		if len(tags) > 0 && !hasAny(&p, tags) {
			continue
		}
		if err := p.Validate(); err != nil {
			res.Properties = append(res.Properties, PropertyResult{Name: p.Name, Error: err})
			continue
		}
		start := time.Now()
		err := p.Check(input, output)
		res.Properties = append(res.Properties, PropertyResult{
			Name:     p.Name,
			Passed:   err == nil,
			Error:    err,
			Duration: time.Since(start),
		})
	}
	return res
}

func hasAny(p *Property, tags []string) bool {
	for _, t := range tags {
		if p.HasTag(t) {
			return true
		}
	}
	return false
}
