// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package htn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianHTN/services/planner/eval"
)

var (
	// plansTotal counts planning calls.
	//
	// Labels:
	//   - outcome: "found", "not_found" or "error"
	plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Total planning calls by outcome",
		},
		[]string{"outcome"},
	)

	planDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "plan_duration_seconds",
			Help:      "Planning call duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	planNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "plan_nodes",
			Help:      "Plan graph size per planning call",
			Buckets:   []float64{4, 16, 64, 256, 1024, 4096, 16384},
		},
	)

	backtracksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "backtracks_total",
			Help:      "Total method alternatives abandoned after a subtask failed",
		},
	)

	repeatLinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "repeat_links_total",
			Help:      "Total repeat-state links created",
		},
	)

	branchRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "planner",
			Name:      "branch_runs_total",
			Help:      "Total contingency runs planned from failure states",
		},
	)
)

func recordMetrics(outcome string, stats Stats) {
	plansTotal.WithLabelValues(outcome).Inc()
	planDurationSeconds.Observe(stats.Duration.Seconds())
	planNodes.Observe(float64(stats.Nodes))
	backtracksTotal.Add(float64(stats.Backtracks))
	repeatLinksTotal.Add(float64(stats.RepeatLinks))
	branchRunsTotal.Add(float64(stats.BranchRuns))
}

// Metrics returns the metrics this planner exposes.
func (p *Planner) Metrics() []eval.MetricDefinition {
	return []eval.MetricDefinition{
		{
			Name:        "htn_planner_plans_total",
			Type:        eval.MetricCounter,
			Description: "Total planning calls by outcome",
			Labels:      []string{"outcome"},
		},
		{
			Name:        "htn_planner_plan_duration_seconds",
			Type:        eval.MetricHistogram,
			Description: "Planning call duration in seconds",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		{
			Name:        "htn_planner_plan_nodes",
			Type:        eval.MetricHistogram,
			Description: "Plan graph size per planning call",
			Buckets:     []float64{4, 16, 64, 256, 1024, 4096, 16384},
		},
		{
			Name:        "htn_planner_backtracks_total",
			Type:        eval.MetricCounter,
			Description: "Total method alternatives abandoned after a subtask failed",
		},
		{
			Name:        "htn_planner_repeat_links_total",
			Type:        eval.MetricCounter,
			Description: "Total repeat-state links created",
		},
		{
			Name:        "htn_planner_branch_runs_total",
			Type:        eval.MetricCounter,
			Description: "Total contingency runs planned from failure states",
		},
	}
}
