// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "grounding",
			Name:      "searches_total",
			Help:      "Total grounding searches by outcome",
		},
		[]string{"outcome"},
	)

	candidatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "htn",
			Subsystem: "grounding",
			Name:      "candidates_total",
			Help:      "Total grounded candidates admitted by the prefilter and preconditions",
		},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "htn",
			Subsystem: "grounding",
			Name:      "search_duration_seconds",
			Help:      "Grounding search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
