// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plancache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "htn",
		Subsystem: "plancache",
		Name:      "hits_total",
		Help:      "Total plan cache hits",
	})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "htn",
		Subsystem: "plancache",
		Name:      "misses_total",
		Help:      "Total plan cache misses",
	})

	writesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "htn",
		Subsystem: "plancache",
		Name:      "writes_total",
		Help:      "Total plans written to the cache",
	})
)
