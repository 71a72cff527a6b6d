// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

const requestIDKey = "request_id"

// RouterConfig controls the middleware stack.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Tracing enables otelgin request spans.
	Tracing bool

	// Metrics serves GET /metrics.
	Metrics bool

	// RateLimit is requests per second across /v1. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size.
	Burst int

	// Limiter, when set, is used instead of one built from RateLimit and
	// Burst so the caller can retune it at runtime.
	Limiter *rate.Limiter
}

// NewLimiter builds a limiter for perSecond requests. Zero or less means
// unlimited, so a limiter can later be tightened with SetLimit.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(Limit(perSecond), max(burst, 1))
}

// Limit maps a requests-per-second setting to a rate.Limit.
func Limit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// RegisterRoutes registers the planner routes on rg.
//
// Endpoints:
//
//	POST /htn/plan       - Plan an explicit task or ground templates
//	POST /htn/deviation  - Match an observed world against a planned step
//	GET  /htn/health     - Registry and planner health
//	GET  /htn/domain     - Registered operators, compound tasks and templates
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	htn := rg.Group("/htn")
	{
		htn.POST("/plan", handlers.HandlePlan)
		htn.POST("/deviation", handlers.HandleDeviation)
		htn.GET("/health", handlers.HandleHealth)
		htn.GET("/domain", handlers.HandleDomain)
	}
}

// NewRouter builds the gin engine with recovery, tracing, request IDs,
// metrics and rate limiting.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(requestIDMiddleware(), metricsMiddleware())

	if cfg.Metrics {
		router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	}

	v1 := router.Group("/v1")
	limiter := cfg.Limiter
	if limiter == nil && cfg.RateLimit > 0 {
		limiter = NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	if limiter != nil {
		v1.Use(rateLimitMiddleware(limiter))
	}
	RegisterRoutes(v1, handlers)
	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			rateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "RATE_LIMITED",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}
