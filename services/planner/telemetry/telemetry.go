// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry configures OpenTelemetry tracing and metrics for the
// planner service and provides span and logger helpers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Package-level error definitions.
var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Exporter names accepted by Config.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config selects exporters and describes the planner as an OTel resource.
type Config struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`
	Environment    string `json:"environment" yaml:"environment"`

	// Domain is attached to every span and metric as htn.domain.
	Domain string `json:"domain" yaml:"domain"`

	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// SampleRatio is the fraction of root spans kept. 1 keeps all.
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`

	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
}

// DefaultConfig returns development defaults. HTN_ENV,
// OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT override the matching fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "htn-planner",
		ServiceVersion: "1.0.0",
		Environment:    envOr("HTN_ENV", "development"),
		Domain:         "combat",
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		SampleRatio:    1,
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

type (
	spanExporterFactory func(ctx context.Context, cfg Config) (trace.SpanExporter, error)
	metricReaderFactory func(ctx context.Context, cfg Config) (metric.Reader, error)
)

var spanExporters = map[string]spanExporterFactory{
	ExporterOTLP: func(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	ExporterStdout: func(context.Context, Config) (trace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
}

var metricReaders = map[string]metricReaderFactory{
	ExporterPrometheus: func(context.Context, Config) (metric.Reader, error) {
		reader, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		setMetricsHandler(promhttp.Handler())
		return reader, nil
	},
	ExporterStdout: func(context.Context, Config) (metric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exp), nil
	},
}

// Init installs the global TracerProvider and MeterProvider for cfg.
//
// Description:
//
//	An empty or "none" exporter leaves the matching global provider
//	untouched, so NewTracer falls back to no-op spans. Providers that
//	were started are shut down again if a later one fails.
//
// Outputs:
//
//	shutdown - Flushes and stops every started provider.
//	error - ErrNilContext, ErrUnknownExporter, or an exporter failure.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("htn.domain", cfg.Domain),
	)

	if enabled(cfg.TraceExporter) {
		newExporter, ok := spanExporters[cfg.TraceExporter]
		if !ok {
			return nil, fmt.Errorf("%w: trace %q", ErrUnknownExporter, cfg.TraceExporter)
		}
		exp, err := newExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exp),
			trace.WithResource(res),
			trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRatio))),
		)
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if enabled(cfg.MetricExporter) {
		newReader, ok := metricReaders[cfg.MetricExporter]
		if !ok {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("%w: metric %q", ErrUnknownExporter, cfg.MetricExporter)
		}
		reader, err := newReader(ctx, cfg)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	return shutdown, nil
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != ExporterNone
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	metricsHandler   http.Handler
	metricsHandlerMu sync.RWMutex
)

func setMetricsHandler(h http.Handler) {
	metricsHandlerMu.Lock()
	metricsHandler = h
	metricsHandlerMu.Unlock()
}

// MetricsHandler serves /metrics. Before Init registers the Prometheus
// exporter it still serves the client_golang default registry.
func MetricsHandler() http.Handler {
	metricsHandlerMu.RLock()
	defer metricsHandlerMu.RUnlock()
	if metricsHandler == nil {
		return promhttp.Handler()
	}
	return metricsHandler
}
