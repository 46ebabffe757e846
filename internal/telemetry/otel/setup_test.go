package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Config{Endpoint: endpoint, ServiceName: "partner-sync-test"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Errorf("NewProviders(%q) left a provider nil: %+v", endpoint, providers)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed URL", "http://[invalid"},
		{"missing host", "http://"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), Config{Endpoint: tc.endpoint}); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	testCases := []struct {
		endpoint     string
		override     bool
		wantHost     string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317/v1/traces", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
		{"http://collector:4317?param=value", false, "collector:4317", true},
	}
	for _, tc := range testCases {
		host, insecure, err := target(tc.endpoint, tc.override)
		if err != nil {
			t.Fatalf("target(%q): %v", tc.endpoint, err)
		}
		if host != tc.wantHost || insecure != tc.wantInsecure {
			t.Errorf("target(%q, %v) = %q, %v; want %q, %v", tc.endpoint, tc.override, host, insecure, tc.wantHost, tc.wantInsecure)
		}
	}
}

func TestNewProviders_LazyExporters(t *testing.T) {
	// OTLP gRPC exporters connect lazily, so construction succeeds without a collector.
	ctx := context.Background()
	providers, err := NewProviders(ctx, Config{Endpoint: "localhost:4317", ServiceName: "partner-sync-test", Insecure: true})
	if err != nil {
		t.Logf("exporter creation failed without collector: %v", err)
		return
	}
	if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
		t.Error("providers should be created")
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = providers.Shutdown(shutdownCtx)
}

func TestSetGlobal_PartialProviders(t *testing.T) {
	ctx := context.Background()
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(ctx) }()

	oldTracerProvider := otel.GetTracerProvider()
	oldMeterProvider := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTracerProvider)
		otel.SetMeterProvider(oldMeterProvider)
	}()

	(&Providers{TracerProvider: tp}).SetGlobal()

	if otel.GetTracerProvider() == oldTracerProvider {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() != oldMeterProvider {
		t.Error("MeterProvider should not be updated when nil")
	}
}

func TestSetGlobal_NilProviders(t *testing.T) {
	(&Providers{}).SetGlobal()
}
