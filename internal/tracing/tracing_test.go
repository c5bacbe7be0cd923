package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{ServiceName: "bdbt-analytics"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if provider.Tracer("test") == nil {
		t.Error("expected a no-op tracer")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing service name", Config{Enabled: true, SampleRate: 0.1}},
		{"negative rate", Config{Enabled: true, ServiceName: "svc", SampleRate: -0.1}},
		{"rate above one", Config{Enabled: true, ServiceName: "svc", SampleRate: 1.5}},
		{"unknown exporter", Config{Enabled: true, ServiceName: "svc", SampleRate: 0.1, Exporter: "zipkin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		rate     float64
		endpoint string
	}{
		{"http partial sampling", ExporterOTLPHTTP, 0.1, "localhost:4318"},
		{"grpc full sampling", ExporterOTLPGRPC, 1.0, "localhost:4317"},
		{"default exporter no sampling", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(Config{
				ServiceName: "bdbt-analytics",
				Enabled:     true,
				Environment: "test",
				Exporter:    tt.exporter,
				Endpoint:    tt.endpoint,
				SampleRate:  tt.rate,
				Insecure:    true,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			_, span := provider.Tracer("test").Start(context.Background(), "span")
			span.End()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			// The collector is absent; Shutdown may report the failed flush.
			_ = provider.Shutdown(ctx)
		})
	}
}
