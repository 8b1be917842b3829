package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kenesbay/cargobot/internal/config"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestNilAccessors(t *testing.T) {
	var obs *Observability
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Registered(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// CounterVec children only appear in Gather after first use.
	m.RecordCommand("search_order", "executed", 0.05)
	m.RecordConfirmation("delete_order", "confirmed")
	m.RecordLLMRequest("openai", "gpt-4o-mini", "success", 1.2)
	m.RecordBackendRequest("GET", "/api/orders", "200", 0.03)
	m.RecordMessage("message", "staff")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"cargobot_command_dispatched_total",
		"cargobot_confirmation_total",
		"cargobot_llm_requests_total",
		"cargobot_backend_requests_total",
		"cargobot_telegram_messages_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordCommand("delete_order", "executed", 0.1)
	m.RecordCommand("delete_order", "executed", 0.2)
	m.RecordCommand("delete_order", "not_found", 0.1)

	got := counterValue(t, m.Registry, "cargobot_command_dispatched_total",
		prometheus.Labels{"tool": "delete_order", "status": "executed"})
	if got != 2 {
		t.Errorf("executed count = %v, want 2", got)
	}
	got = counterValue(t, m.Registry, "cargobot_command_dispatched_total",
		prometheus.Labels{"tool": "delete_order", "status": "not_found"})
	if got != 1 {
		t.Errorf("not_found count = %v, want 1", got)
	}
}

func TestMetricsCollector_TokensByDirection(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordTokens("gemini", "gemini-2.0-flash", 120, 45)

	in := counterValue(t, m.Registry, "cargobot_llm_tokens_used_total",
		prometheus.Labels{"provider": "gemini", "model": "gemini-2.0-flash", "direction": "input"})
	if in != 120 {
		t.Errorf("input tokens = %v, want 120", in)
	}
	out := counterValue(t, m.Registry, "cargobot_llm_tokens_used_total",
		prometheus.Labels{"provider": "gemini", "model": "gemini-2.0-flash", "direction": "output"})
	if out != 45 {
		t.Errorf("output tokens = %v, want 45", out)
	}
}

func TestMetricsCollector_NilSafe(t *testing.T) {
	// All recording helpers should be no-ops on a nil collector.
	var m *MetricsCollector
	m.RecordCommand("search_order", "executed", 0.1)
	m.RecordConfirmation("delete_order", "cancelled")
	m.RecordLLMRequest("openai", "gpt-4o-mini", "error", 0.5)
	m.RecordTokens("openai", "gpt-4o-mini", 10, 20)
	m.RecordBackendRequest("POST", "/api/orders", "500", 0.2)
	m.RecordMessage("callback", "customer")
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("session_db", func(ctx context.Context) error { return nil })
	h.AddCheck("crm_backend", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["session_db"].Status != "ok" {
		t.Errorf("session_db check = %q, want ok", status.Checks["session_db"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("session_db", func(ctx context.Context) error { return nil })
	h.AddCheck("crm_backend", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["crm_backend"].Status != "fail" {
		t.Errorf("crm_backend check = %q, want fail", status.Checks["crm_backend"].Status)
	}
	if status.Checks["session_db"].Status != "ok" {
		t.Errorf("session_db check = %q, want ok", status.Checks["session_db"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}
