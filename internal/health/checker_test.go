package health_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ErlanBelekov/backup-agent/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func newTestChecker(deps ...health.Dependency) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return health.NewChecker(slog.Default(), reg, deps...), reg
}

func TestLiveness_AlwaysUp(t *testing.T) {
	c, _ := newTestChecker(health.Dependency{Name: "history", Pinger: &mockPinger{err: errors.New("db down")}})

	result := c.Liveness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("expected no checks, got %v", result.Checks)
	}
}

func TestReadiness_AllUp(t *testing.T) {
	c, reg := newTestChecker(
		health.Dependency{Name: "history", Pinger: &mockPinger{}},
		health.Dependency{Name: "backend", Pinger: &mockPinger{}},
	)

	result := c.Readiness(context.Background())
	if result.Status != "up" {
		t.Fatalf("expected status up, got %s", result.Status)
	}
	for _, name := range []string{"history", "backend"} {
		if result.Checks[name].Status != "up" {
			t.Errorf("%s: expected up, got %q", name, result.Checks[name].Status)
		}
	}

	n, err := testutil.GatherAndCount(reg, "backup_agent_health_check_up")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 gauge series, got %d", n)
	}
}

func TestReadiness_OneDown(t *testing.T) {
	c, reg := newTestChecker(
		health.Dependency{Name: "history", Pinger: &mockPinger{err: errors.New("disk I/O error")}},
		health.Dependency{Name: "backend", Pinger: &mockPinger{}},
	)

	result := c.Readiness(context.Background())
	if result.Status != "down" {
		t.Fatalf("expected status down, got %s", result.Status)
	}
	h := result.Checks["history"]
	if h.Status != "down" || h.Error == "" {
		t.Fatalf("unexpected history check %+v", h)
	}
	if result.Checks["backend"].Status != "up" {
		t.Fatalf("backend should stay up")
	}

	if g := testGauge(t, reg, "backup_agent_health_check_up", "history"); g != 0 {
		t.Fatalf("expected gauge 0, got %f", g)
	}
	if g := testGauge(t, reg, "backup_agent_health_check_up", "backend"); g != 1 {
		t.Fatalf("expected gauge 1, got %f", g)
	}
}

func testGauge(t *testing.T, reg *prometheus.Registry, name, depLabel string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == depLabel {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{dependency=%q} not found", name, depLabel)
	return 0
}
