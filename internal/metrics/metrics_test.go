package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ErlanBelekov/backup-agent/internal/health"
	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, dep health.Dependency, path string) (*httptest.ResponseRecorder, health.HealthResult) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checker := health.NewChecker(logger, prometheus.NewRegistry(), dep)
	srv := metrics.NewServer(":0", checker)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var res health.HealthResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return w, res
}

func TestServer_ReadyzReportsDownDependency(t *testing.T) {
	w, res := serve(t, health.Dependency{Name: "history", Pinger: pinger{err: errors.New("locked")}}, "/readyz")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if res.Checks["history"].Status == "up" {
		t.Errorf("checks = %+v", res.Checks)
	}
}

func TestServer_HealthzIgnoresDependencies(t *testing.T) {
	w, res := serve(t, health.Dependency{Name: "history", Pinger: pinger{err: errors.New("locked")}}, "/healthz")

	if w.Code != http.StatusOK || res.Status != "up" {
		t.Errorf("status = %d result = %+v", w.Code, res)
	}
}
