package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
)

// Executor hands a backup to the backup engine over HTTP.
type Executor struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewExecutor(engineURL string, timeout time.Duration) *Executor {
	return &Executor{
		client:  &http.Client{}, // no global timeout, each run sets its own
		url:     engineURL,
		timeout: timeout,
	}
}

type ExecutionResult struct {
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Failed reports whether the engine did not accept the backup.
func (r ExecutionResult) Failed() bool {
	return r.Err != nil || r.StatusCode < 200 || r.StatusCode > 299
}

// Error describes a failed result.
func (r ExecutionResult) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("unexpected status code: %d", r.StatusCode)
}

type backupRequest struct {
	RunID      string   `json:"run_id"`
	ScheduleID string   `json:"schedule_id,omitempty"`
	Files      []string `json:"files"`
	Databases  []string `json:"databases"`
}

func (e *Executor) Run(ctx context.Context, s *domain.Schedule, runID string) ExecutionResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(backupRequest{
		RunID:      runID,
		ScheduleID: s.ID,
		Files:      nonNil(s.Files),
		Databases:  nonNil(s.Databases),
	})
	if err != nil {
		return ExecutionResult{Err: fmt.Errorf("encode request: %w", err), Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return ExecutionResult{Err: fmt.Errorf("build request: %w", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return ExecutionResult{Err: fmt.Errorf("do request: %w", err), Duration: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	return ExecutionResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
