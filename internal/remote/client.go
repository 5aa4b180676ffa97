// Package remote talks to the management backend: it pulls schedule
// definitions and reports the outcome of every backup occurrence.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/source"
)

// ErrUnexpectedStatus is returned when the backend answers with a non-200 code.
var ErrUnexpectedStatus = errors.New("unexpected status from backend")

type Client struct {
	baseURL string
	uuid    string
	key     string
	http    *http.Client
}

func NewClient(baseURL, agentUUID, agentKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		uuid:    agentUUID,
		key:     agentKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Fetch returns the full set of schedule definitions assigned to this agent.
func (c *Client) Fetch(ctx context.Context) ([]source.Record, error) {
	body, err := c.get(ctx, "get/schedules")
	if err != nil {
		return nil, err
	}
	var recs []source.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	return recs, nil
}

// ReportBackup posts the outcome of one occurrence to /api/backup/<status>/.
func (c *Client) ReportBackup(ctx context.Context, report domain.BackupReport) error {
	form := url.Values{}
	form.Set("schedule", report.ScheduleID)
	form.Set("run", report.RunID)
	form.Set("time", strconv.FormatInt(report.StartedAt.Unix(), 10))
	form.Set("finished", strconv.FormatInt(report.FinishedAt.Unix(), 10))
	form.Set("attempts", strconv.Itoa(report.Attempts))
	if report.Error != "" {
		form.Set("error", report.Error)
	}
	if len(report.Databases) > 0 {
		dbs, err := json.Marshal(report.Databases)
		if err != nil {
			return fmt.Errorf("encode databases: %w", err)
		}
		form.Set("db_names", string(dbs))
	}

	_, err := c.post(ctx, "backup/"+string(report.Status), form)
	return err
}

// Ping checks that the backend is reachable and accepts our credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "version/current")
	return err
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/%s/", c.baseURL, path)
}

func (c *Client) auth(v url.Values) url.Values {
	v.Set("uuid", c.uuid)
	v.Set("key", c.key)
	return v
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	u := c.endpoint(path) + "?" + c.auth(url.Values{}).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(c.auth(form).Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json, text/plain")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %w: %d", req.Method, req.URL.Path, ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}
