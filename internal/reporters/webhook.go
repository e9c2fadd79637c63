package reporters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// WebhookPayload represents the payload sent to webhooks
type WebhookPayload struct {
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Summary   WebhookSummary  `json:"summary"`
	Jobs      []WebhookJob    `json:"jobs"`
	Text      string          `json:"text,omitempty"`
	Metadata  WebhookMetadata `json:"metadata"`
}

// WebhookSummary counts the reported jobs by verb
type WebhookSummary struct {
	Total     int `json:"total"`
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Error     int `json:"error"`
}

// WebhookJob represents one reported job
type WebhookJob struct {
	Verb      string    `json:"verb"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Note      string    `json:"note,omitempty"`
	Diff      string    `json:"diff,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookMetadata provides additional context
type WebhookMetadata struct {
	Duration  string   `json:"duration"`
	JobsFiles []string `json:"jobs_files,omitempty"`
	Version   string   `json:"version"`
}

// WebhookReporter posts the report as JSON
type WebhookReporter struct {
	client *http.Client
}

// NewWebhookReporter creates a webhook reporter. A nil client uses a default one
// with the configured timeout.
func NewWebhookReporter(client *http.Client) *WebhookReporter {
	return &WebhookReporter{client: client}
}

func (r *WebhookReporter) Name() string        { return "webhook" }
func (r *WebhookReporter) Description() string { return "POST the report as JSON to a URL" }

func (r *WebhookReporter) Enabled(cfg *config.Config) bool {
	return cfg.Report.Webhook.Enabled
}

func (r *WebhookReporter) Submit(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error {
	cfg := report.Config.Report.Webhook
	if cfg.URL == "" {
		return fmt.Errorf("webhook url is not configured")
	}

	payload := buildWebhookPayload(ctx, report, states, duration, jobsFiles)
	if len(payload.Jobs) == 0 {
		return nil
	}
	if cfg.Markdown {
		payload.Text = RenderMarkdown(ctx, report, states, duration)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return postJSON(ctx, clientFor(r.client, cfg.Timeout), cfg.URL, cfg.Headers, jsonData)
}

// buildWebhookPayload converts the displayed job states to webhook format
func buildWebhookPayload(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) WebhookPayload {
	payload := WebhookPayload{
		Timestamp: time.Now().In(report.Tz),
		Source:    "vahti",
		Jobs:      []WebhookJob{},
		Metadata: WebhookMetadata{
			Duration:  duration.Round(time.Millisecond).String(),
			JobsFiles: jobsFiles,
			Version:   Version,
		},
	}

	for _, state := range slices.Collect(report.FilteredJobStates(ctx, states)) {
		spec := state.Job.Spec()
		job := WebhookJob{
			Verb:      string(state.Verb),
			Name:      spec.PrettyName(),
			Location:  spec.Location(),
			Note:      spec.Note,
			Timestamp: types.TimeFromTimestamp(state.NewTimestamp).In(report.Tz),
		}

		switch state.Verb {
		case types.VerbNew:
			payload.Summary.New++
		case types.VerbUnchanged:
			payload.Summary.Unchanged++
		case types.VerbError:
			payload.Summary.Error++
			job.Error = state.ErrorMessage()
		default:
			payload.Summary.Changed++
			if diff, err := state.GetDiff(ctx, types.ReportText, nil, report.Tz); err == nil {
				job.Diff = diff
			} else {
				job.Error = err.Error()
			}
		}
		payload.Summary.Total++
		payload.Jobs = append(payload.Jobs, job)
	}
	return payload
}

func clientFor(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body and fails on an error status
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
