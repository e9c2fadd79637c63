package reporters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
)

// SlackReporter posts the Markdown report to a Slack incoming webhook
type SlackReporter struct {
	client *http.Client
}

// NewSlackReporter creates a Slack reporter. A nil client uses a default one.
func NewSlackReporter(client *http.Client) *SlackReporter {
	return &SlackReporter{client: client}
}

func (r *SlackReporter) Name() string        { return "slack" }
func (r *SlackReporter) Description() string { return "Send the report to a Slack incoming webhook" }

func (r *SlackReporter) Enabled(cfg *config.Config) bool {
	return cfg.Report.Slack.Enabled
}

func (r *SlackReporter) Submit(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error {
	cfg := report.Config.Report.Slack
	if cfg.WebhookURL == "" {
		return fmt.Errorf("slack webhook_url is not configured")
	}

	summary := buildWebhookPayload(ctx, report, states, duration, jobsFiles).Summary
	text := RenderMarkdown(ctx, report, states, duration)
	if text == "" {
		return nil
	}

	client := clientFor(r.client, cfg.Timeout)
	chunks := splitMessage(text, cfg.MaxMessageLength)
	for i, chunk := range chunks {
		payload := map[string]interface{}{
			"text": slackTitle(summary, i+1, len(chunks)),
			"attachments": []map[string]interface{}{
				{
					"color":     slackColor(summary),
					"text":      chunk,
					"mrkdwn_in": []string{"text"},
				},
			},
		}
		if cfg.Channel != "" {
			payload["channel"] = cfg.Channel
		}

		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal Slack payload: %w", err)
		}
		if err := postJSON(ctx, client, cfg.WebhookURL, nil, jsonData); err != nil {
			return fmt.Errorf("failed to send Slack webhook: %w", err)
		}
	}
	return nil
}

func slackTitle(s WebhookSummary, part, parts int) string {
	var counts []string
	for _, c := range []struct {
		n    int
		verb string
	}{{s.Changed, "changed"}, {s.New, "new"}, {s.Error, "error"}, {s.Unchanged, "unchanged"}} {
		if c.n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", c.n, c.verb))
		}
	}
	title := "vahti report: " + strings.Join(counts, ", ")
	if parts > 1 {
		title += fmt.Sprintf(" (%d/%d)", part, parts)
	}
	return title
}

// slackColor returns the attachment color for a summary
func slackColor(s WebhookSummary) string {
	if s.Error > 0 {
		return "danger"
	} else if s.New > 0 && s.Changed == 0 {
		return "good"
	} else {
		return "warning"
	}
}

// splitMessage cuts text into chunks of at most limit bytes, on line boundaries when possible
func splitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
