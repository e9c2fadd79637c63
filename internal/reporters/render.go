package reporters

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"

	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/types"
)

// Version is printed in report footers
var Version = "dev"

// entry is one displayed job state with its rendered details
type entry struct {
	Number   int
	Verb     string
	Name     string
	Location string
	Label    string
	Note     string
	Details  string
}

// collect computes the displayed entries of a report for one kind
func collect(ctx context.Context, report *runner.Report, states []*runner.JobState, kind types.ReportKind) []entry {
	filtered := slices.Collect(report.FilteredJobStates(ctx, states))
	entries := make([]entry, 0, len(filtered))
	for i, state := range filtered {
		spec := state.Job.Spec()
		e := entry{
			Number:   i + 1,
			Verb:     strings.ToUpper(string(state.Verb)),
			Name:     spec.PrettyName(),
			Location: spec.Location(),
			Label:    label(spec),
			Note:     spec.Note,
		}
		switch {
		case state.Verb == types.VerbError:
			e.Details = state.ErrorMessage()
		case state.Verb == types.VerbNew || state.Verb == types.VerbUnchanged:
		default:
			diff, err := state.GetDiff(ctx, kind, nil, report.Tz)
			if err != nil {
				e.Details = fmt.Sprintf("Could not compute the diff: %v", err)
			} else {
				e.Details = diff
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func label(spec *types.JobSpec) string {
	name := spec.PrettyName()
	if location := spec.Location(); name != location {
		return fmt.Sprintf("%s (%s)", name, location)
	}
	return name
}

func isLink(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// footer is the closing line of every report
func footer(states []*runner.JobState, duration time.Duration) string {
	sources := "source"
	if len(states) != 1 {
		sources = "sources"
	}
	return fmt.Sprintf("Checked %d %s in %s with vahti %s.", len(states), sources, DurationText(duration), Version)
}

// DurationText renders a run duration for footers
func DurationText(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1f seconds", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// RenderText renders the report as plain text. An empty string means nothing to report.
func RenderText(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration) string {
	cfg := report.Config.Report.Text
	entries := collect(ctx, report, states, types.ReportText)
	if len(entries) == 0 {
		return ""
	}

	width := cfg.LineLength
	if width <= 0 {
		width = 75
	}
	var sb strings.Builder

	if cfg.Minimal || len(entries) > 1 {
		for _, e := range entries {
			fmt.Fprintf(&sb, "%02d. %s: %s\n", e.Number, e.Verb, e.Label)
		}
	}

	if cfg.Details && !cfg.Minimal {
		for _, e := range entries {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Repeat("=", width) + "\n")
			fmt.Fprintf(&sb, "%02d. %s: %s\n", e.Number, e.Verb, e.Label)
			if e.Note != "" {
				sb.WriteString(e.Note + "\n")
			}
			sb.WriteString(strings.Repeat("=", width) + "\n")
			if e.Details != "" {
				sb.WriteString(strings.TrimRight(e.Details, "\n") + "\n")
				sb.WriteString(strings.Repeat("-", width) + "\n")
			}
		}
	}

	if cfg.Footer {
		sb.WriteString("\n-- \n")
		sb.WriteString(footer(states, duration) + "\n")
	}
	return sb.String()
}

// RenderMarkdown renders the report as Markdown
func RenderMarkdown(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration) string {
	cfg := report.Config.Report.Markdown
	entries := collect(ctx, report, states, types.ReportMarkdown)
	if len(entries) == 0 {
		return ""
	}

	title := func(e entry) string {
		if isLink(e.Location) {
			return fmt.Sprintf("%s: [%s](%s)", e.Verb, e.Name, e.Location)
		}
		return fmt.Sprintf("%s: %s", e.Verb, e.Label)
	}

	var sb strings.Builder
	if cfg.Minimal || len(entries) > 1 {
		for _, e := range entries {
			fmt.Fprintf(&sb, "* %s\n", title(e))
		}
	}

	if cfg.Details && !cfg.Minimal {
		for _, e := range entries {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "### %s\n", title(e))
			if e.Note != "" {
				sb.WriteString("\n" + e.Note + "\n")
			}
			if e.Details == "" {
				continue
			}
			sb.WriteString("\n")
			if e.Verb == strings.ToUpper(string(types.VerbError)) {
				sb.WriteString("```\n" + strings.TrimRight(e.Details, "\n") + "\n```\n")
			} else {
				sb.WriteString(strings.TrimRight(e.Details, "\n") + "\n")
			}
		}
	}

	if cfg.Footer {
		sb.WriteString("\n---\n")
		sb.WriteString(footer(states, duration) + "\n")
	}
	return sb.String()
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body style="font-family: sans-serif">
{{range .Entries}}<section>
<h3>{{.Verb}}: {{if .Link}}<a href="{{.Location}}">{{.Name}}</a>{{else}}{{.Label}}{{end}}</h3>
{{if .Note}}<p>{{.Note}}</p>
{{end}}{{if .Error}}<pre style="white-space: pre-wrap; color: #c00">{{.Error}}</pre>
{{else if .Diff}}{{.Diff}}
{{end}}</section>
{{end}}{{if .Footer}}<hr>
<p style="font-size: small">{{.Footer}}</p>
{{end}}</body>
</html>
`))

type htmlEntry struct {
	entry
	Link  bool
	Error string
	Diff  template.HTML
}

// RenderHTML renders the report as a standalone HTML document
func RenderHTML(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration) (string, error) {
	cfg := report.Config.Report.HTML
	entries := collect(ctx, report, states, types.ReportHTML)
	if len(entries) == 0 {
		return "", nil
	}

	data := struct {
		Title   string
		Entries []htmlEntry
		Footer  string
	}{Title: cfg.Title}
	if data.Title == "" {
		data.Title = "vahti report"
	}
	if cfg.Footer {
		data.Footer = footer(states, duration)
	}
	for _, e := range entries {
		he := htmlEntry{entry: e, Link: isLink(e.Location)}
		if cfg.Details {
			if e.Verb == strings.ToUpper(string(types.VerbError)) {
				he.Error = e.Details
			} else {
				// Diffs are rendered with their content already escaped
				he.Diff = template.HTML(e.Details)
			}
		}
		data.Entries = append(data.Entries, he)
	}

	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return buf.String(), nil
}
