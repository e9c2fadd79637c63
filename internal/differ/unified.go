package differ

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/yairfalse/vahti/pkg/types"
)

const (
	htmlInsStyle  = "background-color:#d1ffd1;color:#082b08;"
	htmlDelStyle  = "background-color:#fff0f0;color:#9c1c1c;text-decoration:line-through;"
	htmlHunkStyle = "background-color:#fbfbfb;color:#888;"
)

// UnifiedDiffer renders a unified diff with context lines
type UnifiedDiffer struct{}

// NewUnifiedDiffer creates a new unified differ
func NewUnifiedDiffer() *UnifiedDiffer {
	return &UnifiedDiffer{}
}

func (d *UnifiedDiffer) Name() string { return "unified" }
func (d *UnifiedDiffer) Description() string {
	return "Unified diff with context lines; HTML output colours added and deleted lines"
}
func (d *UnifiedDiffer) Keys() []string { return []string{"context_lines", "additions_only", "deletions_only"} }

// Diff compares the old and new data line by line
func (d *UnifiedDiffer) Diff(ctx context.Context, in Input, config map[string]interface{}) (Result, error) {
	contextLines := 3
	if v, ok := config["context_lines"]; ok {
		n, isInt := v.(int)
		if !isInt || n < 0 {
			return nil, fmt.Errorf("context_lines must be a non-negative integer, got %v", v)
		}
		contextLines = n
	}
	additionsOnly, _ := config["additions_only"].(bool)
	deletionsOnly, _ := config["deletions_only"].(bool)
	if additionsOnly && deletionsOnly {
		return nil, fmt.Errorf("additions_only and deletions_only are mutually exclusive")
	}

	diff := difflib.UnifiedDiff{
		A:        splitLines(in.OldData),
		B:        splitLines(in.NewData),
		FromFile: "@",
		FromDate: FormatTimestamp(in.OldTimestamp, in.Tz),
		ToFile:   "@",
		ToDate:   FormatTimestamp(in.NewTimestamp, in.Tz),
		Context:  contextLines,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil, err
	}

	lines := strings.SplitAfter(text, "\n")
	if additionsOnly || deletionsOnly {
		lines = keepOneSide(lines, additionsOnly)
	}
	text = strings.Join(lines, "")
	if !hasChanges(lines) {
		return emptyResult(), nil
	}

	return Result{
		types.ReportText:     text,
		types.ReportMarkdown: "```diff\n" + text + "```\n",
		types.ReportHTML:     renderHTML(lines),
	}, nil
}

// splitLines splits s into newline-terminated lines. A missing final newline
// is added so the last line renders on its own row.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

func hasChanges(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			return true
		}
	}
	return false
}

// keepOneSide drops the changed lines of the other side, keeping headers and context.
// Hunk ranges are recomputed for the kept lines and hunks left without changes are dropped.
func keepOneSide(lines []string, additions bool) []string {
	drop, keep := "-", "+"
	if !additions {
		drop, keep = "+", "-"
	}

	var kept, hunk []string
	var header hunkHeader
	flush := func() {
		if hunk == nil {
			return
		}
		changed := false
		others := 0
		for _, line := range hunk {
			if strings.HasPrefix(line, keep) {
				changed = true
			} else {
				others++
			}
		}
		if changed {
			if additions {
				header.oldCount = others
			} else {
				header.newCount = others
			}
			kept = append(kept, header.String())
			kept = append(kept, hunk...)
		}
		hunk = nil
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			kept = append(kept, line)
		case strings.HasPrefix(line, "@@"):
			flush()
			h, ok := parseHunkHeader(line)
			if !ok {
				kept = append(kept, line)
				continue
			}
			header = h
			hunk = []string{}
		case strings.HasPrefix(line, drop):
		case hunk != nil:
			hunk = append(hunk, line)
		default:
			kept = append(kept, line)
		}
	}
	flush()
	return kept
}

// hunkHeader holds the 1-based first line and the line count of both sides of a hunk
type hunkHeader struct {
	oldStart, oldCount int
	newStart, newCount int
}

// parseHunkHeader reads "@@ -a,b +c,d @@". A zero-length range names the line before it.
func parseHunkHeader(line string) (hunkHeader, bool) {
	var h hunkHeader
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "@@" || fields[3] != "@@" {
		return h, false
	}
	var ok bool
	if h.oldStart, h.oldCount, ok = parseRange(fields[1], "-"); !ok {
		return h, false
	}
	if h.newStart, h.newCount, ok = parseRange(fields[2], "+"); !ok {
		return h, false
	}
	return h, true
}

func parseRange(field, sign string) (int, int, bool) {
	spec, found := strings.CutPrefix(field, sign)
	if !found {
		return 0, 0, false
	}
	startText, countText, hasCount := strings.Cut(spec, ",")
	start, err := strconv.Atoi(startText)
	if err != nil {
		return 0, 0, false
	}
	count := 1
	if hasCount {
		if count, err = strconv.Atoi(countText); err != nil {
			return 0, 0, false
		}
	}
	if count == 0 {
		start++
	}
	return start, count, true
}

func (h hunkHeader) String() string {
	return fmt.Sprintf("@@ -%s +%s @@\n", formatRange(h.oldStart, h.oldCount), formatRange(h.newStart, h.newCount))
}

// formatRange renders a range the way difflib does
func formatRange(start, count int) string {
	switch count {
	case 1:
		return strconv.Itoa(start)
	case 0:
		return fmt.Sprintf("%d,0", start-1)
	default:
		return fmt.Sprintf("%d,%d", start, count)
	}
}

func renderHTML(lines []string) string {
	var sb strings.Builder
	sb.WriteString(`<table style="border-collapse:collapse;font-family:monospace;white-space:pre-wrap;">` + "\n")
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}
		escaped := html.EscapeString(line)
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			sb.WriteString(fmt.Sprintf(`<tr><td style="%s">%s</td></tr>`, htmlHunkStyle, escaped))
		case strings.HasPrefix(line, "@@"):
			sb.WriteString(fmt.Sprintf(`<tr><td style="%s">%s</td></tr>`, htmlHunkStyle, escaped))
		case strings.HasPrefix(line, "+"):
			sb.WriteString(fmt.Sprintf(`<tr><td style="%s"><ins>%s</ins></td></tr>`, htmlInsStyle, html.EscapeString(line[1:])))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(fmt.Sprintf(`<tr><td style="%s"><del>%s</del></td></tr>`, htmlDelStyle, html.EscapeString(line[1:])))
		default:
			sb.WriteString(fmt.Sprintf(`<tr><td>%s</td></tr>`, html.EscapeString(strings.TrimPrefix(line, " "))))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("</table>\n")
	return sb.String()
}
