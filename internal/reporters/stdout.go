package reporters

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
)

// StdoutReporter prints the text report to a terminal or stream
type StdoutReporter struct {
	out io.Writer
	// ForceColor colors output even when out is not a terminal
	ForceColor bool
}

// NewStdoutReporter creates a reporter writing to out
func NewStdoutReporter(out io.Writer) *StdoutReporter {
	return &StdoutReporter{out: out}
}

func (r *StdoutReporter) Name() string        { return "stdout" }
func (r *StdoutReporter) Description() string { return "Print the text report to standard output" }

func (r *StdoutReporter) Enabled(cfg *config.Config) bool {
	return cfg.Report.Stdout.Enabled
}

func (r *StdoutReporter) Submit(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error {
	text := RenderText(ctx, report, states, duration)
	if text == "" {
		return nil
	}
	if r.useColor(report.Config) {
		text = colorize(text)
	}
	_, err := fmt.Fprint(r.out, text)
	return err
}

func (r *StdoutReporter) useColor(cfg *config.Config) bool {
	if !cfg.Report.Stdout.Color || cfg.Output.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	if r.ForceColor {
		return true
	}
	f, ok := r.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var (
	addedColor   = color.New(color.FgGreen)
	removedColor = color.New(color.FgRed)
	hunkColor    = color.New(color.FgCyan)
	headingColor = color.New(color.Bold)
)

func init() {
	for _, c := range []*color.Color{addedColor, removedColor, hunkColor, headingColor} {
		c.EnableColor()
	}
}

// colorize highlights diff lines and headings of a text report
func colorize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case line == "" || strings.Trim(line, "=-") == "" || line == "-- ":
		case strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "--- "):
			lines[i] = headingColor.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunkColor.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = addedColor.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removedColor.Sprint(line)
		case isHeading(line):
			lines[i] = headingColor.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

func isHeading(line string) bool {
	if len(line) < 4 || line[2] != '.' {
		return false
	}
	return strings.Contains(line, ": ")
}
