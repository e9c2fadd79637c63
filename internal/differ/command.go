package differ

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"os/exec"
	"strings"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/pkg/types"
)

// CommandDiffer runs an external program on two temporary files.
// Exit status 0 means no difference, 1 means the output is the diff.
type CommandDiffer struct{}

// NewCommandDiffer creates a new command differ
func NewCommandDiffer() *CommandDiffer {
	return &CommandDiffer{}
}

func (d *CommandDiffer) Name() string        { return "command" }
func (d *CommandDiffer) Description() string { return "Run an external diff program" }
func (d *CommandDiffer) Keys() []string      { return []string{"command", "is_html"} }

func (d *CommandDiffer) Diff(ctx context.Context, in Input, config map[string]interface{}) (Result, error) {
	command := strings.Fields(fmt.Sprint(config["command"]))
	if config["command"] == nil || len(command) == 0 {
		return nil, fmt.Errorf("command differ needs a command")
	}
	isHTML, _ := config["is_html"].(bool)

	dir, err := os.MkdirTemp("", "vahti-diff-")
	if err != nil {
		return nil, vahtierrors.IOError(err)
	}
	defer os.RemoveAll(dir)

	oldFile, err := writeTemp(dir, "old", in.OldData)
	if err != nil {
		return nil, err
	}
	newFile, err := writeTemp(dir, "new", in.NewData)
	if err != nil {
		return nil, err
	}

	args := append(command[1:], oldFile, newFile)
	cmd := exec.CommandContext(ctx, command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return emptyResult(), nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
	default:
		return nil, vahtierrors.ProcessError(stderr.String(), err)
	}

	out := stdout.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}

	result := Result{
		types.ReportText:     out,
		types.ReportMarkdown: "```\n" + out + "```\n",
	}
	if isHTML {
		result[types.ReportHTML] = out
	} else {
		result[types.ReportHTML] = "<pre>" + html.EscapeString(out) + "</pre>\n"
	}
	return result, nil
}

func writeTemp(dir, name, data string) (string, error) {
	f, err := os.CreateTemp(dir, name+"-*.txt")
	if err != nil {
		return "", vahtierrors.IOError(err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		return "", vahtierrors.IOError(err)
	}
	return f.Name(), nil
}
