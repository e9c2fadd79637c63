package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/viper"
)

// DisplayError writes err to stderr with colored cause, solutions and help
func DisplayError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError writes err to w with colored cause, solutions and help
func FprintError(w io.Writer, err error) {
	color.NoColor = colorDisabled()

	var vErr *VahtiError
	if !stderrors.As(err, &vErr) {
		fmt.Fprintf(w, "%s\n", color.RedString("Error: %v", err))
		return
	}

	colorFunc := getErrorStyle(vErr.Type)

	fmt.Fprintf(w, "\n%s\n", colorFunc("%s", err.Error()))

	if vErr.Cause != "" {
		fmt.Fprintf(w, "   %s %s\n", color.YellowString("Cause:"), color.HiBlackString(vErr.Cause))
	}

	if len(vErr.Solutions) > 0 {
		fmt.Fprintf(w, "\n   %s\n", color.GreenString("Solutions:"))
		for i, solution := range vErr.Solutions {
			fmt.Fprintf(w, "   %s %s\n", color.HiBlackString(fmt.Sprintf("%d.", i+1)), solution)
		}
	}

	if vErr.Help != "" {
		fmt.Fprintf(w, "   %s %s\n", color.MagentaString("Help:"), color.HiWhiteString(vErr.Help))
	}

	fmt.Fprintln(w)
}

// getErrorStyle returns the appropriate color function for an error type
func getErrorStyle(errType ErrorType) func(format string, a ...interface{}) string {
	switch errType {
	case ErrorTypeConfiguration, ErrorTypeValidation:
		return color.YellowString
	case ErrorTypeFilter:
		return color.MagentaString
	case ErrorTypeIO, ErrorTypeStorage:
		return color.CyanString
	default:
		return color.RedString
	}
}

// FormatErrorWithContext formats an error as plain text with additional context, for logs and CI
func FormatErrorWithContext(err error, context map[string]string) string {
	var sb strings.Builder

	var vErr *VahtiError
	if !stderrors.As(err, &vErr) {
		sb.WriteString(fmt.Sprintf("Error: %v\n", err))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Error: %s\n", err.Error()))
	sb.WriteString(fmt.Sprintf("Type: %s\n", vErr.Type))

	if vErr.Cause != "" {
		sb.WriteString(fmt.Sprintf("Cause: %s\n", vErr.Cause))
	}

	if len(context) > 0 {
		sb.WriteString("\nContext:\n")
		for k, v := range context {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
		}
	}

	if len(vErr.Solutions) > 0 {
		sb.WriteString("\nSolutions:\n")
		for i, solution := range vErr.Solutions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}

	if vErr.Help != "" {
		sb.WriteString(fmt.Sprintf("Help: %s\n", vErr.Help))
	}

	return sb.String()
}

// DisplayWarning shows a warning message with appropriate formatting
func DisplayWarning(message string) {
	color.NoColor = colorDisabled()
	fmt.Fprintf(os.Stderr, "Warning: %s\n", color.YellowString(message))
}

// DisplaySuccess shows a success message with appropriate formatting
func DisplaySuccess(message string) {
	color.NoColor = colorDisabled()
	fmt.Fprintf(os.Stderr, "Success: %s\n", color.GreenString(message))
}

func colorDisabled() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("VAHTI_NO_COLOR") != "" {
		return true
	}
	return viper.IsSet("output.no_color") && viper.GetBool("output.no_color")
}
