// Package report renders validation results for the validator CLIs and maps
// their outcome to process exit codes.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes shared by the validator CLIs.
const (
	ExitValid   = 0
	ExitInvalid = 1
	ExitError   = 2
)

// ErrInvalid is returned by a command whose input was read and checked but
// did not validate.
var ErrInvalid = errors.New("validation failed")

// InputError wraps failures to read or decode the command's input.
type InputError struct {
	What string
	Err  error
}

func (e *InputError) Error() string { return fmt.Sprintf("%s: %v", e.What, e.Err) }

func (e *InputError) Unwrap() error { return e.Err }

// Input wraps err as an InputError; it returns nil for a nil err.
func Input(what string, err error) error {
	if err == nil {
		return nil
	}
	return &InputError{What: what, Err: err}
}

// lineHandler writes each record's message as one bare line.
type lineHandler struct {
	w io.Writer
}

func (lineHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h lineHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(h.w, r.Message)
	return err
}

func (h lineHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h lineHandler) WithGroup(string) slog.Handler { return h }

// NewLogger returns a logger that prints messages without time or level.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(lineHandler{w: w})
}

// Field is one labelled line of a report.
type Field struct {
	Label string
	Value string
}

// Section is a titled block of fields.
type Section struct {
	Title  string
	Fields []Field
}

// Report is a validation result ready to print.
type Report struct {
	Title    string
	Sections []Section
	Details  []string
	Checks   []Field
	Valid    bool

	// JSON is emitted verbatim, with "valid" added, in json format.
	JSON map[string]any
}

// Check formats a boolean check; skipped checks print as "skipped".
func Check(label string, ok, performed bool) Field {
	if !performed {
		return Field{Label: label, Value: "skipped"}
	}
	return Field{Label: label, Value: fmt.Sprintf("%v", ok)}
}

// Print writes r in format, "text" or "json".
func (r *Report) Print(logger *slog.Logger, format string) error {
	switch format {
	case "json":
		out := make(map[string]any, len(r.JSON)+1)
		for k, v := range r.JSON {
			out[k] = v
		}
		out["valid"] = r.Valid
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		logger.Info(string(data))
		return nil
	case "text", "":
		r.printText(logger)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func (r *Report) printText(logger *slog.Logger) {
	rule := strings.Repeat("=", len(r.Title))
	logger.Info(r.Title)
	logger.Info(rule)

	for _, s := range r.Sections {
		if len(s.Fields) == 0 {
			continue
		}
		logger.Info("")
		logger.Info(s.Title + ":")
		printFields(logger, s.Fields)
	}

	logger.Info("")
	logger.Info("Details:")
	for _, d := range r.Details {
		logger.Info("  " + d)
	}

	logger.Info("")
	logger.Info("Checks:")
	printFields(logger, r.Checks)

	logger.Info("")
	logger.Info(rule)
	if r.Valid {
		logger.Info(fmt.Sprintf("VALIDATION: ✓ PASSED (exit %d)", ExitValid))
	} else {
		logger.Info(fmt.Sprintf("VALIDATION: ✗ FAILED (exit %d)", ExitInvalid))
	}
}

func printFields(logger *slog.Logger, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}
	for _, f := range fields {
		logger.Info(fmt.Sprintf("  %-*s  %s", width+1, f.Label+":", f.Value))
	}
}

// Result returns ErrInvalid unless r validated.
func (r *Report) Result() error {
	if r.Valid {
		return nil
	}
	return ErrInvalid
}

// ExitCode maps the error returned by a validator command to its exit code.
func ExitCode(err error) int {
	var inputErr *InputError
	switch {
	case err == nil:
		return ExitValid
	case errors.Is(err, ErrInvalid):
		return ExitInvalid
	case errors.As(err, &inputErr):
		return ExitError
	default:
		// flag and usage errors
		return ExitInvalid
	}
}

// Execute runs cmd and returns the process exit code. Input errors are
// written to cmd's error stream.
func Execute(cmd *cobra.Command) int {
	cmd.SilenceErrors = true
	err := cmd.Execute()
	code := ExitCode(err)
	if err != nil && !errors.Is(err, ErrInvalid) {
		cmd.PrintErrln("Error:", err)
	}
	return code
}
