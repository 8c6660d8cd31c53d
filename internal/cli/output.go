package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Test/validation failure (scenarios failed, replay diverged, etc.)
	ExitCommandError = 2 // Command error (invalid paths, journal not found, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON writes a response envelope.
func (f *OutputFormatter) JSON(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// BatchView is the printable form of an action batch.
type BatchView struct {
	Seq      int64            `json:"seq"`
	Digest   string           `json:"digest"`
	Actions  []map[string]any `json:"actions"`
	Rejected []map[string]any `json:"rejected,omitempty"`
}

// viewBatch converts actions to generic maps for printing.
func viewBatch(seq int64, digest string, actions, rejected []ir.Action) (BatchView, error) {
	v := BatchView{Seq: seq, Digest: digest, Actions: []map[string]any{}}
	for _, a := range actions {
		m, err := ir.ActionMap(a)
		if err != nil {
			return BatchView{}, err
		}
		v.Actions = append(v.Actions, m)
	}
	for _, a := range rejected {
		m, err := ir.ActionMap(a)
		if err != nil {
			return BatchView{}, err
		}
		v.Rejected = append(v.Rejected, m)
	}
	return v, nil
}

// viewEngineBatch converts an emitted batch.
func viewEngineBatch(b *engine.Batch) (BatchView, error) {
	digest, err := b.Digest()
	if err != nil {
		return BatchView{}, err
	}
	rejected := make([]ir.Action, len(b.Rejected))
	for i, r := range b.Rejected {
		rejected[i] = r
	}
	return viewBatch(b.Seq, digest, b.Actions, rejected)
}

// writeBatchText prints a batch as one line per action.
func writeBatchText(w io.Writer, v BatchView) {
	fmt.Fprintf(w, "batch %d (%d actions)\n", v.Seq, len(v.Actions))
	for _, a := range v.Actions {
		fmt.Fprintf(w, "  %s\n", describeAction(a))
	}
	for _, r := range v.Rejected {
		inner, _ := r["action"].(map[string]any)
		fmt.Fprintf(w, "  rejected %s\n", describeAction(inner))
	}
}

// describeAction renders an action map as "<type> <canonical fields>".
func describeAction(m map[string]any) string {
	if m == nil {
		return "<nil>"
	}
	kind, _ := m["type"].(string)
	rest := make(map[string]any, len(m))
	for k, v := range m {
		if k != "type" {
			rest[k] = v
		}
	}
	data, err := ir.MarshalCanonical(rest)
	if err != nil {
		return kind
	}
	return strings.TrimSpace(kind + " " + string(data))
}
