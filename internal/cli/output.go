package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/render"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The element service rejected or could not serve the request
	ExitCommandError = 2 // Bad flags, arguments or configuration
)

// ExitError carries an exit code with an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// Describe is the message printed for err: element failures get their
// user-facing line, everything else its error text.
func Describe(err error) string {
	if element.KindOf(err) != "" {
		return render.ErrorLine(err)
	}
	return "Error: " + err.Error()
}

// CLIResponse is the JSON envelope for --format json.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command in JSON output.
type CLIError struct {
	Category    string            `json:"category"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes data as JSON, or text verbatim in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Failure reports err in JSON mode and returns it wrapped with
// ExitFailure. Text mode leaves printing to the caller of Execute.
func (f *OutputFormatter) Failure(err error) error {
	if f.Format == "json" {
		cliErr := &CLIError{Category: "error", Message: Describe(err)}
		var e *element.Error
		if errors.As(err, &e) {
			cliErr.Category = e.Kind.Category()
			cliErr.FieldErrors = e.FieldErrors
		}
		json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: ExitFailure, Message: Describe(err), Err: err}
}
