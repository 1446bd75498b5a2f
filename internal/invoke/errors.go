package invoke

import (
	"fmt"
	"strings"

	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
)

// Reason classifies why an invocation failed.
type Reason string

const (
	ReasonStart    Reason = "start"
	ReasonExit     Reason = "exit"
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
)

// ExecutionError is returned when the tool could not be started, exited
// non-zero, or had to be terminated.
type ExecutionError struct {
	Operation operation.Name
	Reason    Reason
	// ExitCode is -1 when the process never exited on its own.
	ExitCode    int
	Stderr      string
	Diagnostics []Diagnostic
	Err         error
}

func (e *ExecutionError) Error() string {
	switch e.Reason {
	case ReasonExit:
		msg := fmt.Sprintf("%s failed with exit code %d (%s)", e.Operation, e.ExitCode, ExitLabel(e.ExitCode))
		if len(e.Diagnostics) > 0 {
			msg += ": " + e.Diagnostics[0].Message
		}
		return msg
	case ReasonTimeout:
		return fmt.Sprintf("%s timed out", e.Operation)
	case ReasonCanceled:
		return fmt.Sprintf("%s canceled", e.Operation)
	default:
		return fmt.Sprintf("%s could not start: %v", e.Operation, e.Err)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Diagnostic is one "CODE::message" line the tool writes to stderr.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseDiagnostics extracts coded lines from stderr. Uncoded lines are
// ignored.
func ParseDiagnostics(stderr string) []Diagnostic {
	var out []Diagnostic
	for _, line := range strings.Split(stderr, "\n") {
		code, msg, ok := strings.Cut(strings.TrimSpace(line), "::")
		if !ok || code == "" || strings.ToUpper(code) != code || strings.ContainsAny(code, " \t") {
			continue
		}
		out = append(out, Diagnostic{Code: code, Message: strings.TrimSpace(msg)})
	}
	return out
}

var exitLabels = map[int]string{
	1: "unexpected",
	2: "invalid_argument",
	3: "io",
	4: "not_found",
	5: "read",
	6: "runtime",
	7: "decryption",
	8: "page_range",
}

// ExitLabel names the tool's documented exit codes.
func ExitLabel(code int) string {
	if label, ok := exitLabels[code]; ok {
		return label
	}
	return "unknown"
}
