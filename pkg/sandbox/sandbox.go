package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state of an execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Failure classifies why an execution did not succeed.
type Failure string

const (
	// FailureNone is set on successful results.
	FailureNone Failure = ""
	// FailureInvalidScript means the script was empty after normalization.
	FailureInvalidScript Failure = "invalid_script"
	// FailureMaterialization means the sandbox file could not be created or written.
	FailureMaterialization Failure = "materialization"
	// FailureSpawn means the interpreter could not be started or waited on.
	FailureSpawn Failure = "spawn"
	// FailureExecution means the script ran and exited non-zero.
	FailureExecution Failure = "execution"
	// FailureCanceled means the caller's context was cancelled mid-run.
	FailureCanceled Failure = "canceled"
	// FailureTimeout means the configured execution timeout elapsed.
	FailureTimeout Failure = "timeout"
)

// Result represents the outcome of a sandbox execution.
type Result struct {
	Status Status `json:"status"`
	// Output is the captured standard output (success only).
	Output string `json:"output,omitempty"`
	// Reason is the captured standard error or local error description (failure only).
	Reason  string  `json:"reason,omitempty"`
	Failure Failure `json:"failure,omitempty"`
	// ExitCode is -1 when the process never produced one.
	ExitCode int `json:"exit_code"`
	// ScriptPath is the sandbox file used for this execution. It no longer
	// exists by the time the Result is returned.
	ScriptPath string `json:"script_path,omitempty"`
	// CleanupError is set when the sandbox file could not be removed. It does
	// not affect Status.
	CleanupError string        `json:"cleanup_error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Succeeded reports whether the script ran to a zero exit code.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Summary renders the single user-facing message for this result.
func (r Result) Summary() string {
	if r.Succeeded() {
		msg := "The provided code has been executed successfully."
		if out := strings.TrimSpace(r.Output); out != "" {
			msg += "\n\n" + out
		}
		return msg
	}
	return fmt.Sprintf("The provided code execution failed. Reason: %s", strings.TrimSpace(r.Reason))
}

// Success builds a successful Result.
func Success(stdout string) Result {
	return Result{Status: StatusSuccess, Output: stdout}
}

// Fail builds a failed Result of the given kind.
func Fail(kind Failure, reason string) Result {
	return Result{Status: StatusFailure, Failure: kind, Reason: reason, ExitCode: -1}
}

// Executor runs a generated script in isolation.
//
// Execute never returns a Go error: every failure, including failures to
// materialize or spawn, is reported through Result. Implementations must
// remove the sandbox file before returning, on every path.
type Executor interface {
	Execute(ctx context.Context, script string) Result
}

// Interrupted builds the Result for an execution stopped by its context.
func Interrupted(cause error, stderr string) Result {
	kind := FailureCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = FailureTimeout
	}
	reason := fmt.Sprintf("execution %s: %v", kind, cause)
	if stderr != "" {
		reason += "\n" + stderr
	}
	return Fail(kind, reason)
}
