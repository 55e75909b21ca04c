// Package errors provides structured error types for stackctl.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	// Configuration errors: fatal, surfaced before any execution begins.
	ErrCodeCycle      ErrorCode = "DEPENDENCY_CYCLE"
	ErrCodeCrossEnv   ErrorCode = "CROSS_ENVIRONMENT_DEPENDENCY"
	ErrCodeSelfEdge   ErrorCode = "SELF_DEPENDENCY"
	ErrCodeUnresolved ErrorCode = "UNRESOLVED_DEPENDENCY"
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeParse      ErrorCode = "PARSE_ERROR"

	// Contention errors: transient, retried with backoff before surfacing.
	ErrCodeLockHeld        ErrorCode = "LOCK_HELD"
	ErrCodeLockTimeout     ErrorCode = "LOCK_TIMEOUT"
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// Execution errors: recorded per module, cascade as skips to dependents.
	ErrCodeEngine ErrorCode = "ENGINE_ERROR"

	// Integrity errors: fatal for the affected operation, operator required.
	ErrCodeLockExpired     ErrorCode = "LOCK_EXPIRED"
	ErrCodeSnapshotMissing ErrorCode = "SNAPSHOT_MISSING"

	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeBackend  ErrorCode = "BACKEND_ERROR"
)

// Error is the base error type for stackctl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// CycleError reports a dependency cycle. Cycle holds the module paths in
// traversal order, ending where it began.
func CycleError(environment string, cycle []string) *Error {
	return &Error{
		Code:    ErrCodeCycle,
		Message: fmt.Sprintf("dependency cycle in environment %q: %s", environment, strings.Join(cycle, " -> ")),
		Details: map[string]interface{}{
			"environment": environment,
			"cycle":       cycle,
		},
	}
}

// CrossEnvironmentDependencyError reports an edge crossing environment boundaries.
func CrossEnvironmentDependencyError(consumer, consumerEnv, producer, producerEnv string) *Error {
	return &Error{
		Code: ErrCodeCrossEnv,
		Message: fmt.Sprintf("module %s/%s may not depend on %s/%s: dependencies cannot cross environments",
			consumerEnv, consumer, producerEnv, producer),
		Details: map[string]interface{}{
			"consumer":             consumer,
			"consumer_environment": consumerEnv,
			"producer":             producer,
			"producer_environment": producerEnv,
		},
	}
}

// SelfEdgeError reports a module that declares a dependency on itself.
func SelfEdgeError(environment, module string) *Error {
	return &Error{
		Code:    ErrCodeSelfEdge,
		Message: fmt.Sprintf("module %s/%s depends on itself", environment, module),
		Details: map[string]interface{}{
			"environment": environment,
			"module":      module,
		},
	}
}

// UnresolvedDependencyError reports a dependency output that could not be
// resolved for the requested operation, with no declared mock to fall back on.
func UnresolvedDependencyError(consumer, producer, output, reason string) *Error {
	return &Error{
		Code: ErrCodeUnresolved,
		Message: fmt.Sprintf("cannot resolve output %q of %s for %s: %s",
			output, producer, consumer, reason),
		Details: map[string]interface{}{
			"consumer": consumer,
			"producer": producer,
			"output":   output,
		},
	}
}

// LockHeldError reports a lock currently held by another caller.
func LockHeldError(key, holder string, remaining time.Duration) *Error {
	return &Error{
		Code:    ErrCodeLockHeld,
		Message: fmt.Sprintf("state %q is locked by %s (expires in %s)", key, holder, remaining.Round(time.Second)),
		Details: map[string]interface{}{
			"key":       key,
			"holder":    holder,
			"remaining": remaining,
		},
	}
}

// LockTimeoutError reports that lock acquisition gave up after the attempt cap.
func LockTimeoutError(key string, attempts int, cause error) *Error {
	return &Error{
		Code:    ErrCodeLockTimeout,
		Message: fmt.Sprintf("gave up acquiring lock on %q after %d attempts", key, attempts),
		Cause:   cause,
		Details: map[string]interface{}{
			"key":      key,
			"attempts": attempts,
		},
	}
}

// VersionConflictError reports a conditional state-store write that lost.
func VersionConflictError(key, expected string) *Error {
	return &Error{
		Code:    ErrCodeVersionConflict,
		Message: fmt.Sprintf("version conflict writing %q", key),
		Details: map[string]interface{}{
			"key":      key,
			"expected": expected,
		},
	}
}

// LockExpiredError reports a lock that expired while its holder was still
// operating. The in-flight operation must be treated as unverified.
func LockExpiredError(key, holder string) *Error {
	return &Error{
		Code:    ErrCodeLockExpired,
		Message: fmt.Sprintf("lock on %q expired while held by %s; operation effects must be verified", key, holder),
		Details: map[string]interface{}{
			"key":    key,
			"holder": holder,
		},
	}
}

// SnapshotMissingError reports a rollback target whose snapshot cannot be read.
func SnapshotMissingError(environment string, version int, cause error) *Error {
	return &Error{
		Code:    ErrCodeSnapshotMissing,
		Message: fmt.Sprintf("snapshot for %s deployment %d is missing", environment, version),
		Cause:   cause,
		Details: map[string]interface{}{
			"environment": environment,
			"version":     version,
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// EngineError creates a provisioning engine execution error
func EngineError(engine, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeEngine,
		Message: fmt.Sprintf("engine %s failed during %s", engine, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"engine":    engine,
			"operation": operation,
		},
	}
}

// BackendError creates a state backend error
func BackendError(backend, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// Is checks if the error matches the given code
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Retryable reports whether the error is a transient contention error that
// callers may retry with backoff. Configuration, execution and integrity
// errors are never retryable.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrCodeLockHeld, ErrCodeVersionConflict:
		return true
	}
	return false
}
