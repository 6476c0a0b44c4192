package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// =============================================================================
// ERROR CODES
// =============================================================================

const (
	CodeConfigError            = "CONFIG_ERROR"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeLifecycleError         = "LIFECYCLE_ERROR"
	CodeContextCancelled       = "CONTEXT_CANCELLED"
	CodeServiceNotFound        = "SERVICE_NOT_FOUND"
	CodeServiceAlreadyExists   = "SERVICE_ALREADY_EXISTS"
	CodeCircularDependency     = "CIRCULAR_DEPENDENCY"
	CodeNoActiveScope          = "NO_ACTIVE_SCOPE"
	CodeEngineNotInitialized   = "ENGINE_NOT_INITIALIZED"
	CodeEngineStopped          = "ENGINE_STOPPED"
	CodeDuplicateTask          = "DUPLICATE_TASK"
	CodeStartupTaskFailed      = "STARTUP_TASK_FAILED"
	CodeDiscoveryPartial       = "DISCOVERY_PARTIAL_FAILURE"
	CodeDisposeFailed          = "DISPOSE_FAILED"
	CodeCleanupFailed          = "CLEANUP_FAILED"
	CodeInvalidRegistration    = "INVALID_REGISTRATION"
	CodeOrchestratorStateError = "ORCHESTRATOR_STATE"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	ErrInvalidFactory  = errors.New("factory must be a function returning a value and optionally an error")
	ErrTypeMismatch    = errors.New("service type mismatch")
	ErrScopeDisposed   = errors.New("scope already disposed")
	ErrAlreadyExecuted = errors.New("startup tasks already executed")
	ErrInvalidTask     = errors.New("invalid startup task")

	// ErrEngineNotInitialized is returned when the process-wide engine is
	// accessed before Initialize.
	ErrEngineNotInitialized = &CoreError{Code: CodeEngineNotInitialized, Message: "engine not initialized"}

	// ErrEngineStopped is returned when starting an engine that was stopped.
	// A stopped engine cannot be restarted; Initialize a new one.
	ErrEngineStopped = &CoreError{Code: CodeEngineStopped, Message: "engine stopped"}
)

// =============================================================================
// CORE ERROR (STRUCTURED ERROR)
// =============================================================================

// CoreError represents a structured error with context
type CoreError struct {
	Code      string
	Message   string
	Cause     error
	Timestamp time.Time
	Context   map[string]any
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is compares by error code, allowing matching against sentinel errors
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithContext adds context to the error
func (e *CoreError) WithContext(key string, value any) *CoreError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newCoreError(code, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// ErrConfigError creates a config error
func ErrConfigError(message string, cause error) *CoreError {
	return newCoreError(CodeConfigError, message, cause)
}

// ErrValidationError creates a validation error
func ErrValidationError(field string, cause error) *CoreError {
	return newCoreError(CodeValidationError, fmt.Sprintf("validation error for field '%s'", field), cause).
		WithContext("field", field)
}

// ErrLifecycleError creates a lifecycle error
func ErrLifecycleError(phase string, cause error) *CoreError {
	return newCoreError(CodeLifecycleError, "lifecycle error during "+phase, cause).
		WithContext("phase", phase)
}

func ErrContextCancelled(operation string, cause error) *CoreError {
	return newCoreError(CodeContextCancelled, "context cancelled during "+operation, cause).
		WithContext("operation", operation)
}

func ErrInvalidRegistration(key string, cause error) *CoreError {
	return newCoreError(CodeInvalidRegistration, "invalid registration for '"+key+"'", cause).
		WithContext("service", key)
}

func ErrOrchestratorState(operation, state string) *CoreError {
	return newCoreError(CodeOrchestratorStateError, "cannot "+operation+" in state "+state, nil).
		WithContext("state", state)
}

// =============================================================================
// DI ERRORS
// =============================================================================

// NotRegisteredError is returned when resolving a key with no descriptor.
type NotRegisteredError struct {
	Key string
}

func (e *NotRegisteredError) Error() string {
	return "service '" + e.Key + "' not registered"
}

func (e *NotRegisteredError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeServiceNotFound
	}
	t, ok := target.(*NotRegisteredError)
	return ok && (t.Key == "" || t.Key == e.Key)
}

// CircularDependencyError reports a resolution chain that revisits a key.
// Chain starts and ends with the repeated key.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Chain, " -> ")
}

func (e *CircularDependencyError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeCircularDependency
	}
	_, ok := target.(*CircularDependencyError)
	return ok
}

// NoActiveScopeError is returned when a scoped service is resolved without a scope.
type NoActiveScopeError struct {
	Key string
}

func (e *NoActiveScopeError) Error() string {
	return "scoped service '" + e.Key + "' must be resolved from a scope"
}

func (e *NoActiveScopeError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeNoActiveScope
	}
	_, ok := target.(*NoActiveScopeError)
	return ok
}

// DuplicateRegistrationError is returned under the reject-duplicates policy.
type DuplicateRegistrationError struct {
	Key      string
	Existing string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("service '%s' already registered (implementation %s)", e.Key, e.Existing)
}

func (e *DuplicateRegistrationError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeServiceAlreadyExists
	}
	_, ok := target.(*DuplicateRegistrationError)
	return ok
}

// ServiceError wraps a factory failure with the key being constructed.
type ServiceError struct {
	Service   string
	Operation string
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %s: %v", e.Service, e.Operation, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewServiceError(service, operation string, err error) *ServiceError {
	return &ServiceError{Service: service, Operation: operation, Err: err}
}

// =============================================================================
// AGGREGATES
// =============================================================================

// DisposeError aggregates failures raised while disposing instances.
type DisposeError struct {
	Err error
}

func (e *DisposeError) Error() string {
	return "dispose failed: " + e.Err.Error()
}

func (e *DisposeError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// Failures returns each individual disposal failure.
func (e *DisposeError) Failures() []error {
	return multierr.Errors(e.Err)
}

// NewDisposeError returns nil when err is nil.
func NewDisposeError(err error) error {
	if err == nil {
		return nil
	}
	return &DisposeError{Err: err}
}

// CleanupError aggregates startup task cleanup failures.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return "startup cleanup failed: " + e.Err.Error()
}

func (e *CleanupError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

func (e *CleanupError) Failures() []error {
	return multierr.Errors(e.Err)
}

func NewCleanupError(err error) error {
	if err == nil {
		return nil
	}
	return &CleanupError{Err: err}
}

// =============================================================================
// STARTUP ERRORS
// =============================================================================

// DuplicateTaskError is returned when two distinct tasks share a name.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return "startup task '" + e.Name + "' already registered"
}

func (e *DuplicateTaskError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeDuplicateTask
	}
	_, ok := target.(*DuplicateTaskError)
	return ok
}

// StartupTaskError reports the task that halted startup.
type StartupTaskError struct {
	Task      string
	Order     int
	Phase     string
	Completed []string
	Err       error
}

func (e *StartupTaskError) Error() string {
	phase := e.Phase
	if phase == "" {
		phase = "execute"
	}
	return fmt.Sprintf("startup task '%s' (order %d) failed to %s: %v", e.Task, e.Order, phase, e.Err)
}

func (e *StartupTaskError) Unwrap() error {
	return e.Err
}

func (e *StartupTaskError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeStartupTaskFailed
	}
	return false
}

// =============================================================================
// DISCOVERY ERRORS
// =============================================================================

// Skip records a discovery candidate that could not be inspected.
type Skip struct {
	Module  string
	Index   int
	Subject string
	Reason  string
}

func (s Skip) String() string {
	return fmt.Sprintf("%s[%d] %s: %s", s.Module, s.Index, s.Subject, s.Reason)
}

// DiscoveryPartialFailure lists candidates skipped during a scan. Results
// returned alongside it are still valid.
type DiscoveryPartialFailure struct {
	Skipped []Skip
}

func (e *DiscoveryPartialFailure) Error() string {
	parts := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		parts = append(parts, s.String())
	}
	return fmt.Sprintf("discovery skipped %d candidate(s): %s", len(e.Skipped), strings.Join(parts, "; "))
}

func (e *DiscoveryPartialFailure) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return t.Code == CodeDiscoveryPartial
	}
	_, ok := target.(*DiscoveryPartialFailure)
	return ok
}

// =============================================================================
// SENTINELS FOR Is
// =============================================================================

var (
	ErrServiceNotFoundSentinel      = &CoreError{Code: CodeServiceNotFound}
	ErrServiceAlreadyExistsSentinel = &CoreError{Code: CodeServiceAlreadyExists}
	ErrCircularDependencySentinel   = &CoreError{Code: CodeCircularDependency}
	ErrNoActiveScopeSentinel        = &CoreError{Code: CodeNoActiveScope}
	ErrDuplicateTaskSentinel        = &CoreError{Code: CodeDuplicateTask}
	ErrStartupTaskFailedSentinel    = &CoreError{Code: CodeStartupTaskFailed}
	ErrDiscoveryPartialSentinel     = &CoreError{Code: CodeDiscoveryPartial}
	ErrConfigErrorSentinel          = &CoreError{Code: CodeConfigError}
	ErrValidationErrorSentinel      = &CoreError{Code: CodeValidationError}
)

// =============================================================================
// HELPERS
// =============================================================================

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}

// Append combines errors, dropping nils.
func Append(left, right error) error {
	return multierr.Append(left, right)
}

func IsServiceNotFound(err error) bool {
	return Is(err, ErrServiceNotFoundSentinel)
}

func IsCircularDependency(err error) bool {
	return Is(err, ErrCircularDependencySentinel)
}

func IsNoActiveScope(err error) bool {
	return Is(err, ErrNoActiveScopeSentinel)
}

func IsStartupTaskFailure(err error) bool {
	return Is(err, ErrStartupTaskFailedSentinel)
}
