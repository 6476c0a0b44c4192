package corekit

import (
	"github.com/xraph/corekit/internal/errors"
)

// Re-export error types so callers can match with errors.As.
type (
	CoreError                  = errors.CoreError
	NotRegisteredError         = errors.NotRegisteredError
	CircularDependencyError    = errors.CircularDependencyError
	NoActiveScopeError         = errors.NoActiveScopeError
	DuplicateRegistrationError = errors.DuplicateRegistrationError
	DuplicateTaskError         = errors.DuplicateTaskError
	StartupTaskError           = errors.StartupTaskError
	DiscoveryPartialFailure    = errors.DiscoveryPartialFailure
	DisposeError               = errors.DisposeError
	CleanupError               = errors.CleanupError
	ServiceError               = errors.ServiceError
	Skip                       = errors.Skip
)

var (
	ErrInvalidFactory       = errors.ErrInvalidFactory
	ErrTypeMismatch         = errors.ErrTypeMismatch
	ErrScopeDisposed        = errors.ErrScopeDisposed
	ErrAlreadyExecuted      = errors.ErrAlreadyExecuted
	ErrInvalidTask          = errors.ErrInvalidTask
	ErrEngineNotInitialized = errors.ErrEngineNotInitialized
	ErrEngineStopped        = errors.ErrEngineStopped
)

// Re-export sentinel errors for comparison using errors.Is().
var (
	ErrServiceNotFoundSentinel      = errors.ErrServiceNotFoundSentinel
	ErrServiceAlreadyExistsSentinel = errors.ErrServiceAlreadyExistsSentinel
	ErrCircularDependencySentinel   = errors.ErrCircularDependencySentinel
	ErrNoActiveScopeSentinel        = errors.ErrNoActiveScopeSentinel
	ErrDuplicateTaskSentinel        = errors.ErrDuplicateTaskSentinel
	ErrStartupTaskFailedSentinel    = errors.ErrStartupTaskFailedSentinel
	ErrDiscoveryPartialSentinel     = errors.ErrDiscoveryPartialSentinel
	ErrConfigErrorSentinel          = errors.ErrConfigErrorSentinel
	ErrValidationErrorSentinel      = errors.ErrValidationErrorSentinel
)

var (
	IsServiceNotFound    = errors.IsServiceNotFound
	IsCircularDependency = errors.IsCircularDependency
	IsNoActiveScope      = errors.IsNoActiveScope
	IsStartupTaskFailure = errors.IsStartupTaskFailure
)
