package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Node and transport errors
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeTimeout ErrorType = "timeout"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Replay errors
	ErrorTypeDecoding     ErrorType = "decoding"
	ErrorTypeExecution    ErrorType = "execution"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypeVerification ErrorType = "verification"

	// Output errors
	ErrorTypeStorage  ErrorType = "storage"
	ErrorTypeNotFound ErrorType = "not_found"
)

// FlowError is an error carrying its category and replay context
type FlowError struct {
	Type        ErrorType
	Message     string
	OriginalErr error
	Context     map[string]interface{}
	Timestamp   time.Time
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *FlowError) Unwrap() error {
	return e.OriginalErr
}

// Is matches any FlowError of the same category
func (e *FlowError) Is(target error) bool {
	var targetErr *FlowError
	if errors.As(target, &targetErr) {
		return e.Type == targetErr.Type
	}
	return false
}

// AddContext adds contextual information to the error
func (e *FlowError) AddContext(key string, value interface{}) *FlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewError creates a new FlowError
func NewError(errType ErrorType, message string) *FlowError {
	return &FlowError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with FlowError
func WrapError(errType ErrorType, message string, originalErr error) *FlowError {
	return &FlowError{
		Type:        errType,
		Message:     message,
		OriginalErr: originalErr,
		Timestamp:   time.Now(),
		Context:     make(map[string]interface{}),
	}
}

// NewNetworkError 节点请求失败，可重试
func NewNetworkError(message string, originalErr error) *FlowError {
	return WrapError(ErrorTypeNetwork, message, originalErr).
		AddContext("recoverable", true)
}

// NewConfigError creates a configuration-related error
func NewConfigError(message string, field string) *FlowError {
	return NewError(ErrorTypeConfig, message).
		AddContext("field", field).
		AddContext("recoverable", false)
}

// NewReplayError marks a failed replay of txHash.
func NewReplayError(errType ErrorType, message string, txHash common.Hash, originalErr error) *FlowError {
	return WrapError(errType, message, originalErr).
		AddContext("tx", txHash.Hex()).
		AddContext("recoverable", false)
}

// IsType reports whether err is a FlowError of the given category.
func IsType(err error, errType ErrorType) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Type == errType
}

// ErrorRecovery provides retry logic for recoverable errors
type ErrorRecovery struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryableTypes map[ErrorType]bool
}

// NewErrorRecovery creates a new error recovery handler
func NewErrorRecovery() *ErrorRecovery {
	return &ErrorRecovery{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		RetryableTypes: map[ErrorType]bool{
			ErrorTypeNetwork: true,
			ErrorTypeTimeout: true,
		},
	}
}

// ShouldRetry determines if an error should be retried
func (r *ErrorRecovery) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.MaxRetries {
		return false
	}

	var fe *FlowError
	if errors.As(err, &fe) {
		if retryable, exists := r.RetryableTypes[fe.Type]; exists && retryable {
			return true
		}
		if recoverable, exists := fe.Context["recoverable"].(bool); exists && recoverable {
			return true
		}
	}

	return false
}

// GetRetryDelay calculates the delay before the next retry
func (r *ErrorRecovery) GetRetryDelay(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<uint(attempt)) // Exponential backoff
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// RetryWithRecovery executes operation until it succeeds, fails with a
// non-retryable error, or ctx is done.
func (r *ErrorRecovery) RetryWithRecovery(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(r.GetRetryDelay(attempt - 1)):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !r.ShouldRetry(err, attempt) {
			break
		}
	}

	return lastErr
}
