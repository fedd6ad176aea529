package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Degrade to "no action this cycle"
	ErrorCategoryInsufficientData ErrorCategory = "INSUFFICIENT_DATA"
	ErrorCategoryInvalidRisk      ErrorCategory = "INVALID_RISK"
	ErrorCategoryRiskRejected     ErrorCategory = "RISK_REJECTED"

	// Transient, caller backs off
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"

	// Counted by the error-rate breaker
	ErrorCategoryExchange ErrorCategory = "EXCHANGE"

	// Block the orchestrator until cleared
	ErrorCategorySafetyHalt    ErrorCategory = "SAFETY_HALT"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// CategoryOf returns the category of the first BotError in err's chain.
func CategoryOf(err error) (ErrorCategory, bool) {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr.Category, true
	}
	return "", false
}

// Common error constructors

func NewInsufficientDataError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryInsufficientData, component, operation)
}

func NewInvalidRiskError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryInvalidRisk, component, operation)
}

func NewRiskRejectedError(component, operation, reason string, err error) *BotError {
	e := NewBotError(ErrorCategoryRiskRejected, component, operation, reason)
	e.Underlying = err
	return e
}

func NewExchangeError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryExchange, component, operation)
}

func NewConfigurationError(component, operation string, err error) *BotError {
	e := WrapError(err, ErrorCategoryConfiguration, component, operation)
	if e != nil {
		e.Message = "invalid configuration"
	}
	return e
}

// RecoveryAction is what the orchestrator does with an error of a given category.
type RecoveryAction string

const (
	RecoveryActionNone RecoveryAction = ""
	RecoveryActionSkip RecoveryAction = "SKIP"
	RecoveryActionWait RecoveryAction = "WAIT"
	RecoveryActionStop RecoveryAction = "STOP"
)

var recoverySeverity = map[RecoveryAction]int{
	RecoveryActionNone: 0,
	RecoveryActionSkip: 1,
	RecoveryActionWait: 2,
	RecoveryActionStop: 3,
}

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategorySafetyHalt, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	default:
		return RecoveryActionSkip
	}
}

// RecoveryFor returns the most severe action of any BotError in err's tree,
// following errors.Join branches. A non-nil error without a category is a skip.
func RecoveryFor(err error) RecoveryAction {
	if err == nil {
		return RecoveryActionNone
	}

	action := RecoveryActionSkip
	walkBotErrors(err, func(e *BotError) {
		if a := e.GetRecoveryAction(); recoverySeverity[a] > recoverySeverity[action] {
			action = a
		}
	})
	return action
}

func walkBotErrors(err error, visit func(*BotError)) {
	for err != nil {
		if be, ok := err.(*BotError); ok {
			visit(be)
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walkBotErrors(inner, visit)
			}
			return
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return
		}
	}
}
