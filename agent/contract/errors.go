package contract

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")
	ErrToolNotFound    = errors.New("tool not found")
	ErrProvider        = errors.New("provider call failed")
	ErrOrchestration   = errors.New("orchestration failed")
)

// ValidationError rejects a single tool proposal. It is never fatal to a turn.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid arguments for ")
	b.WriteString(e.Tool)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(tool, field, format string, args ...any) *ValidationError {
	return &ValidationError{Tool: tool, Field: field, Reason: fmt.Sprintf(format, args...)}
}

type ProviderErrorCode string

const (
	ProviderNotFound    ProviderErrorCode = "not_found"
	ProviderConflict    ProviderErrorCode = "conflict"
	ProviderUnavailable ProviderErrorCode = "unavailable"
	ProviderTimeout     ProviderErrorCode = "timeout"
	ProviderInvalid     ProviderErrorCode = "invalid"
)

// ProviderError is a typed booking backend failure.
type ProviderError struct {
	Op        string
	Code      ProviderErrorCode
	Retriable bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s failed (%s)", e.Op, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func NewProviderError(op string, code ProviderErrorCode, err error) *ProviderError {
	return &ProviderError{
		Op:        op,
		Code:      code,
		Retriable: code == ProviderTimeout || code == ProviderUnavailable,
		Err:       err,
	}
}

// OrchestrationError is the only error HandleTurn returns to its caller.
type OrchestrationError struct {
	Stage string
	Err   error
}

func (e *OrchestrationError) Error() string {
	if e.Err == nil {
		return "orchestration failed at " + e.Stage
	}
	return "orchestration failed at " + e.Stage + ": " + e.Err.Error()
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

func (e *OrchestrationError) Is(target error) bool {
	return target == ErrOrchestration
}
