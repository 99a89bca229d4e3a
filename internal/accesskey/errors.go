package accesskey

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by mutations. Callers check them with errors.Is.
var (
	// ErrConflict is returned when creating a key that already exists.
	ErrConflict = errors.New("access key already exists")

	// ErrNotFound is returned when reading or mutating an absent key.
	ErrNotFound = errors.New("access key not found")

	// ErrInfrastructure is matched by every InfrastructureError.
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrInvalid is matched by every ValidationError.
	ErrInvalid = errors.New("invalid access key input")
)

// Op names a coordinator operation for errors, logs and metrics.
type Op string

// Coordinator operations.
const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpDisable Op = "disable"
	OpGet     Op = "get"
	OpList    Op = "list"
)

// Stage names the saga step at which an infrastructure failure occurred.
type Stage string

// Saga stages.
const (
	StageRead    Stage = "read"
	StageWrite   Stage = "write"
	StagePublish Stage = "publish"
)

// InfrastructureError reports that the store or the event log failed
// during an operation. It hides the transport error from callers while
// keeping it available through Unwrap for logging.
type InfrastructureError struct {
	Op    Op
	Stage Stage
	Cause error
}

// Error implements the error interface.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", e.Op, e.Stage, ErrInfrastructure.Error())
}

// Unwrap returns the underlying error.
func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

// Is matches ErrInfrastructure.
func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

// NewInfrastructureError creates a new InfrastructureError.
func NewInfrastructureError(op Op, stage Stage, cause error) *InfrastructureError {
	return &InfrastructureError{Op: op, Stage: stage, Cause: cause}
}

// ValidationError reports invalid input.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Is matches ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
