package engine

import (
	"errors"
	"fmt"
)

// PropagationError represents an error raised by the engine at runtime.
//
// Runtime errors include:
//   - Illegal direct write: a caller set a maintained field through the
//     ordinary mutation path
//   - Steps exceeded: a batch hit the per-batch step ceiling
//   - Schema mismatch: the store was last written under a different schema
//   - Propagation aborted: a batch failed and the transaction must roll back
//
// Registration-time errors (invalid specs, cyclic dependencies) are raised
// by the schema package before an engine exists.
type PropagationError struct {
	// Code identifies the error category.
	Code PropagationErrorCode

	// Message is a human-readable description.
	Message string

	// BatchToken identifies the affected batch, when one was running.
	BatchToken string

	// RecordType and RecordID identify the affected record, when known.
	RecordType string
	RecordID   int64

	// Field is the maintained field involved, when known.
	Field string

	// Err is the underlying cause, when wrapping one.
	Err error
}

// PropagationErrorCode categorizes engine runtime errors.
type PropagationErrorCode string

const (
	// ErrCodeIllegalDirectWrite indicates a caller tried to set a
	// maintained field directly. Only the executor writes them.
	ErrCodeIllegalDirectWrite PropagationErrorCode = "ILLEGAL_DIRECT_WRITE"

	// ErrCodeStepsExceeded indicates a batch exceeded the step ceiling.
	ErrCodeStepsExceeded PropagationErrorCode = "STEPS_EXCEEDED"

	// ErrCodeSchemaMismatch indicates the store's maintained values were
	// computed under a different schema fingerprint.
	ErrCodeSchemaMismatch PropagationErrorCode = "SCHEMA_MISMATCH"

	// ErrCodeUnknownRecord indicates a mutation referenced a record that
	// does not exist.
	ErrCodeUnknownRecord PropagationErrorCode = "UNKNOWN_RECORD"

	// ErrCodeInvalidMutation indicates a mutation that does not fit the
	// schema: unknown type, unknown attribute, value of the wrong kind,
	// or unknown relation.
	ErrCodeInvalidMutation PropagationErrorCode = "INVALID_MUTATION"

	// ErrCodePropagationAborted indicates a batch failed partway; the
	// enclosing transaction must be rolled back, discarding the mutation
	// and every propagated write with it.
	ErrCodePropagationAborted PropagationErrorCode = "PROPAGATION_ABORTED"
)

// Error implements the error interface.
func (e *PropagationError) Error() string {
	switch {
	case e.RecordType != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (record=%s/%d, field=%s)", e.Code, e.Message, e.RecordType, e.RecordID, e.Field)
	case e.RecordType != "":
		return fmt.Sprintf("%s: %s (record=%s/%d)", e.Code, e.Message, e.RecordType, e.RecordID)
	case e.BatchToken != "":
		return fmt.Sprintf("%s: %s (batch=%s)", e.Code, e.Message, e.BatchToken)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *PropagationError) Unwrap() error {
	return e.Err
}

// IsIllegalDirectWrite reports whether err is a direct write to a
// maintained field. Uses errors.As to handle wrapped errors.
func IsIllegalDirectWrite(err error) bool {
	return hasCode(err, ErrCodeIllegalDirectWrite)
}

// IsStepsExceeded reports whether err is a step-ceiling violation.
// Uses errors.As to handle wrapped errors.
func IsStepsExceeded(err error) bool {
	return hasCode(err, ErrCodeStepsExceeded)
}

// IsSchemaMismatch reports whether err is a schema fingerprint mismatch.
func IsSchemaMismatch(err error) bool {
	return hasCode(err, ErrCodeSchemaMismatch)
}

// IsPropagationAborted reports whether err aborted a batch. The underlying
// cause is available through errors.Unwrap.
func IsPropagationAborted(err error) bool {
	return hasCode(err, ErrCodePropagationAborted)
}

// IsUnknownRecord reports whether err references a record that does not
// exist.
func IsUnknownRecord(err error) bool {
	return hasCode(err, ErrCodeUnknownRecord)
}

// IsInvalidMutation reports whether err is a mutation the schema rejects.
func IsInvalidMutation(err error) bool {
	return hasCode(err, ErrCodeInvalidMutation)
}

// hasCode walks the whole cause chain, so an abort wrapper and the batch
// failure underneath both answer their predicates.
func hasCode(err error, code PropagationErrorCode) bool {
	for err != nil {
		var pe *PropagationError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Err
	}
	return false
}

// NewIllegalDirectWrite creates a PropagationError for a direct write to a
// maintained field.
func NewIllegalDirectWrite(recordType string, recordID int64, field string) *PropagationError {
	return &PropagationError{
		Code:       ErrCodeIllegalDirectWrite,
		Message:    "maintained fields are read-only to callers; only propagation writes them",
		RecordType: recordType,
		RecordID:   recordID,
		Field:      field,
	}
}

// NewStepsExceeded creates a PropagationError for a batch that hit the
// step ceiling.
func NewStepsExceeded(batchToken string, steps, limit int) *PropagationError {
	return &PropagationError{
		Code:       ErrCodeStepsExceeded,
		Message:    fmt.Sprintf("batch exceeded max steps (%d > %d)", steps, limit),
		BatchToken: batchToken,
	}
}

// NewSchemaMismatch creates a PropagationError for a store whose maintained
// values were computed under a different schema.
func NewSchemaMismatch(stored, current string) *PropagationError {
	return &PropagationError{
		Code:    ErrCodeSchemaMismatch,
		Message: fmt.Sprintf("store fingerprint %s does not match schema fingerprint %s; re-verify before running", stored, current),
	}
}

// NewPropagationAborted wraps a batch failure. The caller must roll back
// the session; no propagated write survives.
func NewPropagationAborted(batchToken string, cause error) *PropagationError {
	return &PropagationError{
		Code:       ErrCodePropagationAborted,
		Message:    "propagation failed; roll back the transaction",
		BatchToken: batchToken,
		Err:        cause,
	}
}

// NewUnknownRecord creates a PropagationError for a mutation referencing a
// record that does not exist.
func NewUnknownRecord(recordType string, recordID int64) *PropagationError {
	return &PropagationError{
		Code:       ErrCodeUnknownRecord,
		Message:    "record does not exist",
		RecordType: recordType,
		RecordID:   recordID,
	}
}

// NewInvalidMutation creates a PropagationError for a mutation the schema
// rejects.
func NewInvalidMutation(format string, args ...any) *PropagationError {
	return &PropagationError{
		Code:    ErrCodeInvalidMutation,
		Message: fmt.Sprintf(format, args...),
	}
}
