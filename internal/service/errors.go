package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind is the closed set of admission failure classifications. Every
// error surfaced by the admission core carries exactly one kind; nothing
// untyped escapes AdmissionService.
type ErrorKind string

const (
	KindInvalidCode              ErrorKind = "invalid_code"
	KindCodeExpired              ErrorKind = "code_expired"
	KindCapacityExceeded         ErrorKind = "capacity_exceeded"
	KindCapacityCheckFailed      ErrorKind = "capacity_check_failed"
	KindUsageIncrementFailed     ErrorKind = "usage_increment_failed"
	KindConcurrentAccessConflict ErrorKind = "concurrent_access_conflict"
	KindSessionCreationFailed    ErrorKind = "session_creation_failed"
	KindRollbackFailed           ErrorKind = "rollback_failed"
	KindDatabaseError            ErrorKind = "database_error"
)

// AdmissionError is the one error type the admission core returns. The user
// message is safe to hand to clients verbatim; the wrapped cause is not.
type AdmissionError struct {
	Kind        ErrorKind
	Op          string
	CodeID      uuid.UUID
	UserMessage string
	Current     int
	Max         int
	Err         error
}

func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (op=%s): %v", e.Kind, e.Op, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s (op=%s)", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// RetryableByCaller reports whether re-submitting the whole admission is a
// sensible client reaction. Concurrent conflicts are the canonical case:
// the loser of a race must re-observe capacity, not replay its decision.
func (e *AdmissionError) RetryableByCaller() bool {
	switch e.Kind {
	case KindConcurrentAccessConflict,
		KindCapacityCheckFailed,
		KindUsageIncrementFailed,
		KindSessionCreationFailed,
		KindDatabaseError:
		return true
	}
	return false
}

// OperatorAttention flags the kinds that represent real inconsistency rather
// than transient refusal. RollbackFailed leaves the ledger overcounted until
// the sweeper reconciles it.
func (e *AdmissionError) OperatorAttention() bool {
	return e.Kind == KindRollbackFailed
}

func newInvalidCode() *AdmissionError {
	return &AdmissionError{
		Kind:        KindInvalidCode,
		UserMessage: "This access code is not recognized.",
	}
}

func newCodeExpired(codeID uuid.UUID) *AdmissionError {
	return &AdmissionError{
		Kind:        KindCodeExpired,
		CodeID:      codeID,
		UserMessage: "This access code has expired.",
	}
}

func newCapacityExceeded(codeID uuid.UUID, current, max int) *AdmissionError {
	return &AdmissionError{
		Kind:        KindCapacityExceeded,
		CodeID:      codeID,
		Current:     current,
		Max:         max,
		UserMessage: fmt.Sprintf("This access code has reached its limit of %d concurrent viewers.", max),
	}
}

func newCapacityCheckFailed(codeID uuid.UUID, err error) *AdmissionError {
	return &AdmissionError{
		Kind:        KindCapacityCheckFailed,
		Op:          OpCapacityCheck,
		CodeID:      codeID,
		Err:         err,
		UserMessage: "We could not verify code availability. Please try again shortly.",
	}
}

func newUsageIncrementFailed(codeID uuid.UUID, err error) *AdmissionError {
	return &AdmissionError{
		Kind:        KindUsageIncrementFailed,
		Op:          OpUsageIncrement,
		CodeID:      codeID,
		Err:         err,
		UserMessage: "We could not complete your admission. Please try again shortly.",
	}
}

func newConcurrentAccessConflict(codeID uuid.UUID, max int) *AdmissionError {
	return &AdmissionError{
		Kind:        KindConcurrentAccessConflict,
		Op:          OpUsageIncrement,
		CodeID:      codeID,
		Max:         max,
		UserMessage: "Another viewer was admitted just ahead of you. Please try again.",
	}
}

func newSessionCreationFailed(codeID uuid.UUID, err error) *AdmissionError {
	return &AdmissionError{
		Kind:        KindSessionCreationFailed,
		Op:          OpSessionCreation,
		CodeID:      codeID,
		Err:         err,
		UserMessage: "We could not start your session. Please try again.",
	}
}

func newRollbackFailed(codeID uuid.UUID, err error) *AdmissionError {
	return &AdmissionError{
		Kind:        KindRollbackFailed,
		Op:          OpRollback,
		CodeID:      codeID,
		Err:         err,
		UserMessage: "We could not start your session. Please try again later.",
	}
}

func newDatabaseError(op string, codeID uuid.UUID, err error) *AdmissionError {
	return &AdmissionError{
		Kind:        KindDatabaseError,
		Op:          op,
		CodeID:      codeID,
		Err:         err,
		UserMessage: "The service is temporarily unavailable. Please try again shortly.",
	}
}

// AsAdmissionError extracts the typed error from an error chain.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf classifies an arbitrary error; untyped errors map to DatabaseError.
func KindOf(err error) ErrorKind {
	if ae, ok := AsAdmissionError(err); ok {
		return ae.Kind
	}
	return KindDatabaseError
}
