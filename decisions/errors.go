package decisions

import (
	"errors"
	"fmt"

	"github.com/alex-thorne/ConsensusBot-sub002/storage"
)

// ValidationError reports malformed input to a creation call. It is always
// returned before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotEligibleError is returned when a user outside the voter registry votes.
type NotEligibleError struct {
	DecisionID string
	UserID     string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("user %s is not a required voter on decision %s", e.UserID, e.DecisionID)
}

// InvalidStateError is returned for mutations of a missing or closed decision.
// Status is empty when the decision does not exist.
type InvalidStateError struct {
	DecisionID string
	Status     storage.DecisionStatus
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("decision %s does not exist", e.DecisionID)
	}
	return fmt.Sprintf("decision %s is %s", e.DecisionID, e.Status)
}

func (e *InvalidStateError) NotFound() bool {
	return e.Status == ""
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err means the decision does not exist.
func IsNotFound(err error) bool {
	var ise *InvalidStateError
	if errors.As(err, &ise) {
		return ise.NotFound()
	}
	return errors.Is(err, storage.ErrDecisionNotFound)
}
