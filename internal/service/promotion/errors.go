package promotion

import (
	"errors"
	"fmt"
)

var (
	ErrDraftNotFound = errors.New("draft not found")
	// ErrNotPromotable covers drafts already superseded, rejected, deleted,
	// or linked to a delivery.
	ErrNotPromotable = errors.New("draft already processed")
)

// DispatchError means task-queue submission failed after the promotion
// commit; the commit has been compensated (delivery removed, draft
// restored) by the time this error is returned.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("dispatch failed: %v", e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// CommitError means a DB write failed after a task was already submitted.
// The just-submitted task has been cancelled best-effort; callers must treat
// this as fatal for the operation.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return fmt.Sprintf("commit failed: %v", e.Err) }
func (e *CommitError) Unwrap() error { return e.Err }
