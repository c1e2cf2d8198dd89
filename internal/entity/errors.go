package entity

import "fmt"

// ValidationError reports malformed input the caller can correct and resubmit
type ValidationError struct {
	NodeID int64
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID != 0 {
		return fmt.Sprintf("node %d: invalid %s: %s", e.NodeID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateTagError reports a key appearing twice in one node's tag input
type DuplicateTagError struct {
	NodeID int64
	Key    string
}

func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("node %d: duplicate tag key %q", e.NodeID, e.Key)
}

// VersionConflictError reports an optimistic concurrency failure: the
// version the caller based its edit on is no longer the stored version
type VersionConflictError struct {
	NodeID   int64
	Expected int64 // version currently stored
	Got      int64 // version the caller supplied
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("node %d: version mismatch: expected %d, got %d",
		e.NodeID, e.Expected, e.Got)
}

// AlreadyDeletedError reports an edit based on a deleted entity
type AlreadyDeletedError struct {
	NodeID int64
}

func (e *AlreadyDeletedError) Error() string {
	return fmt.Sprintf("node %d: already deleted", e.NodeID)
}

// NotFoundError reports an edit targeting an id with no current row
type NotFoundError struct {
	NodeID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %d: does not exist", e.NodeID)
}

// ChangesetMismatchError reports a changeset that is closed or not owned
// by the user attempting the edit
type ChangesetMismatchError struct {
	ChangesetID int64
	Reason      string
}

func (e *ChangesetMismatchError) Error() string {
	return fmt.Sprintf("changeset %d: %s", e.ChangesetID, e.Reason)
}

// PreconditionFailedError reports a delete blocked by visible entities
// that still reference the node
type PreconditionFailedError struct {
	NodeID      int64
	WayIDs      []int64
	RelationIDs []int64
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("node %d: still referenced by ways %v and relations %v",
		e.NodeID, e.WayIDs, e.RelationIDs)
}

// StorageError wraps a failure of the underlying database transaction.
// The whole transaction may be retried from scratch by the caller; no
// individual step is retryable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
