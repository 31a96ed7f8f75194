package domain

import (
	"fmt"
	"time"
)

// NotFoundError is returned when reference validation fails inside a
// transactional operation. Plain existence checks return (value, bool)
// instead of this error.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AlreadyActiveError rejects packing a child that is already active
// under some parent.
type AlreadyActiveError struct {
	ChildID        string
	ActiveParentID string
}

func (e AlreadyActiveError) Error() string {
	return fmt.Sprintf("child %s is already active under container %s", e.ChildID, e.ActiveParentID)
}

// NotActiveError rejects disaggregating a pair with no active
// relationship.
type NotActiveError struct {
	ParentID string
	ChildID  string
}

func (e NotActiveError) Error() string {
	return fmt.Sprintf("no active relationship between container %s and child %s", e.ParentID, e.ChildID)
}

// DuplicateCommitmentError rejects a second commitment for a container.
type DuplicateCommitmentError struct {
	ContainerID string
}

func (e DuplicateCommitmentError) Error() string {
	return fmt.Sprintf("container %s already has a commitment", e.ContainerID)
}

// EmptyChildSetError rejects an anchor with no children.
type EmptyChildSetError struct {
	ContainerID string
}

func (e EmptyChildSetError) Error() string {
	return fmt.Sprintf("anchor for container %s has no children", e.ContainerID)
}

// InvalidRootError rejects a zero or empty merkle root.
type InvalidRootError struct {
	ContainerID string
}

func (e InvalidRootError) Error() string {
	return fmt.Sprintf("merkle root for container %s is zero", e.ContainerID)
}

// ChildCountMismatchError rejects an anchor whose declared child count
// disagrees with the supplied child set.
type ChildCountMismatchError struct {
	ContainerID string
	Declared    int
	Actual      int
}

func (e ChildCountMismatchError) Error() string {
	return fmt.Sprintf("container %s declared %d children but %d were supplied", e.ContainerID, e.Declared, e.Actual)
}

// InsufficientBalanceError rejects a transfer or burn exceeding the
// holder's balance.
type InsufficientBalanceError struct {
	TokenID   string
	Holder    string
	Requested int64
	Available int64
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("holder %s has %d of token %s, requested %d", e.Holder, e.Available, e.TokenID, e.Requested)
}

// CycleDetectedError fails a lineage query that revisits a node. The
// ledger itself is left untouched for operator investigation.
type CycleDetectedError struct {
	ProductID string
	RepeatID  string
}

func (e CycleDetectedError) Error() string {
	return fmt.Sprintf("lineage of %s revisits %s", e.ProductID, e.RepeatID)
}

// DepthExceededError fails a lineage query that descends past the
// configured ceiling.
type DepthExceededError struct {
	ProductID string
	Limit     int
}

func (e DepthExceededError) Error() string {
	return fmt.Sprintf("lineage of %s exceeds depth limit %d", e.ProductID, e.Limit)
}

// LockTimeoutError rejects a write that could not acquire the
// per-container lock within the bounded wait. Safe to retry.
type LockTimeoutError struct {
	ContainerID string
	Wait        time.Duration
}

func (e LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for writer lock on container %s", e.Wait, e.ContainerID)
}
