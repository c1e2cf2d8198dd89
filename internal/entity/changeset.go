package entity

import "github.com/wegman-software/osmapi-go/internal/geo"

// Changeset is the edit group owning a set of mutations. The engine only
// touches its bounding box and change counter; lifecycle (open/close,
// comments) belongs to the API layer. The row is read, extended and
// written back under its own row lock inside every mutating transaction.
type Changeset struct {
	ID         int64
	UserID     int64
	Open       bool
	BBox       geo.BBox // unset while the changeset has no edits
	NumChanges int64
}

// ExtendBBox grows the changeset's box to include another box
func (c *Changeset) ExtendBBox(b geo.BBox) {
	c.BBox.Extend(b)
}

// AddChanges bumps the change counter by the number of entities mutated
func (c *Changeset) AddChanges(n int64) {
	c.NumChanges += n
}

// CheckWritable verifies the changeset can accept edits from the given
// user. Runs after the changeset row lock is held.
func (c *Changeset) CheckWritable(userID int64) error {
	if !c.Open {
		return &ChangesetMismatchError{ChangesetID: c.ID, Reason: "closed"}
	}
	if c.UserID != userID {
		return &ChangesetMismatchError{ChangesetID: c.ID, Reason: "owned by another user"}
	}
	return nil
}
