package entity

// CheckConsistent compares a just-locked stored node against the
// candidate edit the caller believes applies to it. Pure; the caller
// must already hold the stored row's lock, or the answer can be stale
// by the time it acts on it.
//
// A deleted entity can never be the base of a further edit, so that
// check runs before the version comparison.
func CheckConsistent(stored, candidate *Node) error {
	if !stored.Visible {
		return &AlreadyDeletedError{NodeID: stored.ID}
	}
	if candidate.Version != stored.Version {
		return &VersionConflictError{
			NodeID:   stored.ID,
			Expected: stored.Version,
			Got:      candidate.Version,
		}
	}
	return nil
}
