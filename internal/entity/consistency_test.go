package entity

import (
	"errors"
	"testing"
)

func TestCheckConsistent(t *testing.T) {
	stored := &Node{ID: 5, Version: 3, Visible: true}

	t.Run("matching version passes", func(t *testing.T) {
		if err := CheckConsistent(stored, &Node{ID: 5, Version: 3}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		err := CheckConsistent(stored, &Node{ID: 5, Version: 2})
		var conflict *VersionConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected VersionConflictError, got %v", err)
		}
		if conflict.Expected != 3 || conflict.Got != 2 || conflict.NodeID != 5 {
			t.Errorf("wrong conflict detail: %+v", conflict)
		}
	})

	t.Run("future version conflicts", func(t *testing.T) {
		var conflict *VersionConflictError
		if err := CheckConsistent(stored, &Node{ID: 5, Version: 4}); !errors.As(err, &conflict) {
			t.Fatalf("expected VersionConflictError, got %v", err)
		}
	})

	t.Run("deleted base wins over version mismatch", func(t *testing.T) {
		deleted := &Node{ID: 5, Version: 3, Visible: false}
		err := CheckConsistent(deleted, &Node{ID: 5, Version: 1})
		var gone *AlreadyDeletedError
		if !errors.As(err, &gone) {
			t.Fatalf("expected AlreadyDeletedError, got %v", err)
		}
		if gone.NodeID != 5 {
			t.Errorf("wrong node id: %d", gone.NodeID)
		}
	})
}

func TestChangesetCheckWritable(t *testing.T) {
	cs := &Changeset{ID: 9, UserID: 100, Open: true}

	if err := cs.CheckWritable(100); err != nil {
		t.Errorf("owner rejected: %v", err)
	}

	var mismatch *ChangesetMismatchError
	if err := cs.CheckWritable(101); !errors.As(err, &mismatch) {
		t.Errorf("foreign user accepted: %v", err)
	}

	closed := &Changeset{ID: 9, UserID: 100, Open: false}
	if err := closed.CheckWritable(100); !errors.As(err, &mismatch) {
		t.Errorf("closed changeset accepted: %v", err)
	}
}

func TestChangesetBBoxAndCounter(t *testing.T) {
	cs := &Changeset{ID: 1, UserID: 1, Open: true}

	a := &Node{ID: 1, Lat: 100000000, Lon: 200000000, Visible: true}
	cs.ExtendBBox(a.BBox())
	if !cs.BBox.Set {
		t.Fatal("bbox still empty after first edit")
	}
	if cs.BBox.MinLat != 100000000 || cs.BBox.MaxLon != 200000000 {
		t.Errorf("bbox does not cover the first point: %+v", cs.BBox)
	}

	// A move extends with the old and the new position.
	moved := a.Clone()
	moved.Lat = 100000001
	cs.ExtendBBox(a.BBox())
	cs.ExtendBBox(moved.BBox())
	if cs.BBox.MinLat != 100000000 || cs.BBox.MaxLat != 100000001 {
		t.Errorf("bbox does not cover old and new positions: %+v", cs.BBox)
	}

	cs.AddChanges(1)
	cs.AddChanges(2)
	if cs.NumChanges != 3 {
		t.Errorf("change counter = %d, want 3", cs.NumChanges)
	}
}
