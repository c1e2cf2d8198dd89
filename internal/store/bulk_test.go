package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/geo"
)

func node(id, version int64, visible bool) *entity.Node {
	return &entity.Node{
		ID:          id,
		Lat:         100000000,
		Lon:         200000000,
		ChangesetID: 1,
		Visible:     visible,
		Version:     version,
	}
}

func TestValidateBatch(t *testing.T) {
	t.Run("accepts a mixed batch on one changeset", func(t *testing.T) {
		csID, err := validateBatch([]Change{
			{Action: ActionCreate, Node: node(0, 0, true)},
			{Action: ActionModify, Node: node(2, 1, true)},
			{Action: ActionDelete, Node: node(3, 0, true)},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if csID != 1 {
			t.Errorf("changeset id = %d, want 1", csID)
		}
	})

	t.Run("rejects an id appearing twice", func(t *testing.T) {
		_, err := validateBatch([]Change{
			{Action: ActionModify, Node: node(2, 1, true)},
			{Action: ActionDelete, Node: node(2, 2, true)},
		})
		var verr *entity.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects a batch spanning changesets", func(t *testing.T) {
		other := node(2, 1, true)
		other.ChangesetID = 9
		_, err := validateBatch([]Change{
			{Action: ActionModify, Node: node(1, 1, true)},
			{Action: ActionModify, Node: other},
		})
		var verr *entity.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects an unknown action", func(t *testing.T) {
		_, err := validateBatch([]Change{{Action: Action("upsert"), Node: node(1, 0, true)}})
		var verr *entity.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestPartitionBatch(t *testing.T) {
	stored := map[int64]*entity.Node{
		1: node(1, 3, true),
		2: node(2, 0, true),
		3: node(3, 5, false), // deleted
		4: node(4, 2, true),  // referenced by a way
	}
	refs := map[int64]refIDs{
		4: {Ways: []int64{40}},
	}

	t.Run("proceedable changes pass through", func(t *testing.T) {
		proceed, skipped, err := partitionBatch([]Change{
			{Action: ActionModify, Node: node(1, 3, true)},
			{Action: ActionDelete, Node: node(2, 0, true)},
			{Action: ActionCreate, Node: node(0, 0, true)},
		}, stored, refs, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(proceed) != 3 || len(skipped) != 0 {
			t.Errorf("proceed=%d skipped=%d, want 3/0", len(proceed), len(skipped))
		}
	})

	t.Run("version mismatch always aborts", func(t *testing.T) {
		for _, ifUnused := range []bool{false, true} {
			_, _, err := partitionBatch([]Change{
				{Action: ActionModify, Node: node(1, 2, true)},
			}, stored, refs, ifUnused)
			var conflict *entity.VersionConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("ifUnused=%v: expected VersionConflictError, got %v", ifUnused, err)
			}
			if conflict.Expected != 3 || conflict.Got != 2 {
				t.Errorf("conflict detail: %+v", conflict)
			}
		}
	})

	t.Run("already-deleted aborts strictly, skips under if-unused", func(t *testing.T) {
		changes := []Change{{Action: ActionModify, Node: node(3, 5, true)}}

		var gone *entity.AlreadyDeletedError
		if _, _, err := partitionBatch(changes, stored, refs, false); !errors.As(err, &gone) {
			t.Fatalf("expected AlreadyDeletedError, got %v", err)
		}

		proceed, skipped, err := partitionBatch(changes, stored, refs, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(proceed) != 0 {
			t.Errorf("deleted entity proceeded")
		}
		if skipped[3] != stored[3] {
			t.Errorf("skipped must carry last stored state, got %v", skipped[3])
		}
	})

	t.Run("referenced delete aborts strictly, skips under if-unused", func(t *testing.T) {
		changes := []Change{{Action: ActionDelete, Node: node(4, 2, true)}}

		_, _, err := partitionBatch(changes, stored, refs, false)
		var blocked *entity.PreconditionFailedError
		if !errors.As(err, &blocked) {
			t.Fatalf("expected PreconditionFailedError, got %v", err)
		}
		if len(blocked.WayIDs) != 1 || blocked.WayIDs[0] != 40 {
			t.Errorf("blocking ways = %v, want [40]", blocked.WayIDs)
		}

		proceed, skipped, err := partitionBatch(changes, stored, refs, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(proceed) != 0 || skipped[4] != stored[4] {
			t.Errorf("referenced delete not skipped: proceed=%v skipped=%v", proceed, skipped)
		}
	})

	t.Run("referenced modify still proceeds", func(t *testing.T) {
		proceed, skipped, err := partitionBatch([]Change{
			{Action: ActionModify, Node: node(4, 2, true)},
		}, stored, refs, false)
		if err != nil || len(proceed) != 1 || len(skipped) != 0 {
			t.Errorf("modify of referenced node blocked: %v %v %v", proceed, skipped, err)
		}
	})

	t.Run("unknown target aborts", func(t *testing.T) {
		_, _, err := partitionBatch([]Change{
			{Action: ActionModify, Node: node(99, 0, true)},
		}, stored, refs, true)
		var missing *entity.NotFoundError
		if !errors.As(err, &missing) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("create with an existing id aborts", func(t *testing.T) {
		_, _, err := partitionBatch([]Change{
			{Action: ActionCreate, Node: node(1, 0, true)},
		}, stored, refs, true)
		var verr *entity.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("one bad entity aborts the rest", func(t *testing.T) {
		_, _, err := partitionBatch([]Change{
			{Action: ActionModify, Node: node(1, 3, true)},
			{Action: ActionModify, Node: node(2, 7, true)},
		}, stored, refs, true)
		var conflict *entity.VersionConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected VersionConflictError, got %v", err)
		}
	})
}

func TestApplyChange(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create then move covers both points", func(t *testing.T) {
		// Node at lat=10, lon=20 in an empty changeset.
		candidate := &entity.Node{
			Lat: 100000000, Lon: 200000000, ChangesetID: 1,
			Tags: entity.TagSet{"name": "A"},
		}
		created, box := applyChange(Change{Action: ActionCreate, Node: candidate}, nil, now)
		if created.Version != entity.CreationVersion || !created.Visible {
			t.Fatalf("create produced version=%d visible=%v", created.Version, created.Visible)
		}
		if !box.Equal(geo.FromPoint(100000000, 200000000)) {
			t.Errorf("create box = %v, want the point", box)
		}
		if created.Timestamp != now || created.Tile != geo.QuadTile(100000000, 200000000) {
			t.Errorf("timestamp/tile not set: %+v", created)
		}

		// Move one coordinate step north, edit based on version 0.
		moved := created.Clone()
		moved.Lat = 100000001
		moved.Version = created.Version
		updated, box := applyChange(Change{Action: ActionModify, Node: moved}, created, now)
		if updated.Version != 1 {
			t.Errorf("version after first update = %d, want 1", updated.Version)
		}
		if box.MinLat != 100000000 || box.MaxLat != 100000001 {
			t.Errorf("move box does not cover old and new positions: %+v", box)
		}
	})

	t.Run("delete clears tags and keeps position", func(t *testing.T) {
		prev := node(9, 4, true)
		prev.Tags = entity.TagSet{"amenity": "bench"}

		deleted, box := applyChange(Change{
			Action: ActionDelete,
			Node:   &entity.Node{ID: 9, Version: 4, ChangesetID: 2},
		}, prev, now)

		if deleted.Visible {
			t.Error("deleted node still visible")
		}
		if deleted.Version != 5 {
			t.Errorf("delete version = %d, want 5", deleted.Version)
		}
		if len(deleted.Tags) != 0 {
			t.Errorf("delete kept current tags: %v", deleted.Tags)
		}
		if deleted.Lat != prev.Lat || deleted.Lon != prev.Lon {
			t.Error("delete moved the node")
		}
		if deleted.ChangesetID != 2 {
			t.Errorf("delete not attributed to its changeset: %d", deleted.ChangesetID)
		}
		if !box.Equal(prev.BBox()) {
			t.Errorf("delete box = %v, want the old position", box)
		}
		// The locked row itself must stay untouched for the skip path.
		if !prev.Visible || len(prev.Tags) != 1 {
			t.Errorf("applyChange mutated the stored row: %+v", prev)
		}
	})

	t.Run("versions stay contiguous over a full cycle", func(t *testing.T) {
		candidate := &entity.Node{Lat: 1, Lon: 2, ChangesetID: 1}
		n, _ := applyChange(Change{Action: ActionCreate, Node: candidate}, nil, now)

		var versions []int64
		versions = append(versions, n.Version)
		for _, action := range []Action{ActionModify, ActionModify, ActionDelete} {
			c := n.Clone()
			c.Version = n.Version
			n, _ = applyChange(Change{Action: action, Node: c}, n, now)
			versions = append(versions, n.Version)
		}

		for i, v := range versions {
			if v != entity.CreationVersion+int64(i) {
				t.Fatalf("versions not contiguous: %v", versions)
			}
		}
	})
}

func TestRetryable(t *testing.T) {
	if retryable(errors.New("plain")) {
		t.Error("plain error treated as retryable")
	}
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := fmt.Errorf("tx failed: %w", &pgconn.PgError{Code: code})
		if !retryable(err) {
			t.Errorf("code %s not treated as retryable", code)
		}
	}
	if retryable(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation treated as retryable")
	}
}

func TestFinishTxErr(t *testing.T) {
	t.Run("body error passes through unchanged", func(t *testing.T) {
		fnErr := &entity.VersionConflictError{NodeID: 7, Expected: 2, Got: 1}
		got := finishTxErr("update node", fnErr, fnErr)
		if got != error(fnErr) {
			t.Errorf("body error was rewritten: %v", got)
		}
	})

	t.Run("commit failure becomes a storage error", func(t *testing.T) {
		commitErr := errors.New("commit unexpectedly resulted in rollback")
		got := finishTxErr("update node", commitErr, nil)
		var serr *entity.StorageError
		if !errors.As(got, &serr) {
			t.Fatalf("expected StorageError, got %v", got)
		}
		if serr.Op != "update node" {
			t.Errorf("op = %q, want %q", serr.Op, "update node")
		}
		if !errors.Is(got, commitErr) {
			t.Error("wrapped error lost the cause")
		}
	})

	t.Run("driver error replacing the body error is wrapped", func(t *testing.T) {
		fnErr := &entity.NotFoundError{NodeID: 3}
		connErr := errors.New("conn closed")
		got := finishTxErr("delete node", connErr, fnErr)
		var serr *entity.StorageError
		if !errors.As(got, &serr) {
			t.Fatalf("expected StorageError, got %v", got)
		}
	})
}
