package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/wegman-software/osmapi-go/internal/entity"
)

// Create inserts a new node at the creation version inside one
// transaction. A zero id asks the store to assign one from the node id
// sequence; a non-zero id is honored if unused. No consistency check
// runs since no prior version exists, but tag validation, the history
// append and the changeset bbox/counter update all do.
func (s *Store) Create(ctx context.Context, userID int64, candidate *entity.Node) (*entity.Node, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	n := candidate.Clone()
	err := s.withTx(ctx, "create node", func(tx pgx.Tx) error {
		cs, err := s.lockChangeset(ctx, tx, n.ChangesetID)
		if err != nil {
			return err
		}
		if err := cs.CheckWritable(userID); err != nil {
			return err
		}

		if n.ID == 0 {
			ids, err := s.nextNodeIDs(ctx, tx, 1)
			if err != nil {
				return err
			}
			n.ID = ids[0]
		} else if existing, err := s.lockNode(ctx, tx, n.ID); err != nil {
			return err
		} else if existing != nil {
			return &entity.ValidationError{NodeID: n.ID, Field: "id", Reason: "already exists"}
		}

		n.Version = entity.CreationVersion
		n.Visible = true
		n.Timestamp = time.Now().UTC()
		n.RecomputeTile()

		if err := s.insertCurrent(ctx, tx, n); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, n.Snapshot()); err != nil {
			return err
		}

		cs.ExtendBBox(n.BBox())
		cs.AddChanges(1)
		return s.writeChangeset(ctx, tx, cs)
	})
	if err != nil {
		return nil, err
	}

	s.NodesCreated.Add(1)
	return n, nil
}

// Update replaces a node's position, tags and owning changeset inside
// one transaction. The candidate's Version field carries the version the
// caller based the edit on; a mismatch with the stored version after the
// row lock is taken fails with VersionConflictError. The changeset bbox
// is extended with both the old and the new position so a moving node
// expands it to cover both.
func (s *Store) Update(ctx context.Context, userID int64, candidate *entity.Node) (*entity.Node, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	var updated *entity.Node
	err := s.withTx(ctx, "update node", func(tx pgx.Tx) error {
		cs, err := s.lockChangeset(ctx, tx, candidate.ChangesetID)
		if err != nil {
			return err
		}
		if err := cs.CheckWritable(userID); err != nil {
			return err
		}

		stored, err := s.lockNode(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return &entity.NotFoundError{NodeID: candidate.ID}
		}
		if err := entity.CheckConsistent(stored, candidate); err != nil {
			return err
		}

		n, box := applyChange(Change{Action: ActionModify, Node: candidate}, stored, time.Now().UTC())

		if err := s.updateCurrent(ctx, tx, n); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, n.Snapshot()); err != nil {
			return err
		}

		cs.ExtendBBox(box)
		cs.AddChanges(1)
		if err := s.writeChangeset(ctx, tx, cs); err != nil {
			return err
		}

		updated = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.NodesModified.Add(1)
	return updated, nil
}

// Delete marks a node invisible inside one transaction: the version
// still advances by one, current tags are cleared, and the prior history
// stays untouched. The referential guard runs under the same locks; if
// visible ways or relations still reference the node the call fails with
// PreconditionFailedError, or, with ifUnused set, leaves the node alone
// and returns it as skipped.
func (s *Store) Delete(ctx context.Context, userID int64, candidate *entity.Node, ifUnused bool) (deleted, skipped *entity.Node, err error) {
	err = s.withTx(ctx, "delete node", func(tx pgx.Tx) error {
		deleted, skipped = nil, nil

		cs, err := s.lockChangeset(ctx, tx, candidate.ChangesetID)
		if err != nil {
			return err
		}
		if err := cs.CheckWritable(userID); err != nil {
			return err
		}

		stored, err := s.lockNode(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return &entity.NotFoundError{NodeID: candidate.ID}
		}
		if err := entity.CheckConsistent(stored, candidate); err != nil {
			return err
		}

		refs, err := s.checkDeletable(ctx, tx, candidate.ID)
		if err != nil {
			return err
		}
		if !refs.empty() {
			if ifUnused {
				skipped = stored
				return nil
			}
			return preconditionErr(candidate.ID, refs)
		}

		n, box := applyChange(Change{Action: ActionDelete, Node: candidate}, stored, time.Now().UTC())

		if err := s.updateCurrent(ctx, tx, n); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, n.Snapshot()); err != nil {
			return err
		}

		cs.ExtendBBox(box)
		cs.AddChanges(1)
		if err := s.writeChangeset(ctx, tx, cs); err != nil {
			return err
		}

		deleted = n
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if skipped != nil {
		s.NodesSkipped.Add(1)
	} else {
		s.NodesDeleted.Add(1)
	}
	return deleted, skipped, nil
}

// Get reads a node's current state without locking. Returns nil when
// the id has never existed.
func (s *Store) Get(ctx context.Context, id int64) (*entity.Node, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1",
		nodeColumns, s.table("current_nodes")), id)

	n, err := scanNode(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get node", err)
	}
	return n, nil
}

func (s *Store) insertCurrent(ctx context.Context, tx pgx.Tx, n *entity.Node) error {
	tagsJSON, err := n.Tags.MarshalJSONB()
	if err != nil {
		return storageErr("insert node", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, lat, lon, changeset_id, visible, updated_at, version, tile, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.table("current_nodes")),
		n.ID, n.Lat, n.Lon, n.ChangesetID, n.Visible, n.Timestamp,
		n.Version, int64(n.Tile), tagsJSON)
	if err != nil {
		return storageErr("insert node", err)
	}
	return nil
}

func (s *Store) updateCurrent(ctx context.Context, tx pgx.Tx, n *entity.Node) error {
	tagsJSON, err := n.Tags.MarshalJSONB()
	if err != nil {
		return storageErr("update node", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET lat = $2, lon = $3, changeset_id = $4, visible = $5,
		 updated_at = $6, version = $7, tile = $8, tags = $9 WHERE id = $1`,
		s.table("current_nodes")),
		n.ID, n.Lat, n.Lon, n.ChangesetID, n.Visible, n.Timestamp,
		n.Version, int64(n.Tile), tagsJSON)
	if err != nil {
		return storageErr("update node", err)
	}
	if tag.RowsAffected() != 1 {
		return storageErr("update node", fmt.Errorf("expected 1 row, updated %d", tag.RowsAffected()))
	}
	return nil
}
