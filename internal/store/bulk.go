package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/geo"
	"github.com/wegman-software/osmapi-go/internal/logger"
	"go.uber.org/zap"
)

// Action classifies one change in a batch
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Change is one entity mutation in a batch. For modify and delete the
// node's Version field carries the version the caller based the edit on.
type Change struct {
	Action Action
	Node   *entity.Node
}

// BatchResult separates entities actually mutated from entities skipped
// under if-unused semantics. Skipped maps node id to the last stored
// state so the caller can report it without failing the batch.
type BatchResult struct {
	Applied []*entity.Node
	Skipped map[int64]*entity.Node
}

// ApplyBatch applies a set of creates, modifies and deletes as one
// transaction. Unlike the single-entity calls, which are all-or-nothing,
// a batch with ifUnused set reports still-referenced or already-deleted
// entities as skipped and commits the rest; version mismatches always
// abort the whole batch. No entity is ever partially applied.
//
// All changes in a batch must belong to one changeset. Target rows are
// locked in a single ascending-id read, proceedable entities are written
// with one set-oriented upsert plus one history COPY, and the batch's
// bounding box is folded into the changeset once.
func (s *Store) ApplyBatch(ctx context.Context, userID int64, changes []Change, ifUnused bool) (*BatchResult, error) {
	if len(changes) == 0 {
		return &BatchResult{Skipped: map[int64]*entity.Node{}}, nil
	}
	csID, err := validateBatch(changes)
	if err != nil {
		return nil, err
	}

	log := logger.Get()
	var result *BatchResult

	err = s.withTx(ctx, "apply batch", func(tx pgx.Tx) error {
		cs, err := s.lockChangeset(ctx, tx, csID)
		if err != nil {
			return err
		}
		if err := cs.CheckWritable(userID); err != nil {
			return err
		}

		// Lock every id the batch touches, including caller-assigned
		// create ids so an existing row surfaces as a conflict.
		var targetIDs []int64
		var deleteIDs []int64
		createsNeedingIDs := 0
		for _, c := range changes {
			if c.Action == ActionCreate && c.Node.ID == 0 {
				createsNeedingIDs++
				continue
			}
			targetIDs = append(targetIDs, c.Node.ID)
			if c.Action == ActionDelete {
				deleteIDs = append(deleteIDs, c.Node.ID)
			}
		}
		sort.Slice(targetIDs, func(i, j int) bool { return targetIDs[i] < targetIDs[j] })

		stored, err := s.lockNodes(ctx, tx, targetIDs)
		if err != nil {
			return err
		}
		refs, err := s.referencesForNodes(ctx, tx, deleteIDs)
		if err != nil {
			return err
		}

		proceed, skipped, err := partitionBatch(changes, stored, refs, ifUnused)
		if err != nil {
			return err
		}

		freshIDs, err := s.nextNodeIDs(ctx, tx, createsNeedingIDs)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		applied := make([]*entity.Node, 0, len(proceed))
		snaps := make([]*entity.HistoricalNode, 0, len(proceed))
		var batchBox geo.BBox

		for _, c := range proceed {
			n, box := applyChange(c, stored[c.Node.ID], now)
			if n.ID == 0 {
				n.ID = freshIDs[0]
				freshIDs = freshIDs[1:]
			}
			batchBox.Extend(box)

			applied = append(applied, n)
			snaps = append(snaps, n.Snapshot())
		}

		if err := s.upsertCurrentBatch(ctx, tx, applied); err != nil {
			return err
		}
		if err := s.appendHistoryBatch(ctx, tx, snaps); err != nil {
			return err
		}

		cs.ExtendBBox(batchBox)
		cs.AddChanges(int64(len(applied)))
		if err := s.writeChangeset(ctx, tx, cs); err != nil {
			return err
		}

		result = &BatchResult{Applied: applied, Skipped: skipped}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.NodesSkipped.Add(int64(len(result.Skipped)))
	for _, c := range changes {
		if _, skip := result.Skipped[c.Node.ID]; skip {
			continue
		}
		switch c.Action {
		case ActionCreate:
			s.NodesCreated.Add(1)
		case ActionModify:
			s.NodesModified.Add(1)
		case ActionDelete:
			s.NodesDeleted.Add(1)
		}
	}

	log.Debug("Batch applied",
		zap.Int("applied", len(result.Applied)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// validateBatch checks every candidate up front and returns the single
// changeset id the batch belongs to
func validateBatch(changes []Change) (int64, error) {
	csID := int64(0)
	seen := make(map[int64]bool, len(changes))
	for _, c := range changes {
		n := c.Node
		if n == nil {
			return 0, &entity.ValidationError{Field: "change", Reason: "missing node"}
		}
		switch c.Action {
		case ActionCreate, ActionModify:
			if err := n.Validate(); err != nil {
				return 0, err
			}
		case ActionDelete:
			if n.ChangesetID <= 0 {
				return 0, &entity.ValidationError{NodeID: n.ID, Field: "changeset", Reason: "must be positive"}
			}
		default:
			return 0, &entity.ValidationError{NodeID: n.ID, Field: "action",
				Reason: fmt.Sprintf("unknown action %q", c.Action)}
		}
		if csID == 0 {
			csID = n.ChangesetID
		} else if n.ChangesetID != csID {
			return 0, &entity.ValidationError{NodeID: n.ID, Field: "changeset",
				Reason: "batch spans multiple changesets"}
		}
		if n.ID != 0 {
			if seen[n.ID] {
				return 0, &entity.ValidationError{NodeID: n.ID, Field: "id",
					Reason: "appears twice in one batch"}
			}
			seen[n.ID] = true
		}
	}
	return csID, nil
}

// partitionBatch decides, per change, whether it proceeds, is skipped,
// or aborts the batch. Pure: it sees only the already-locked stored
// rows and the resolved reference sets. Version mismatches are always
// hard conflicts; already-deleted and still-referenced entities become
// skips only under if-unused.
func partitionBatch(changes []Change, stored map[int64]*entity.Node, refs map[int64]refIDs, ifUnused bool) ([]Change, map[int64]*entity.Node, error) {
	proceed := make([]Change, 0, len(changes))
	skipped := make(map[int64]*entity.Node)

	for _, c := range changes {
		if c.Action == ActionCreate {
			if c.Node.ID != 0 {
				if _, exists := stored[c.Node.ID]; exists {
					return nil, nil, &entity.ValidationError{NodeID: c.Node.ID,
						Field: "id", Reason: "already exists"}
				}
			}
			proceed = append(proceed, c)
			continue
		}

		prev, ok := stored[c.Node.ID]
		if !ok {
			return nil, nil, &entity.NotFoundError{NodeID: c.Node.ID}
		}
		if err := entity.CheckConsistent(prev, c.Node); err != nil {
			var gone *entity.AlreadyDeletedError
			if ifUnused && errors.As(err, &gone) {
				skipped[c.Node.ID] = prev
				continue
			}
			return nil, nil, err
		}

		if c.Action == ActionDelete {
			if r := refs[c.Node.ID]; !r.empty() {
				if ifUnused {
					skipped[c.Node.ID] = prev
					continue
				}
				return nil, nil, preconditionErr(c.Node.ID, r)
			}
		}
		proceed = append(proceed, c)
	}
	return proceed, skipped, nil
}

// applyChange materializes one proceedable change against the locked
// previous state. Pure: returns the next current-state row together
// with the bounding box the mutation touched. A modify's box covers the
// old and the new position so a moving node expands the changeset over
// both; a delete keeps its position and covers it; create and modify
// advance the version from the stored row, delete included, so each
// id's versions stay contiguous. Deletes clear the current tags; the
// prior versions keep theirs in history.
func applyChange(c Change, prev *entity.Node, now time.Time) (*entity.Node, geo.BBox) {
	var n *entity.Node
	var box geo.BBox

	switch c.Action {
	case ActionCreate:
		n = c.Node.Clone()
		n.Version = entity.CreationVersion
		n.Visible = true
	case ActionModify:
		box.Extend(prev.BBox())
		n = c.Node.Clone()
		n.Version = prev.Version + 1
		n.Visible = true
	case ActionDelete:
		n = prev.Clone()
		n.ChangesetID = c.Node.ChangesetID
		n.Version = prev.Version + 1
		n.Visible = false
		n.Tags = nil
	}
	n.Timestamp = now
	n.RecomputeTile()
	box.Extend(n.BBox())
	return n, box
}

// upsertCurrentBatch writes every mutated current-state row in one
// unnest-driven insert-or-update
func (s *Store) upsertCurrentBatch(ctx context.Context, tx pgx.Tx, nodes []*entity.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	ids := make([]int64, len(nodes))
	lats := make([]int64, len(nodes))
	lons := make([]int64, len(nodes))
	csIDs := make([]int64, len(nodes))
	visibles := make([]bool, len(nodes))
	timestamps := make([]time.Time, len(nodes))
	versions := make([]int64, len(nodes))
	tiles := make([]int64, len(nodes))
	tags := make([]*string, len(nodes))

	for i, n := range nodes {
		ids[i] = n.ID
		lats[i] = n.Lat
		lons[i] = n.Lon
		csIDs[i] = n.ChangesetID
		visibles[i] = n.Visible
		timestamps[i] = n.Timestamp
		versions[i] = n.Version
		tiles[i] = int64(n.Tile)
		if data, err := n.Tags.MarshalJSONB(); err != nil {
			return storageErr("upsert batch", err)
		} else if data != nil {
			str := string(data)
			tags[i] = &str
		}
	}

	_, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, lat, lon, changeset_id, visible, updated_at, version, tile, tags)
		 SELECT u.id, u.lat, u.lon, u.changeset_id, u.visible, u.updated_at,
		        u.version, u.tile, u.tags::jsonb
		 FROM unnest(
		   $1::bigint[], $2::bigint[], $3::bigint[], $4::bigint[], $5::boolean[],
		   $6::timestamptz[], $7::bigint[], $8::bigint[], $9::text[])
		   AS u(id, lat, lon, changeset_id, visible, updated_at, version, tile, tags)
		 ON CONFLICT (id) DO UPDATE SET
		   lat = EXCLUDED.lat, lon = EXCLUDED.lon,
		   changeset_id = EXCLUDED.changeset_id, visible = EXCLUDED.visible,
		   updated_at = EXCLUDED.updated_at, version = EXCLUDED.version,
		   tile = EXCLUDED.tile, tags = EXCLUDED.tags`,
		s.table("current_nodes")),
		ids, lats, lons, csIDs, visibles, timestamps, versions, tiles, tags)
	if err != nil {
		return storageErr("upsert batch", err)
	}
	return nil
}
