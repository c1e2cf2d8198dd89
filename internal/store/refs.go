package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wegman-software/osmapi-go/internal/entity"
)

// refIDs lists the visible composite entities still referencing a node
type refIDs struct {
	Ways      []int64
	Relations []int64
}

func (r refIDs) empty() bool {
	return len(r.Ways) == 0 && len(r.Relations) == 0
}

// checkDeletable runs the referential guard for one node inside the
// mutating transaction: the node row is already locked, so a reference
// cannot appear between this check and commit without blocking on us.
func (s *Store) checkDeletable(ctx context.Context, tx pgx.Tx, nodeID int64) (refIDs, error) {
	var refs refIDs

	rows, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT id FROM %s WHERE visible AND nodes @> ARRAY[$1]::bigint[]",
		s.table("current_ways")), nodeID)
	if err != nil {
		return refs, storageErr("way reference check", err)
	}
	refs.Ways, err = collectIDs(rows)
	if err != nil {
		return refs, storageErr("way reference check", err)
	}

	rows, err = tx.Query(ctx, fmt.Sprintf(
		`SELECT id FROM %s
		 WHERE visible AND members @> jsonb_build_array(
		   jsonb_build_object('type', 'node', 'ref', $1::bigint))`,
		s.table("current_relations")), nodeID)
	if err != nil {
		return refs, storageErr("relation reference check", err)
	}
	refs.Relations, err = collectIDs(rows)
	if err != nil {
		return refs, storageErr("relation reference check", err)
	}

	return refs, nil
}

// referencesForNodes resolves the referential guard for a whole set of
// delete candidates in two set queries instead of two per node
func (s *Store) referencesForNodes(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]refIDs, error) {
	out := make(map[int64]refIDs, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT w.id, n.node_id
		 FROM %s w, unnest(w.nodes) AS n(node_id)
		 WHERE w.visible AND w.nodes && $1::bigint[] AND n.node_id = ANY($1)`,
		s.table("current_ways")), ids)
	if err != nil {
		return nil, storageErr("way reference check", err)
	}
	if err := collectRefs(rows, out, func(r *refIDs, id int64) {
		r.Ways = append(r.Ways, id)
	}); err != nil {
		return nil, storageErr("way reference check", err)
	}

	rows, err = tx.Query(ctx, fmt.Sprintf(
		`SELECT r.id, (m->>'ref')::bigint
		 FROM %s r, jsonb_array_elements(r.members) AS m
		 WHERE r.visible AND m->>'type' = 'node' AND (m->>'ref')::bigint = ANY($1)`,
		s.table("current_relations")), ids)
	if err != nil {
		return nil, storageErr("relation reference check", err)
	}
	if err := collectRefs(rows, out, func(r *refIDs, id int64) {
		r.Relations = append(r.Relations, id)
	}); err != nil {
		return nil, storageErr("relation reference check", err)
	}

	return out, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectRefs(rows pgx.Rows, out map[int64]refIDs, add func(*refIDs, int64)) error {
	defer rows.Close()
	for rows.Next() {
		var compositeID, nodeID int64
		if err := rows.Scan(&compositeID, &nodeID); err != nil {
			return err
		}
		r := out[nodeID]
		add(&r, compositeID)
		out[nodeID] = r
	}
	return rows.Err()
}

// preconditionErr turns a non-empty reference set into the caller-facing
// error naming the blocking entities
func preconditionErr(nodeID int64, refs refIDs) error {
	return &entity.PreconditionFailedError{
		NodeID:      nodeID,
		WayIDs:      refs.Ways,
		RelationIDs: refs.Relations,
	}
}
