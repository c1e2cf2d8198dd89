package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wegman-software/osmapi-go/internal/entity"
)

var historyColumns = []string{
	"node_id", "version", "lat", "lon", "changeset_id",
	"visible", "updated_at", "tile", "tags",
}

// appendHistory writes one immutable version snapshot. It only ever runs
// inside the enclosing mutation transaction, so a retried transaction
// cannot leave a duplicate row behind.
func (s *Store) appendHistory(ctx context.Context, tx pgx.Tx, snap *entity.HistoricalNode) error {
	tagsJSON, err := snap.Tags.MarshalJSONB()
	if err != nil {
		return storageErr("append history", err)
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (node_id, version, lat, lon, changeset_id, visible, updated_at, tile, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.table("nodes")),
		snap.NodeID, snap.Version, snap.Lat, snap.Lon, snap.ChangesetID,
		snap.Visible, snap.Timestamp, int64(snap.Tile), tagsJSON)
	if err != nil {
		return storageErr("append history", err)
	}
	return nil
}

// appendHistoryBatch writes a batch of snapshots with one COPY. Version
// contiguity per id is the caller's contract: each snapshot carries the
// version the current-state upsert writes in the same transaction.
func (s *Store) appendHistoryBatch(ctx context.Context, tx pgx.Tx, snaps []*entity.HistoricalNode) error {
	if len(snaps) == 0 {
		return nil
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{s.cfg.DBSchema, "nodes"},
		historyColumns,
		pgx.CopyFromSlice(len(snaps), func(i int) ([]interface{}, error) {
			snap := snaps[i]
			tagsJSON, err := snap.Tags.MarshalJSONB()
			if err != nil {
				return nil, err
			}
			return []interface{}{
				snap.NodeID, snap.Version, snap.Lat, snap.Lon, snap.ChangesetID,
				snap.Visible, snap.Timestamp, int64(snap.Tile), tagsJSON,
			}, nil
		}))
	if err != nil {
		return storageErr("append history batch", err)
	}
	return nil
}

// StreamHistory walks the whole history table in (node_id, version)
// order, calling fn for every snapshot. Used by offline export.
func (s *Store) StreamHistory(ctx context.Context, fn func(*entity.HistoricalNode) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT node_id, version, lat, lon, changeset_id, visible, updated_at, tile, tags
		 FROM %s ORDER BY node_id, version`,
		s.table("nodes")))
	if err != nil {
		return storageErr("stream history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap entity.HistoricalNode
		var tile int64
		var tagsJSON []byte
		err := rows.Scan(&snap.NodeID, &snap.Version, &snap.Lat, &snap.Lon,
			&snap.ChangesetID, &snap.Visible, &snap.Timestamp, &tile, &tagsJSON)
		if err != nil {
			return storageErr("stream history", err)
		}
		snap.Tile = uint64(tile)
		snap.Tags, err = entity.TagSetFromJSONB(tagsJSON)
		if err != nil {
			return storageErr("stream history", err)
		}
		if err := fn(&snap); err != nil {
			return err
		}
	}
	return rows.Err()
}

// History returns every committed version of a node, oldest first
func (s *Store) History(ctx context.Context, nodeID int64) ([]*entity.HistoricalNode, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT node_id, version, lat, lon, changeset_id, visible, updated_at, tile, tags
		 FROM %s WHERE node_id = $1 ORDER BY version`,
		s.table("nodes")), nodeID)
	if err != nil {
		return nil, storageErr("read history", err)
	}
	defer rows.Close()

	var out []*entity.HistoricalNode
	for rows.Next() {
		var snap entity.HistoricalNode
		var tile int64
		var tagsJSON []byte
		err := rows.Scan(&snap.NodeID, &snap.Version, &snap.Lat, &snap.Lon,
			&snap.ChangesetID, &snap.Visible, &snap.Timestamp, &tile, &tagsJSON)
		if err != nil {
			return nil, storageErr("read history", err)
		}
		snap.Tile = uint64(tile)
		snap.Tags, err = entity.TagSetFromJSONB(tagsJSON)
		if err != nil {
			return nil, storageErr("read history", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}
