package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/geo"
)

// lockChangeset locks the changeset row for the rest of the transaction
// and returns its current bbox and counters. Every entity-mutating
// transaction on the same changeset serializes here, so concurrent edits
// to different nodes cannot race on the shared bbox/counter fields.
//
// The changeset row is always the first lock a transaction takes; node
// rows follow. Keeping that order identical across the single and bulk
// paths prevents lock-order deadlocks between them.
func (s *Store) lockChangeset(ctx context.Context, tx pgx.Tx, id int64) (*entity.Changeset, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, user_id, open, min_lon, min_lat, max_lon, max_lat, num_changes
		 FROM %s WHERE id = $1 FOR UPDATE`,
		s.table("changesets")), id)

	var cs entity.Changeset
	var minLon, minLat, maxLon, maxLat *int64
	err := row.Scan(&cs.ID, &cs.UserID, &cs.Open,
		&minLon, &minLat, &maxLon, &maxLat, &cs.NumChanges)
	if err == pgx.ErrNoRows {
		return nil, &entity.ChangesetMismatchError{ChangesetID: id, Reason: "does not exist"}
	}
	if err != nil {
		return nil, storageErr("lock changeset", err)
	}

	if minLon != nil && minLat != nil && maxLon != nil && maxLat != nil {
		cs.BBox = geo.BBox{
			MinLon: *minLon, MinLat: *minLat,
			MaxLon: *maxLon, MaxLat: *maxLat,
			Set: true,
		}
	}
	return &cs, nil
}

// writeChangeset persists the extended bbox and counter under the lock
// taken by lockChangeset, in the same transaction as the entity writes
func (s *Store) writeChangeset(ctx context.Context, tx pgx.Tx, cs *entity.Changeset) error {
	var minLon, minLat, maxLon, maxLat *int64
	if cs.BBox.Set {
		minLon, minLat = &cs.BBox.MinLon, &cs.BBox.MinLat
		maxLon, maxLat = &cs.BBox.MaxLon, &cs.BBox.MaxLat
	}

	_, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET min_lon = $2, min_lat = $3, max_lon = $4, max_lat = $5,
		 num_changes = $6 WHERE id = $1`,
		s.table("changesets")),
		cs.ID, minLon, minLat, maxLon, maxLat, cs.NumChanges)
	if err != nil {
		return storageErr("write changeset", err)
	}
	return nil
}

// EnsureChangeset creates an open changeset row if one does not exist
// yet, so command-line workflows can run against a fresh database. The
// API layer normally owns changeset creation.
func (s *Store) EnsureChangeset(ctx context.Context, id, userID int64) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, user_id, open, num_changes)
		 VALUES ($1, $2, TRUE, 0)
		 ON CONFLICT (id) DO NOTHING`,
		s.table("changesets")), id, userID)
	if err != nil {
		return storageErr("ensure changeset", err)
	}
	return nil
}

// GetChangeset reads a changeset without locking it
func (s *Store) GetChangeset(ctx context.Context, id int64) (*entity.Changeset, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, user_id, open, min_lon, min_lat, max_lon, max_lat, num_changes
		 FROM %s WHERE id = $1`,
		s.table("changesets")), id)

	var cs entity.Changeset
	var minLon, minLat, maxLon, maxLat *int64
	err := row.Scan(&cs.ID, &cs.UserID, &cs.Open,
		&minLon, &minLat, &maxLon, &maxLat, &cs.NumChanges)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get changeset", err)
	}
	if minLon != nil && minLat != nil && maxLon != nil && maxLat != nil {
		cs.BBox = geo.BBox{
			MinLon: *minLon, MinLat: *minLat,
			MaxLon: *maxLon, MaxLat: *maxLat,
			Set: true,
		}
	}
	return &cs, nil
}
