package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wegman-software/osmapi-go/internal/config"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/logger"
	"go.uber.org/zap"
)

// Store owns the current-state and history tables for point entities and
// runs every mutation inside one database transaction. Concurrency
// control is a transaction concern: each mutating call takes exclusive
// row locks before any consistency check, so concurrent writers against
// the same rows are serialized by the database, and the version check on
// top of the lock catches callers acting on stale reads.
type Store struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	// Statistics
	NodesCreated  atomic.Int64
	NodesModified atomic.Int64
	NodesDeleted  atomic.Int64
	NodesSkipped  atomic.Int64
}

// New connects to PostgreSQL and returns a store
func New(cfg *config.Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Store{cfg: cfg, pool: pool}, nil
}

// Close closes connections
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("%s.%s", s.cfg.DBSchema, name)
}

// withTx runs fn inside one transaction. On a lock-wait or serialization
// failure the whole transaction is retried from scratch up to the
// configured limit; no individual step is ever retried on its own, since
// state may have advanced between attempts. Any error from fn rolls the
// transaction back entirely.
func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	log := logger.Get()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.LockRetries; attempt++ {
		if attempt > 0 {
			log.Debug("Retrying transaction",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return &entity.StorageError{Op: op, Err: ctx.Err()}
			}
		}

		var fnErr error
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			fnErr = fn(tx)
			return fnErr
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return finishTxErr(op, err, fnErr)
		}
		lastErr = err
	}
	return &entity.StorageError{Op: op, Err: lastErr}
}

// finishTxErr classifies the error coming out of a transaction run. An
// error produced by the transaction body passes through unchanged, since
// the body already speaks the caller's error vocabulary. Anything else
// came from begin, commit, or rollback and gets wrapped as a storage
// failure.
func finishTxErr(op string, err, fnErr error) error {
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return storageErr(op, err)
}

// retryable reports whether the whole transaction may be re-run: deadlock
// detection, serialization failure, or a lock wait giving up
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// storageErr wraps database failures so callers can retry the whole call
func storageErr(op string, err error) error {
	return &entity.StorageError{Op: op, Err: err}
}

const nodeColumns = "id, lat, lon, changeset_id, visible, updated_at, version, tile, tags"

func scanNode(row pgx.Row) (*entity.Node, error) {
	var n entity.Node
	var tile int64
	var tagsJSON []byte
	err := row.Scan(&n.ID, &n.Lat, &n.Lon, &n.ChangesetID, &n.Visible,
		&n.Timestamp, &n.Version, &tile, &tagsJSON)
	if err != nil {
		return nil, err
	}
	n.Tile = uint64(tile)
	n.Tags, err = entity.TagSetFromJSONB(tagsJSON)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// lockNode takes an exclusive row lock on one current-state row for the
// rest of the transaction. Returns nil when the id does not exist.
func (s *Store) lockNode(ctx context.Context, tx pgx.Tx, id int64) (*entity.Node, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1 FOR UPDATE",
		nodeColumns, s.table("current_nodes")), id)

	n, err := scanNode(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("lock node", err)
	}
	return n, nil
}

// lockNodes locks a set of current-state rows in one read. The ORDER BY
// fixes the lock acquisition order across all callers, which bounds the
// deadlock risk between concurrent bulk transactions.
func (s *Store) lockNodes(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]*entity.Node, error) {
	if len(ids) == 0 {
		return map[int64]*entity.Node{}, nil
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		nodeColumns, s.table("current_nodes")), ids)
	if err != nil {
		return nil, storageErr("lock nodes", err)
	}
	defer rows.Close()

	out := make(map[int64]*entity.Node, len(ids))
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, storageErr("lock nodes", err)
		}
		out[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("lock nodes", err)
	}
	return out, nil
}

// nextNodeIDs draws n fresh ids from the node id sequence
func (s *Store) nextNodeIDs(ctx context.Context, tx pgx.Tx, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(
		"SELECT nextval('%s') FROM generate_series(1, $1)",
		s.table("current_nodes_id_seq")), n)
	if err != nil {
		return nil, storageErr("assign node ids", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("assign node ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("assign node ids", err)
	}
	return ids, nil
}
