package store

import (
	"context"
	"fmt"

	"github.com/wegman-software/osmapi-go/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EnsureTables creates the engine's tables if they don't exist:
// current_nodes holds exactly one row per node id, nodes is the
// append-only history keyed by (node_id, version), current_ways and
// current_relations are the membership sources for the referential
// guard, and changesets carries the per-changeset bbox and counter.
func (s *Store) EnsureTables(ctx context.Context, dropExisting bool) error {
	log := logger.Get()

	tables := []struct {
		name   string
		schema string
	}{
		{
			name: "changesets",
			schema: `
				CREATE TABLE IF NOT EXISTS %s.changesets (
					id BIGINT PRIMARY KEY,
					user_id BIGINT NOT NULL,
					open BOOLEAN NOT NULL DEFAULT TRUE,
					min_lon BIGINT,
					min_lat BIGINT,
					max_lon BIGINT,
					max_lat BIGINT,
					num_changes BIGINT NOT NULL DEFAULT 0
				)%s`,
		},
		{
			name: "current_nodes",
			schema: `
				CREATE TABLE IF NOT EXISTS %s.current_nodes (
					id BIGINT PRIMARY KEY,
					lat BIGINT NOT NULL,
					lon BIGINT NOT NULL,
					changeset_id BIGINT NOT NULL,
					visible BOOLEAN NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					version BIGINT NOT NULL,
					tile BIGINT NOT NULL,
					tags JSONB
				)%s`,
		},
		{
			name: "nodes",
			schema: `
				CREATE TABLE IF NOT EXISTS %s.nodes (
					node_id BIGINT NOT NULL,
					version BIGINT NOT NULL,
					lat BIGINT NOT NULL,
					lon BIGINT NOT NULL,
					changeset_id BIGINT NOT NULL,
					visible BOOLEAN NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL,
					tile BIGINT NOT NULL,
					tags JSONB,
					PRIMARY KEY (node_id, version)
				)%s`,
		},
		{
			name: "current_ways",
			schema: `
				CREATE TABLE IF NOT EXISTS %s.current_ways (
					id BIGINT PRIMARY KEY,
					visible BOOLEAN NOT NULL DEFAULT TRUE,
					nodes BIGINT[] NOT NULL
				)%s`,
		},
		{
			name: "current_relations",
			schema: `
				CREATE TABLE IF NOT EXISTS %s.current_relations (
					id BIGINT PRIMARY KEY,
					visible BOOLEAN NOT NULL DEFAULT TRUE,
					members JSONB NOT NULL
				)%s`,
		},
	}

	tablespaceClause := ""
	if s.cfg.TablespaceMain != "" {
		tablespaceClause = fmt.Sprintf(" TABLESPACE %s", s.cfg.TablespaceMain)
	}

	for _, t := range tables {
		fullName := s.table(t.name)

		if dropExisting {
			log.Info("Dropping table", zap.String("table", t.name))
			if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", fullName)); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", t.name, err)
			}
		}

		log.Info("Creating table", zap.String("table", t.name))
		sql := fmt.Sprintf(t.schema, s.cfg.DBSchema, tablespaceClause)
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
	}

	seq := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", s.table("current_nodes_id_seq"))
	if _, err := s.pool.Exec(ctx, seq); err != nil {
		return fmt.Errorf("failed to create node id sequence: %w", err)
	}

	return nil
}

// CreateIndexes builds the engine's secondary indexes. Builds run
// concurrently since they are independent of each other.
func (s *Store) CreateIndexes(ctx context.Context) error {
	log := logger.Get()
	log.Info("Creating indexes")

	tablespaceClause := ""
	if s.cfg.TablespaceIndex != "" {
		tablespaceClause = fmt.Sprintf(" TABLESPACE %s", s.cfg.TablespaceIndex)
	}

	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "current_nodes_tile_idx",
			sql: fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS current_nodes_tile_idx ON %s USING BTREE (tile)%s",
				s.table("current_nodes"), tablespaceClause),
		},
		{
			name: "nodes_changeset_idx",
			sql: fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS nodes_changeset_idx ON %s USING BTREE (changeset_id)%s",
				s.table("nodes"), tablespaceClause),
		},
		{
			name: "current_ways_nodes_idx",
			sql: fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS current_ways_nodes_idx ON %s USING GIN (nodes)%s",
				s.table("current_ways"), tablespaceClause),
		},
		{
			name: "current_relations_members_idx",
			sql: fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS current_relations_members_idx ON %s USING GIN (members)%s",
				s.table("current_relations"), tablespaceClause),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, idx := range indexes {
		idx := idx
		g.Go(func() error {
			log.Info("Creating index", zap.String("name", idx.name))
			if _, err := s.pool.Exec(gctx, idx.sql); err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, table := range []string{"current_nodes", "nodes", "current_ways", "current_relations"} {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", s.table(table))); err != nil {
			return fmt.Errorf("failed to analyze %s: %w", table, err)
		}
	}

	log.Info("Indexes created")
	return nil
}

// DropTables drops every table the engine owns
func (s *Store) DropTables(ctx context.Context) error {
	log := logger.Get()
	log.Info("Dropping tables")

	for _, table := range []string{"current_nodes", "nodes", "current_ways", "current_relations", "changesets"} {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", s.table(table))); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP SEQUENCE IF EXISTS %s", s.table("current_nodes_id_seq"))); err != nil {
		return fmt.Errorf("failed to drop node id sequence: %w", err)
	}

	return nil
}
