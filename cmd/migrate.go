package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmapi-go/internal/logger"
	"github.com/wegman-software/osmapi-go/internal/store"
)

var (
	dropExisting  bool
	createIndexes bool
	dropAll       bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or drop the engine's tables and indexes",
	Long: `Create the storage tables for the node versioning engine.

Tables:
  current_nodes      one row per node id (current state)
  nodes              append-only history, one row per committed version
  current_ways       way membership, read by the referential guard
  current_relations  relation membership, read by the referential guard
  changesets         per-changeset bounding box and change counter`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing tables before creating")
	migrateCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create secondary indexes")
	migrateCmd.Flags().BoolVar(&dropAll, "drop", false, "Drop all engine tables and exit")
}

func runMigrate(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	s, err := store.New(cfg)
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer s.Close()

	if dropAll {
		if err := s.DropTables(ctx); err != nil {
			exitWithError("drop failed", err)
		}
		log.Info("Tables dropped")
		return
	}

	if err := s.EnsureTables(ctx, dropExisting); err != nil {
		exitWithError("migration failed", err)
	}
	if createIndexes {
		if err := s.CreateIndexes(ctx); err != nil {
			exitWithError("index creation failed", err)
		}
	}

	log.Info("Migration complete",
		zap.String("database", cfg.DBName),
		zap.String("schema", cfg.DBSchema),
	)
}
