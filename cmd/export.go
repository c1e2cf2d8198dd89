package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/export"
	"github.com/wegman-software/osmapi-go/internal/logger"
	"github.com/wegman-software/osmapi-go/internal/store"
)

var (
	exportOutput    string
	exportBatchSize int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the node version history to Parquet",
	Long: `Dump every committed node version snapshot to a Parquet file
for offline analysis. The history table itself is never modified.`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "node_history.parquet", "Output Parquet file")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 10000, "Rows per Parquet record batch")
}

func runExport(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	s, err := store.New(cfg)
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer s.Close()

	writer, err := export.NewHistoryWriter(exportOutput, exportBatchSize)
	if err != nil {
		exitWithError("failed to create writer", err)
	}

	start := time.Now()
	err = s.StreamHistory(ctx, func(snap *entity.HistoricalNode) error {
		return writer.Write(snap)
	})
	if err != nil {
		writer.Close()
		exitWithError("export failed", err)
	}
	if err := writer.Close(); err != nil {
		exitWithError("failed to close writer", err)
	}

	log.Info("Export complete",
		zap.Duration("duration", time.Since(start).Round(time.Second)),
		zap.Int64("rows", writer.Rows()),
		zap.String("output", exportOutput),
	)
}
