package export

import (
	"encoding/json"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/osmapi-go/internal/entity"
	"github.com/wegman-software/osmapi-go/internal/geo"
)

// HistoryWriter dumps node version snapshots to a Parquet file for
// offline analysis. Coordinates are written in decimal degrees, tags as
// a JSON string.
type HistoryWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
	rows      int64
}

// NewHistoryWriter creates a new history Parquet writer
func NewHistoryWriter(path string, batchSize int) (*HistoryWriter, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "node_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "version", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "lon", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "changeset_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "visible", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: "updated_at_ms", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "tile", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)

	return &HistoryWriter{
		file:      f,
		writer:    writer,
		builder:   builder,
		batchSize: batchSize,
	}, nil
}

// Write appends one version snapshot
func (w *HistoryWriter) Write(snap *entity.HistoricalNode) error {
	w.builder.Field(0).(*array.Int64Builder).Append(snap.NodeID)
	w.builder.Field(1).(*array.Int64Builder).Append(snap.Version)
	w.builder.Field(2).(*array.Float64Builder).Append(geo.ToDegrees(snap.Lat))
	w.builder.Field(3).(*array.Float64Builder).Append(geo.ToDegrees(snap.Lon))
	w.builder.Field(4).(*array.Int64Builder).Append(snap.ChangesetID)
	w.builder.Field(5).(*array.BooleanBuilder).Append(snap.Visible)
	w.builder.Field(6).(*array.Int64Builder).Append(snap.Timestamp.UnixMilli())
	w.builder.Field(7).(*array.Int64Builder).Append(int64(snap.Tile))
	w.builder.Field(8).(*array.StringBuilder).Append(tagsToJSON(snap.Tags))

	w.count++
	w.rows++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Rows returns the number of snapshots written so far
func (w *HistoryWriter) Rows() int64 {
	return w.rows
}

func (w *HistoryWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes the last batch and closes the file
func (w *HistoryWriter) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

func tagsToJSON(tags entity.TagSet) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}
