package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
)

const TypeClickHouse = "clickhouse"

func init() {
	factory.RegisterWriter(TypeClickHouse, func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, env.RunID, env.K, env.Log)
	})
}

const createTableStatement = `
CREATE TABLE IF NOT EXISTS kmer_counts (
    RunID     UUID,
    Timestamp DateTime,
    DeviceID  UInt16,
    FileID    UInt32,
    KMer      UInt64,
    Sequence  String,
    Count     UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RunID, FileID, KMer);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn  driver.Conn
	runID uuid.UUID
	k     int
	log   logr.Logger
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, runID uuid.UUID, k int, log logr.Logger) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log = log.WithName("clickhouse-writer")
	log.Info("Connected to ClickHouse and ensured table exists", "host", cfg.Host, "database", cfg.Database)

	return &ClickHouseWriter{conn: conn, runID: runID, k: k, log: log}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts the entries of one result batch into kmer_counts.
func (w *ClickHouseWriter) Write(rb *model.ResultBatch) error {
	if len(rb.Entries) == 0 {
		return nil // Nothing to write
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO kmer_counts")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range rb.Entries {
		err = batch.Append(
			w.runID,
			now,
			uint16(rb.DeviceID),
			uint32(rb.FileID),
			uint64(e.KMer),
			e.KMer.Decode(w.k),
			e.Count,
		)
		if err != nil {
			return fmt.Errorf("failed to append k-mer to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.log.V(logging.DEBUG).Info("Wrote k-mers", "device", rb.DeviceID, "file", rb.FileID, "entries", len(rb.Entries))
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
