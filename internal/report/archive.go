package report

import (
	"context"
	"fmt"
	"log"
	"time"

	"NetBlueprint/internal/config"
	"NetBlueprint/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createEdgesTableStatement = `
CREATE TABLE IF NOT EXISTS connection_edges (
    GeneratedAt DateTime,
    LocalHost   String,
    LocalIP     String,
    RemoteHost  String,
    RemoteIP    String,
    Port        UInt16,
    Direction   String,
    IsPublic    UInt8,
    Count       UInt64,
    LastSeen    DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(GeneratedAt)
ORDER BY (LocalHost, RemoteHost, Port, GeneratedAt);
`

// ClickHouseArchive persists each run's full aggregate for external
// analytics. Rows accumulate per run, unlike the overwritten artifacts.
type ClickHouseArchive struct {
	conn driver.Conn
}

// NewClickHouseArchive connects and ensures the edge table exists.
func NewClickHouseArchive(cfg config.ClickHouseConfig) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
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
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createEdgesTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create connection_edges table: %w", err)
	}
	log.Println("Connected to ClickHouse and ensured connection_edges table exists.")
	return &ClickHouseArchive{conn: conn}, nil
}

// Archive inserts one run's aggregated rows as a single batch.
func (a *ClickHouseArchive) Archive(ctx context.Context, generatedAt time.Time, rows []model.ConnectionRecord) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO connection_edges")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		isPublic := uint8(0)
		if r.IsPublicRemote {
			isPublic = 1
		}
		err = batch.Append(
			generatedAt,
			r.LocalHost,
			r.LocalIP,
			r.RemoteHost,
			r.RemoteIP,
			uint16(r.Port),
			string(r.Direction),
			isPublic,
			uint64(r.ObservedCount),
			r.LastSeen,
		)
		if err != nil {
			return fmt.Errorf("failed to append edge to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	log.Printf("Archived %d connection edges to ClickHouse", len(rows))
	return nil
}

// Close releases the ClickHouse connection.
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}
