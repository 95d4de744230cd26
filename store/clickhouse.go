package store

import (
	"context"
	"fmt"
	"time"

	"ledger_scanner/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rows for one address collapse to the latest updated_at on merge, so each
// snapshot write supersedes the previous one.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS account_stats (
    address String,
    account_id Int64,
    volume Decimal(38, 2),
    fee Decimal(38, 4),
    trades Int64,
    updated_at DateTime64(3),
    run_id UUID
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY address
`

type accountRow struct {
	Address   string          `ch:"address"`
	AccountID int64           `ch:"account_id"`
	Volume    decimal.Decimal `ch:"volume"`
	Fee       decimal.Decimal `ch:"fee"`
	Trades    int64           `ch:"trades"`
	UpdatedAt time.Time       `ch:"updated_at"`
	RunID     uuid.UUID       `ch:"run_id"`
}

type ClickHouseOptions struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	QueryTimeout time.Duration
	Debug        bool
}

type ClickHouseSink struct {
	conn    driver.Conn
	runID   uuid.UUID
	timeout time.Duration
	now     func() time.Time
}

func NewClickHouseSink(ctx context.Context, opts ClickHouseOptions, runID uuid.UUID) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Protocol: clickhouse.Native,
		Debug:    opts.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	sink := &ClickHouseSink{conn: conn, runID: runID, timeout: opts.QueryTimeout, now: time.Now}
	if err := sink.createTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

func (c *ClickHouseSink) Name() string { return "clickhouse" }

func (c *ClickHouseSink) createTable(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.conn.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create account_stats: %w", err)
	}
	return nil
}

func (c *ClickHouseSink) Write(ctx context.Context, snapshot map[string]models.AccountStats) error {
	if len(snapshot) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO account_stats")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	// one write time per snapshot keeps ReplacingMergeTree picking whole snapshots
	written := c.now().UTC()
	for _, row := range snapshotRows(snapshot, c.runID, written) {
		if err := batch.AppendStruct(&row); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row for %s: %w", row.Address, err)
		}
	}
	return batch.Send()
}

// Ping reports whether ClickHouse answers.
func (c *ClickHouseSink) Ping(ctx context.Context) bool {
	return c.conn.Ping(ctx) == nil
}

func (c *ClickHouseSink) Close() error {
	return c.conn.Close()
}

func (c *ClickHouseSink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func snapshotRows(snapshot map[string]models.AccountStats, runID uuid.UUID, written time.Time) []accountRow {
	rows := make([]accountRow, 0, len(snapshot))
	for addr, s := range snapshot {
		rows = append(rows, accountRow{
			Address:   addr,
			AccountID: s.AccountID,
			Volume:    s.TotalVolume,
			Fee:       s.TotalFee,
			Trades:    s.TradeCount,
			UpdatedAt: written,
			RunID:     runID,
		})
	}
	return rows
}
