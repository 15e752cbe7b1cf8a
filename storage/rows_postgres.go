package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/credsync/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS credsync_rows (
	tenant_id  TEXT NOT NULL,
	row_key    TEXT NOT NULL,
	version    BIGINT NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, row_key)
)`

// PostgresRows is a RowClient backed by a shared Postgres table with an
// explicit tenant column on every query.
type PostgresRows struct {
	pool *pgxpool.Pool
}

// NewPostgresRows wraps an existing pool.
func NewPostgresRows(pool *pgxpool.Pool) *PostgresRows {
	return &PostgresRows{pool: pool}
}

// OpenPostgresRows connects to dsn, verifies the connection and ensures the schema.
func OpenPostgresRows(ctx context.Context, dsn string, maxConns, minConns int32) (*PostgresRows, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	if minConns > 0 {
		config.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	rows := NewPostgresRows(pool)
	if err := rows.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return rows, nil
}

// EnsureSchema creates the rows table when missing.
func (p *PostgresRows) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create credsync_rows: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresRows) Close() {
	p.pool.Close()
}

func (p *PostgresRows) GetRow(ctx context.Context, tenant record.TenantID, row string) (Row, bool, error) {
	query := `
		SELECT version, data
		FROM credsync_rows
		WHERE tenant_id = $1 AND row_key = $2
	`

	var (
		version int64
		data    []byte
	)
	err := p.pool.QueryRow(ctx, query, string(tenant), row).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, classifyPostgres("get", err)
	}
	return Row{Version: uint64(version), Data: data}, true, nil
}

func (p *PostgresRows) UpsertRow(ctx context.Context, tenant record.TenantID, row string, value Row) error {
	query := `
		INSERT INTO credsync_rows (tenant_id, row_key, version, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, row_key) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		WHERE credsync_rows.version <= EXCLUDED.version
	`

	tag, err := p.pool.Exec(ctx, query, string(tenant), row, int64(value.Version), value.Data)
	if err != nil {
		return classifyPostgres("set", err)
	}
	if tag.RowsAffected() == 0 {
		return Permanent(TierRemote, "set", ErrStaleVersion)
	}
	return nil
}

func (p *PostgresRows) DeleteRow(ctx context.Context, tenant record.TenantID, row string) error {
	query := `DELETE FROM credsync_rows WHERE tenant_id = $1 AND row_key = $2`
	if _, err := p.pool.Exec(ctx, query, string(tenant), row); err != nil {
		return classifyPostgres("delete", err)
	}
	return nil
}

// classifyPostgres retries connection exceptions, serialization failures and
// admin shutdowns; other server errors are permanent.
func classifyPostgres(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "40001", pgErr.Code == "57P01":
			return Transient(TierRemote, op, err)
		}
		return Permanent(TierRemote, op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Transient(TierRemote, op, err)
	}
	return Classify(TierRemote, op, err)
}

var _ RowClient = (*PostgresRows)(nil)
