package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MrEthical07/credsync/record"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const durableSchema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	tenant     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

const durableUpsert = `
INSERT INTO records (key, tenant, version, data, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	tenant = excluded.tenant,
	version = excluded.version,
	data = excluded.data,
	updated_at = excluded.updated_at
WHERE excluded.version >= records.version`

// Sealer encrypts record payloads at rest. additionalData binds a payload to
// the key it was written under so a sealed row cannot be replayed elsewhere.
type Sealer interface {
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(sealed, additionalData []byte) ([]byte, error)
}

// DurableStore persists records in a local SQLite file across restarts.
type DurableStore struct {
	db     *sql.DB
	sealer Sealer
}

// DurableOption configures a DurableStore.
type DurableOption func(*DurableStore)

// WithSealer encrypts every payload with s before it reaches disk.
func WithSealer(s Sealer) DurableOption {
	return func(d *DurableStore) {
		d.sealer = s
	}
}

// OpenDurableStore opens (creating if needed) the SQLite file at path.
func OpenDurableStore(path string, opts ...DurableOption) (*DurableStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("durable store path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(durableSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	s := &DurableStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *DurableStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DurableStore) Tier() Tier { return TierDurable }

func (s *DurableStore) Capability() Capability { return CapabilityCache }

func (s *DurableStore) Get(ctx context.Context, key record.Key) (record.Record, bool, error) {
	k := key.String()

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE key = ?`, k).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, classifySQLite("get", err)
	}

	rec, err := s.decode(k, data)
	if err != nil {
		return record.Record{}, false, Permanent(TierDurable, "get", err)
	}
	return rec, true, nil
}

func (s *DurableStore) Set(ctx context.Context, key record.Key, rec record.Record) error {
	k := key.String()

	data, err := s.encode(k, rec)
	if err != nil {
		return Permanent(TierDurable, "set", err)
	}

	res, err := s.db.ExecContext(ctx, durableUpsert,
		k, string(rec.Tenant), int64(rec.Version), data, rec.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return classifySQLite("set", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classifySQLite("set", err)
	}
	if affected == 0 {
		return Permanent(TierDurable, "set", ErrStaleVersion)
	}
	return nil
}

func (s *DurableStore) Delete(ctx context.Context, key record.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key.String()); err != nil {
		return classifySQLite("delete", err)
	}
	return nil
}

func (s *DurableStore) encode(key string, rec record.Record) ([]byte, error) {
	data, err := EncodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if s.sealer == nil {
		return data, nil
	}
	sealed, err := s.sealer.Seal(data, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return sealed, nil
}

func (s *DurableStore) decode(key string, data []byte) (record.Record, error) {
	if s.sealer != nil {
		opened, err := s.sealer.Open(data, []byte(key))
		if err != nil {
			return record.Record{}, fmt.Errorf("%w: unseal: %v", ErrCorrupt, err)
		}
		data = opened
	}
	return DecodeRecord(data)
}

// classifySQLite treats lock contention as transient and everything else as permanent.
func classifySQLite(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return Permanent(TierDurable, op, fmt.Errorf("%w: %v", ErrClosed, err))
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return Transient(TierDurable, op, err)
		}
		return Permanent(TierDurable, op, err)
	}
	return Classify(TierDurable, op, err)
}

var _ Backend = (*DurableStore)(nil)
