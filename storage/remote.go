package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credsync/record"
)

const defaultRemoteTimeout = 3 * time.Second

// Row is the unit exchanged with the remote collaborator. Version is carried
// outside the payload so the collaborator can enforce monotonic writes.
type Row struct {
	Version uint64
	Data    []byte
}

// RowClient is the contract the remote collaborator must satisfy: rows are
// addressed by an explicit tenant plus a tenant-relative row name.
type RowClient interface {
	GetRow(ctx context.Context, tenant record.TenantID, row string) (Row, bool, error)
	UpsertRow(ctx context.Context, tenant record.TenantID, row string, r Row) error
	DeleteRow(ctx context.Context, tenant record.TenantID, row string) error
}

// RemoteStore is the authoritative tier. Every call runs under its own
// timeout; a timeout is reported as a transient failure.
type RemoteStore struct {
	rows    RowClient
	timeout time.Duration
}

// NewRemoteStore wraps rows with a per-call timeout. A non-positive timeout
// uses the default.
func NewRemoteStore(rows RowClient, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteStore{rows: rows, timeout: timeout}
}

func (s *RemoteStore) Tier() Tier { return TierRemote }

func (s *RemoteStore) Capability() Capability { return CapabilityAuthoritative }

func (s *RemoteStore) Get(ctx context.Context, key record.Key) (record.Record, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row, ok, err := s.rows.GetRow(callCtx, key.Tenant, key.Row())
	if err != nil {
		return record.Record{}, false, remoteError(callCtx, "get", err)
	}
	if !ok {
		return record.Record{}, false, nil
	}

	rec, err := DecodeRecord(row.Data)
	if err != nil {
		return record.Record{}, false, Permanent(TierRemote, "get", err)
	}
	return rec, true, nil
}

func (s *RemoteStore) Set(ctx context.Context, key record.Key, rec record.Record) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return Permanent(TierRemote, "set", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rows.UpsertRow(callCtx, key.Tenant, key.Row(), Row{Version: rec.Version, Data: data}); err != nil {
		return remoteError(callCtx, "set", err)
	}
	return nil
}

func (s *RemoteStore) Delete(ctx context.Context, key record.Key) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rows.DeleteRow(callCtx, key.Tenant, key.Row()); err != nil {
		return remoteError(callCtx, "delete", err)
	}
	return nil
}

func remoteError(callCtx context.Context, op string, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return Transient(TierRemote, op, errors.Join(context.DeadlineExceeded, err))
	}
	if errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrCorrupt) {
		return Permanent(TierRemote, op, err)
	}
	return Classify(TierRemote, op, err)
}

var _ Backend = (*RemoteStore)(nil)
