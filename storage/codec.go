package storage

import (
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/credsync/record"
)

// EncodeRecord serializes a record for tiers that store opaque bytes.
func EncodeRecord(rec record.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrCorrupt, err)
	}
	return data, nil
}

// DecodeRecord parses bytes written by EncodeRecord.
func DecodeRecord(data []byte) (record.Record, error) {
	var rec record.Record
	if len(data) == 0 {
		return rec, fmt.Errorf("%w: empty payload", ErrCorrupt)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.Record{}, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	return rec, nil
}
