package storage

import (
	"time"

	"github.com/MrEthical07/credsync/record"
)

var (
	testPrincipal = record.Principal{Tenant: "t1", ID: "u1"}
	testKey       = record.KeyFor(testPrincipal, record.KindCredential)
)

func testRecord(version uint64, value string) record.Record {
	return record.Record{
		Owner:     testPrincipal.ID,
		Tenant:    testPrincipal.Tenant,
		Kind:      record.KindCredential,
		Fields:    map[string]string{"api_key": value},
		Version:   version,
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

