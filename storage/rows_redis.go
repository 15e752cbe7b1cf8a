package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/credsync/record"
	"github.com/redis/go-redis/v9"
)

const upsertRowScript = `
local cur = redis.call("HGET", KEYS[1], "version")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "data", ARGV[2], "tenant", ARGV[3])
return 1
`

var upsertRowLua = redis.NewScript(upsertRowScript)

// RedisRows is a RowClient backed by Redis hashes. Each tenant owns its own
// key namespace and every row also records its tenant column.
type RedisRows struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRows returns a RowClient storing rows under prefix.
func NewRedisRows(client redis.UniversalClient, prefix string) *RedisRows {
	if prefix == "" {
		prefix = record.DefaultKeyPrefix
	}
	return &RedisRows{redis: client, prefix: prefix}
}

func (r *RedisRows) key(tenant record.TenantID, row string) string {
	return r.prefix + ":" + string(tenant) + ":" + row
}

func (r *RedisRows) GetRow(ctx context.Context, tenant record.TenantID, row string) (Row, bool, error) {
	vals, err := r.redis.HMGet(ctx, r.key(tenant, row), "version", "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Row{}, false, nil
		}
		return Row{}, false, classifyRedis("get", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return Row{}, false, nil
	}

	rawVersion, ok := vals[0].(string)
	if !ok {
		return Row{}, false, Permanent(TierRemote, "get", fmt.Errorf("%w: version field type %T", ErrCorrupt, vals[0]))
	}
	version, err := strconv.ParseUint(rawVersion, 10, 64)
	if err != nil {
		return Row{}, false, Permanent(TierRemote, "get", fmt.Errorf("%w: version: %v", ErrCorrupt, err))
	}
	data, _ := vals[1].(string)

	return Row{Version: version, Data: []byte(data)}, true, nil
}

func (r *RedisRows) UpsertRow(ctx context.Context, tenant record.TenantID, row string, value Row) error {
	applied, err := upsertRowLua.Run(
		ctx,
		r.redis,
		[]string{r.key(tenant, row)},
		strconv.FormatUint(value.Version, 10),
		value.Data,
		string(tenant),
	).Int64()
	if err != nil {
		return classifyRedis("set", err)
	}
	if applied == 0 {
		return Permanent(TierRemote, "set", ErrStaleVersion)
	}
	return nil
}

func (r *RedisRows) DeleteRow(ctx context.Context, tenant record.TenantID, row string) error {
	if err := r.redis.Del(ctx, r.key(tenant, row)).Err(); err != nil {
		return classifyRedis("delete", err)
	}
	return nil
}

// classifyRedis treats server-side replies as permanent and connection level
// failures as transient.
func classifyRedis(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return Permanent(TierRemote, op, fmt.Errorf("%w: %v", ErrClosed, err))
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return Permanent(TierRemote, op, err)
	}
	return Transient(TierRemote, op, err)
}

var _ RowClient = (*RedisRows)(nil)
