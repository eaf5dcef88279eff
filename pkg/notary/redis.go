package notary

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

// redisNotariseScript consumes all inputs atomically.
// KEYS    = one key per input
// ARGV[1] = consuming transaction id
// Returns "" on success, or "<index>|<holder>" for the first input held by
// another transaction.
var redisNotariseScript = redis.NewScript(`
local tx = ARGV[1]
for i, key in ipairs(KEYS) do
    local holder = redis.call("GET", key)
    if holder and holder ~= tx then
        return tostring(i - 1) .. "|" .. holder
    end
end
for _, key in ipairs(KEYS) do
    redis.call("SET", key, tx)
end
return ""
`)

// RedisNotary shares the consumption record between nodes through Redis.
type RedisNotary struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNotary creates a notary backed by the Redis server at addr.
func NewRedisNotary(addr, password string, db int) *RedisNotary {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisNotaryWithClient(rdb, "workinsurance:notary:")
}

// NewRedisNotaryWithClient uses an existing client; keys are prefix + state ref.
func NewRedisNotaryWithClient(client redis.UniversalClient, prefix string) *RedisNotary {
	return &RedisNotary{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (n *RedisNotary) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotary) Close() error {
	return n.client.Close()
}

func (n *RedisNotary) Notarise(ctx context.Context, txID string, inputs []ledger.StateRef) error {
	if txID == "" {
		return errors.New("notary: empty transaction id")
	}
	if len(inputs) == 0 {
		return nil
	}

	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = n.prefix + in.String()
	}

	res, err := redisNotariseScript.Run(ctx, n.client, keys, txID).Text()
	if err != nil {
		return fmt.Errorf("redis notary error: %w", err)
	}
	if res == "" {
		return nil
	}

	pos, holder, ok := strings.Cut(res, "|")
	idx, err := strconv.Atoi(pos)
	if !ok || err != nil || idx < 0 || idx >= len(inputs) {
		return fmt.Errorf("invalid response from lua script: %q", res)
	}
	return &ConflictError{Input: inputs[idx], ConsumedBy: holder}
}
