package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 48 * time.Hour

// chargeScript decrements the balance only when it covers the amount, and
// records the idempotency key so a retried charge is acknowledged without a
// second debit. Runs atomically on the redis side.
var chargeScript = redis.NewScript(`
local balanceKey = KEYS[1]
local idemKey = KEYS[2]
local amount = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

if idemKey ~= '' and redis.call('EXISTS', idemKey) == 1 then
	return {1, tonumber(redis.call('GET', balanceKey) or '0')}
end

local balance = tonumber(redis.call('GET', balanceKey) or '0')
if balance < amount then
	return {0, balance}
end

local newBalance = redis.call('DECRBY', balanceKey, amount)
if idemKey ~= '' then
	redis.call('SET', idemKey, ARGV[3], 'EX', ttl)
end
return {1, newBalance}
`)

// RedisLedger keeps per-organization balances in redis.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, prefix: "credits"}
}

func (l *RedisLedger) CheckBalance(ctx context.Context, orgID string, amount int64) (bool, error) {
	balance, err := l.Balance(ctx, orgID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (l *RedisLedger) Charge(ctx context.Context, orgID string, amount int64, reason, idempotencyKey string) (ChargeResult, error) {
	keys := []string{l.balanceKey(orgID), l.idemKey(idempotencyKey)}
	raw, err := chargeScript.Run(ctx, l.client, keys, amount, int(idempotencyTTL.Seconds()), reason).Result()
	if err != nil {
		return ChargeResult{}, fmt.Errorf("charge script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return ChargeResult{}, fmt.Errorf("charge script: unexpected reply %v", raw)
	}
	success, _ := reply[0].(int64)
	balance, _ := reply[1].(int64)
	return ChargeResult{Success: success == 1, NewBalance: balance}, nil
}

func (l *RedisLedger) Balance(ctx context.Context, orgID string) (int64, error) {
	val, err := l.client.Get(ctx, l.balanceKey(orgID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Credit tops up an organization's balance (admin surface).
func (l *RedisLedger) Credit(ctx context.Context, orgID string, amount int64) (int64, error) {
	return l.client.IncrBy(ctx, l.balanceKey(orgID), amount).Result()
}

func (l *RedisLedger) balanceKey(orgID string) string {
	return fmt.Sprintf("%s:balance:%s", l.prefix, orgID)
}

func (l *RedisLedger) idemKey(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:idem:%s", l.prefix, key)
}
