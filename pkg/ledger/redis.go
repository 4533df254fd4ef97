package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
)

// redisDeductScript deducts atomically or not at all.
// KEYS[1] = account hash
// ARGV[1] = amount in micros
// Returns {applied (0|1), balance in micros}.
var redisDeductScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local balance = tonumber(redis.call("HGET", key, "balance_micros") or "0")

if amount > balance then
    return {0, balance}
end

local updated = redis.call("HINCRBY", key, "balance_micros", -amount)
return {1, updated}
`)

// RedisStore implements Store on Redis hashes. Balances are kept as integer
// micros so every mutation is a single atomic HINCRBY or script run; amounts
// finer than 10^-6 are truncated.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "credit:"}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Account(ctx context.Context, userID string) (Account, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(userID), "balance_micros", "wallet").Result()
	if err != nil {
		return Account{}, false, fmt.Errorf("ledger: redis load: %w", err)
	}
	a := Account{UserID: userID, Balance: decimal.Zero}
	exists := false
	if v, ok := vals[0].(string); ok {
		exists = true
		micros, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Account{}, false, fmt.Errorf("ledger: redis balance %q: %w", v, err)
		}
		a.Balance = finance.FromMicros(micros)
	}
	if v, ok := vals[1].(string); ok {
		exists = true
		a.WalletAddress = v
	}
	return a, exists, nil
}

func (s *RedisStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, _, err := s.Account(ctx, userID)
	return a.Balance, err
}

func (s *RedisStore) WalletAddress(ctx context.Context, userID string) (string, error) {
	a, _, err := s.Account(ctx, userID)
	return a.WalletAddress, err
}

func (s *RedisStore) AddCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	micros := finance.ToMicros(amount)
	updated, err := s.client.HIncrBy(ctx, s.key(userID), "balance_micros", micros).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: redis add: %w", err)
	}
	return finance.FromMicros(updated), nil
}

func (s *RedisStore) DeductCredit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkMutation(userID, amount); err != nil {
		return decimal.Zero, err
	}
	res, err := redisDeductScript.Run(ctx, s.client, []string{s.key(userID)}, finance.ToMicros(amount)).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: redis deduct: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return decimal.Zero, errors.New("ledger: invalid response from deduct script")
	}
	applied, _ := results[0].(int64)
	balanceMicros, _ := results[1].(int64)
	balance := finance.FromMicros(balanceMicros)
	if applied != 1 {
		return balance, &InsufficientCreditError{UserID: userID, Available: balance, Required: amount}
	}
	return balance, nil
}

func (s *RedisStore) SetWalletAddress(ctx context.Context, userID, address string) error {
	if err := checkWallet(userID, address); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(userID), "wallet", address).Err(); err != nil {
		return fmt.Errorf("ledger: redis set wallet: %w", err)
	}
	return nil
}
