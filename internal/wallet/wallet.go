// Package wallet keeps per-category player balances in Redis hashes under the
// user_category_balances collection. Every mutation runs as a Lua script so
// the floor check and the increment happen atomically on the server.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	balanceKeyPattern = "user_category_balances:%s:%s"
	balanceKeyScan    = "user_category_balances:*"
	// Applied operations are remembered under their reference so a retried
	// call replays the first result.
	operationKeyPattern = "user_category_balances_ops:%s"

	fieldBalance = "balance"
)

var (
	ErrInsufficientBalance = errors.New("insufficient category balance")
	ErrExternalDependency  = errors.New("category wallet store unavailable")
	ErrInvalidAdjustment   = errors.New("invalid category adjustment")
)

const (
	codeApplied      = 0
	codeReplayed     = 1
	codeInsufficient = -1
)

var adjustScript = redis.NewScript(`
	local balance_key = KEYS[1]
	local op_key = KEYS[2]
	local delta = tonumber(ARGV[1])

	local op = redis.call('GET', op_key)
	if op then
		local b, a = string.match(op, '^(-?%d+):(-?%d+):')
		return {1, tonumber(b), tonumber(a)}
	end

	local before = tonumber(redis.call('HGET', balance_key, 'balance') or '0')
	if delta < 0 and before + delta < 0 then
		return {-1, before, before}
	end

	local after = redis.call('HINCRBY', balance_key, 'balance', delta)
	redis.call('HINCRBY', balance_key, 'version', 1)
	redis.call('HSET', balance_key, 'updated_at', ARGV[2])
	redis.call('SET', op_key, before .. ':' .. after .. ':' .. delta, 'EX', ARGV[3])
	return {0, before, after}
`)

var revertScript = redis.NewScript(`
	local balance_key = KEYS[1]
	local op_key = KEYS[2]

	local op = redis.call('GET', op_key)
	if not op then
		return {1, 0}
	end

	local delta = tonumber(string.match(op, ':(-?%d+)$'))
	local before = tonumber(redis.call('HGET', balance_key, 'balance') or '0')
	if before - delta < 0 then
		return {-1, before}
	end

	local after = redis.call('HINCRBY', balance_key, 'balance', -delta)
	redis.call('HINCRBY', balance_key, 'version', 1)
	redis.call('HSET', balance_key, 'updated_at', ARGV[1])
	redis.call('DEL', op_key)
	return {0, after}
`)

// Adjustment is the outcome of one balance move.
type Adjustment struct {
	Before   int64
	After    int64
	Replayed bool
}

// Balance is one category wallet as stored in Redis.
type Balance struct {
	UserID   string
	Category string
	Balance  int64
}

type Store struct {
	rdb          redis.UniversalClient
	referenceTTL time.Duration
	now          func() time.Time
}

func New(rdb redis.UniversalClient, referenceTTL time.Duration) *Store {
	if referenceTTL <= 0 {
		referenceTTL = 7 * 24 * time.Hour
	}
	return &Store{rdb: rdb, referenceTTL: referenceTTL, now: time.Now}
}

func balanceKey(userID, category string) string {
	return fmt.Sprintf(balanceKeyPattern, userID, category)
}

func operationKey(reference string) string {
	return fmt.Sprintf(operationKeyPattern, reference)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExternalDependency, op, err)
}

// Adjust moves a category balance by delta. A debit that would take the
// balance below zero fails with ErrInsufficientBalance and changes nothing.
// Calling Adjust again with the same reference returns the first result
// without moving the balance twice.
func (s *Store) Adjust(ctx context.Context, userID, category string, delta int64, reference string) (Adjustment, error) {
	if delta == 0 || reference == "" || category == "" {
		return Adjustment{}, ErrInvalidAdjustment
	}
	keys := []string{balanceKey(userID, category), operationKey(reference)}
	res, err := adjustScript.Run(ctx, s.rdb, keys, delta, s.now().Unix(), int64(s.referenceTTL.Seconds())).Int64Slice()
	if err != nil {
		return Adjustment{}, unavailable("adjust", err)
	}
	if len(res) != 3 {
		return Adjustment{}, unavailable("adjust", fmt.Errorf("unexpected script reply %v", res))
	}
	switch res[0] {
	case codeInsufficient:
		return Adjustment{Before: res[1], After: res[1]}, ErrInsufficientBalance
	case codeReplayed:
		return Adjustment{Before: res[1], After: res[2], Replayed: true}, nil
	default:
		return Adjustment{Before: res[1], After: res[2]}, nil
	}
}

// Revert undoes the adjustment recorded under reference and forgets it. It is
// a no-op for unknown references. It reports false when undoing a credit would
// take the wallet negative; the marker is kept so reconciliation can see it.
func (s *Store) Revert(ctx context.Context, userID, category, reference string) (bool, error) {
	keys := []string{balanceKey(userID, category), operationKey(reference)}
	res, err := revertScript.Run(ctx, s.rdb, keys, s.now().Unix()).Int64Slice()
	if err != nil {
		return false, unavailable("revert", err)
	}
	if len(res) != 2 {
		return false, unavailable("revert", fmt.Errorf("unexpected script reply %v", res))
	}
	if res[0] == codeInsufficient {
		return false, ErrInsufficientBalance
	}
	return true, nil
}

// Get returns the category balance, zero when the wallet was never touched.
func (s *Store) Get(ctx context.Context, userID, category string) (int64, error) {
	raw, err := s.rdb.HGet(ctx, balanceKey(userID, category), fieldBalance).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse category balance %q: %w", raw, err)
	}
	return v, nil
}

// ListByUser returns every category wallet a user owns.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Balance, error) {
	return s.scan(ctx, fmt.Sprintf(balanceKeyPattern, userID, "*"))
}

// All returns every category wallet in the store.
func (s *Store) All(ctx context.Context) ([]Balance, error) {
	return s.scan(ctx, balanceKeyScan)
}

func (s *Store) scan(ctx context.Context, match string) ([]Balance, error) {
	var out []Balance
	iter := s.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID, category, ok := splitKey(key)
		if !ok {
			continue
		}
		raw, err := s.rdb.HGet(ctx, key, fieldBalance).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable("scan", err)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse category balance for %s: %w", key, err)
		}
		out = append(out, Balance{UserID: userID, Category: category, Balance: v})
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return out, nil
}

// splitKey parses user_category_balances:{user}:{category}. Categories never
// contain a colon, user ids may.
func splitKey(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, "user_category_balances:")
	if !ok {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
