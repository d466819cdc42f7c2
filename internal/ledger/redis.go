package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agentlink/internal/domain"
	"agentlink/internal/keys"
)

// entityOffset keeps Redis-allocated ids clear of system accounts.
const entityOffset = 1000

// Redis is a ledger shared by every process pointed at the same Redis
// database. Topics are sorted sets scored by sequence number.
type Redis struct {
	client   *redis.Client
	operator keys.PrivateKey
	prefix   string
}

// redisEntry is the stored form of one topic message.
type redisEntry struct {
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
	TS      int64  `json:"ts"`
	Signer  string `json:"signer"`
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL, prefix string, operator keys.PrivateKey) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisWithClient(client, prefix, operator), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, operator keys.PrivateKey) *Redis {
	return &Redis{client: client, operator: operator, prefix: prefix}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) entityKey() string            { return r.prefix + "ledger:entity" }
func (r *Redis) topicMetaKey(id string) string { return fmt.Sprintf("%stopic:%s:meta", r.prefix, id) }
func (r *Redis) topicSeqKey(id string) string  { return fmt.Sprintf("%stopic:%s:seq", r.prefix, id) }
func (r *Redis) topicMsgsKey(id string) string { return fmt.Sprintf("%stopic:%s:messages", r.prefix, id) }
func (r *Redis) accountKey(id string) string   { return fmt.Sprintf("%saccount:%s", r.prefix, id) }

func (r *Redis) allocID(ctx context.Context) (string, error) {
	n, err := r.client.Incr(ctx, r.entityKey()).Result()
	if err != nil {
		return "", fmt.Errorf("allocate entity id: %w", err)
	}
	return fmt.Sprintf("0.0.%d", n+entityOffset), nil
}

// CreateAccount implements domain.LedgerClient.
func (r *Redis) CreateAccount(ctx context.Context, initialBalance float64) (domain.Account, error) {
	key, err := keys.Generate()
	if err != nil {
		return domain.Account{}, err
	}
	id, err := r.allocID(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	if err := r.client.HSet(ctx, r.accountKey(id),
		"key", key.Public().String(),
		"balance", initialBalance,
		"memo", "",
	).Err(); err != nil {
		return domain.Account{}, fmt.Errorf("store account %s: %w", id, err)
	}
	return domain.Account{ID: id, Key: key}, nil
}

// CreateTopic implements domain.LedgerClient.
func (r *Redis) CreateTopic(ctx context.Context, memo string, opts domain.TopicOptions) (string, error) {
	id, err := r.allocID(ctx)
	if err != nil {
		return "", err
	}
	if err := r.client.HSet(ctx, r.topicMetaKey(id),
		"memo", memo,
		"submit_key", opts.SubmitKey.String(),
		"created_at", time.Now().UnixMilli(),
	).Err(); err != nil {
		return "", fmt.Errorf("store topic %s: %w", id, err)
	}
	return id, nil
}

// SubmitMessage implements domain.LedgerClient.
func (r *Redis) SubmitMessage(ctx context.Context, topicID string, payload []byte, key keys.PrivateKey) (uint64, error) {
	if key.IsZero() {
		return 0, ErrUnsigned
	}
	submitKey, err := r.client.HGet(ctx, r.topicMetaKey(topicID), "submit_key").Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}
	if err != nil {
		return 0, fmt.Errorf("load topic %s: %w", topicID, err)
	}
	if submitKey != "" {
		want, err := keys.ParsePublicKey(submitKey)
		if err != nil {
			return 0, fmt.Errorf("topic %s submit key: %w", topicID, err)
		}
		if !want.Equal(key.Public()) && !want.Equal(r.operator.Public()) {
			return 0, fmt.Errorf("%w: topic %s", ErrInvalidSigner, topicID)
		}
	}

	n, err := r.client.Incr(ctx, r.topicSeqKey(topicID)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate sequence number: %w", err)
	}
	seq := uint64(n)
	data, err := json.Marshal(redisEntry{
		Seq:     seq,
		Payload: payload,
		TS:      time.Now().UnixMilli(),
		Signer:  key.Public().String(),
	})
	if err != nil {
		return 0, err
	}
	if err := r.client.ZAdd(ctx, r.topicMsgsKey(topicID), redis.Z{
		Score:  float64(seq),
		Member: string(data),
	}).Err(); err != nil {
		return 0, fmt.Errorf("append to topic %s: %w", topicID, err)
	}
	return seq, nil
}

// GetAccountMemo implements domain.LedgerClient.
func (r *Redis) GetAccountMemo(ctx context.Context, accountID string) (string, error) {
	memo, err := r.client.HGet(ctx, r.accountKey(accountID), "memo").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", accountID, err)
	}
	return memo, nil
}

// SetAccountMemo implements domain.LedgerClient.
func (r *Redis) SetAccountMemo(ctx context.Context, accountID, memo string, key keys.PrivateKey) error {
	if key.IsZero() {
		return ErrUnsigned
	}
	stored, err := r.client.HGet(ctx, r.accountKey(accountID), "key").Result()
	switch {
	case errors.Is(err, redis.Nil):
		stored = key.Public().String()
	case err != nil:
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	want, err := keys.ParsePublicKey(stored)
	if err != nil {
		return fmt.Errorf("account %s key: %w", accountID, err)
	}
	if !want.Equal(key.Public()) {
		return fmt.Errorf("%w: account %s", ErrInvalidSigner, accountID)
	}
	return r.client.HSet(ctx, r.accountKey(accountID), "key", stored, "memo", memo).Err()
}

// ReadMessages implements domain.LogReader.
func (r *Redis) ReadMessages(ctx context.Context, topicID string, opts domain.ReadOptions) ([]domain.LogMessage, error) {
	exists, err := r.client.Exists(ctx, r.topicMetaKey(topicID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load topic %s: %w", topicID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}

	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Limit) - 1
	}
	key := r.topicMsgsKey(topicID)
	var members []string
	if opts.Order == domain.OrderDesc {
		members, err = r.client.ZRevRange(ctx, key, 0, stop).Result()
	} else {
		members, err = r.client.ZRange(ctx, key, 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read topic %s: %w", topicID, err)
	}

	out := make([]domain.LogMessage, 0, len(members))
	for _, m := range members {
		var e redisEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		out = append(out, domain.LogMessage{
			SequenceNumber: e.Seq,
			Payload:        e.Payload,
			ConsensusAt:    time.UnixMilli(e.TS),
		})
	}
	return out, nil
}
