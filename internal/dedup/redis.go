// Package dedup guards against sending the same job twice and against
// enqueueing the same report delivery twice.
package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 7 * 24 * time.Hour

	deliveredPrefix = "courier:delivered:"
	idempotPrefix   = "courier:idemp:"
)

var checkAndSetScript = redis.NewScript(`
	local existing = redis.call('GET', KEYS[1])
	if existing then
		return existing
	end
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
	return nil
`)

// Checker records delivered message ids and enqueue idempotency keys in Redis.
type Checker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewChecker creates a new dedup checker.
func NewChecker(client *redis.Client) *Checker {
	return &Checker{
		client: client,
		ttl:    defaultTTL,
	}
}

// WithTTL returns a copy of the checker using ttl for new keys.
func (c *Checker) WithTTL(ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Checker{
		client: c.client,
		ttl:    ttl,
	}
}

// Delivered reports whether the job was already sent and returns the
// message id the channel assigned to it.
func (c *Checker) Delivered(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	messageID, err := c.client.Get(ctx, deliveredPrefix+jobID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return messageID, true, nil
}

// MarkDelivered records that the job was sent. The first message id wins.
func (c *Checker) MarkDelivered(ctx context.Context, jobID uuid.UUID, messageID string) error {
	return c.client.SetNX(ctx, deliveredPrefix+jobID.String(), messageID, c.ttl).Err()
}

// CheckAndSet atomically claims an idempotency key for jobID. It returns
// the job id that already owns the key, or uuid.Nil if the claim succeeded.
func (c *Checker) CheckAndSet(ctx context.Context, idempotencyKey string, jobID uuid.UUID) (uuid.UUID, error) {
	result, err := checkAndSetScript.Run(ctx, c.client, []string{idempotPrefix + idempotencyKey},
		jobID.String(), int(c.ttl.Seconds())).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}

	existing, ok := result.(string)
	if !ok {
		return uuid.Nil, errors.New("unexpected idempotency script result")
	}
	return uuid.Parse(existing)
}

// Release drops an idempotency key, e.g. when the insert it guarded failed.
func (c *Checker) Release(ctx context.Context, idempotencyKey string) error {
	return c.client.Del(ctx, idempotPrefix+idempotencyKey).Err()
}
