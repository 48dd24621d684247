package redis_infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reconciler/internal/util"
)

const lockKeyPrefix = "webhook:lock:"

// releaseScript deletes the key only while it still holds the caller's token,
// so a holder whose TTL lapsed cannot release a lock taken over by another worker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WebhookLock marks an event id as in flight across replicas.
type WebhookLock struct {
	client *redis.Client
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewWebhookLock(client *redis.Client) *WebhookLock {
	return &WebhookLock{client: client}
}

// TryLock returns false when another worker already holds the key. The
// returned token must be passed to Unlock.
func (l *WebhookLock) TryLock(ctx context.Context, eventID string, ttl time.Duration) (string, bool, error) {
	token := util.GenerateUUID()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+eventID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock for event %s: %w", eventID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *WebhookLock) Unlock(ctx context.Context, eventID, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKeyPrefix + eventID}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock for event %s: %w", eventID, err)
	}
	return nil
}
