package mute

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/nearby/internal/logging"
	"github.com/HammerMeetNail/nearby/internal/models"
)

// RedisBackend keeps one hash per user, field = thread key.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func mutesKey(userID uuid.UUID) string {
	return "mutes:" + userID.String()
}

func (b *RedisBackend) Load(ctx context.Context, userID uuid.UUID) ([]models.ThreadRef, error) {
	fields, err := b.client.HKeys(ctx, mutesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", mutesKey(userID), err)
	}
	threads := make([]models.ThreadRef, 0, len(fields))
	for _, f := range fields {
		ref, err := models.ParseThreadRef(f)
		if err != nil {
			logging.Warn("Skipping malformed mute entry", map[string]interface{}{
				"user_id": userID.String(),
				"field":   f,
			})
			continue
		}
		threads = append(threads, ref)
	}
	return threads, nil
}

func (b *RedisBackend) Save(ctx context.Context, userID uuid.UUID, thread models.ThreadRef, muted bool) error {
	key := mutesKey(userID)
	var err error
	if muted {
		err = b.client.HSet(ctx, key, thread.Key(), "1").Err()
	} else {
		err = b.client.HDel(ctx, key, thread.Key()).Err()
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
