// Package redisq keeps short-lived rotation notices for members who were
// offline when a group's session key rotated. Clients drain the queue on
// reconnect and refetch their wrapped keys; notices expire after a day since
// a client that stayed away longer will notice the stale version on its own.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tajnachat/tajna/internal/domain"
)

const (
	noticeTTL         = 24 * time.Hour
	noticeQueuePrefix = "rotation:queue:" // rotation:queue:{userID}
)

type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) Push(ctx context.Context, userID uuid.UUID, n domain.RotationNotice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notice: %w", err)
	}

	key := noticeQueuePrefix + userID.String()
	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, noticeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushing notice: %w", err)
	}
	return nil
}

// Drain returns and clears all pending notices for a user.
func (q *Queue) Drain(ctx context.Context, userID uuid.UUID) ([]domain.RotationNotice, error) {
	key := noticeQueuePrefix + userID.String()

	pipe := q.rdb.TxPipeline()
	items := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("draining notices: %w", err)
	}

	var notices []domain.RotationNotice
	for _, raw := range items.Val() {
		var n domain.RotationNotice
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			// Skip anything unreadable, the queue is advisory
			continue
		}
		notices = append(notices, n)
	}
	return notices, nil
}
