package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"studymate/internal/model"
)

// HistoryCache keeps the recent chat turns of one (owner, document) in Redis.
// A short-lived dirty marker is set when turns are queued but not yet written,
// so readers go to the database until the persist worker catches up.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) Get(ctx context.Context, ownerID, documentID string) ([]model.ChatTurn, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(ownerID, documentID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var turns []model.ChatTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return turns, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, ownerID, documentID string, turns []model.ChatTurn) error {
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(ownerID, documentID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) Delete(ctx context.Context, ownerID, documentID string) error {
	if err := c.client.Del(ctx, historyKey(ownerID, documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached history and marks it dirty in one round trip.
func (c *HistoryCache) Invalidate(ctx context.Context, ownerID, documentID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Del(ctx, historyKey(ownerID, documentID))
		pipe.Set(ctx, dirtyKey(ownerID, documentID), "1", c.dirtyMarkerTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, ownerID, documentID string) (bool, error) {
	exists, err := c.client.Exists(ctx, dirtyKey(ownerID, documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func historyKey(ownerID, documentID string) string {
	return fmt.Sprintf("chat:history:%s:%s", ownerID, documentID)
}

func dirtyKey(ownerID, documentID string) string {
	return fmt.Sprintf("chat:history:dirty:%s:%s", ownerID, documentID)
}
