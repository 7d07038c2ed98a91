package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tush00nka/bbbab_sync/internal/model"
)

const (
	cacheMaxMessages = 500
	cacheTTL         = 24 * time.Hour
)

// HotCache горячий кеш последних сообщений беседы: при повторной
// привязке транскрипт засевается отсюда мгновенно. Дубликаты не
// страшны — слияние в транскрипте идемпотентно.
type HotCache interface {
	Push(ctx context.Context, conversationID uint, msgs ...model.Message) error
	Recent(ctx context.Context, conversationID uint) ([]model.Message, error)
	Clear(ctx context.Context, conversationID uint) error
}

type hotCache struct {
	rdb *redis.Client
}

// NewHotCache создает кеш поверх redis
func NewHotCache(rdb *redis.Client) HotCache {
	return &hotCache{rdb: rdb}
}

// transcriptKey ключ списка сообщений беседы
func (c *hotCache) transcriptKey(conversationID uint) string {
	return fmt.Sprintf("conv:%d:transcript", conversationID)
}

// Push дописывает сообщения в список, ограничивает его размер
// и продлевает TTL
func (c *hotCache) Push(ctx context.Context, conversationID uint, msgs ...model.Message) error {
	if conversationID == 0 {
		return fmt.Errorf("conversationID cannot be zero")
	}
	if len(msgs) == 0 {
		return nil
	}

	key := c.transcriptKey(conversationID)

	values := make([]interface{}, 0, len(msgs))
	for i := range msgs {
		data, err := json.Marshal(msgs[i])
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	if err := c.rdb.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push messages to redis: %w", err)
	}

	// Держим только хвост списка
	if err := c.rdb.LTrim(ctx, key, -cacheMaxMessages, -1).Err(); err != nil {
		return fmt.Errorf("failed to trim message list: %w", err)
	}

	if err := c.rdb.Expire(ctx, key, cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set TTL: %w", err)
	}

	return nil
}

// Recent все закешированные сообщения беседы
func (c *hotCache) Recent(ctx context.Context, conversationID uint) ([]model.Message, error) {
	if conversationID == 0 {
		return nil, fmt.Errorf("conversationID cannot be zero")
	}

	key := c.transcriptKey(conversationID)
	values, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("failed to get messages from redis: %w", err)
	}

	messages := make([]model.Message, 0, len(values))
	for _, v := range values {
		var msg model.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			// Пропускаем некорректные записи
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Clear очищает кеш беседы
func (c *hotCache) Clear(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return fmt.Errorf("conversationID cannot be zero")
	}

	if err := c.rdb.Del(ctx, c.transcriptKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
