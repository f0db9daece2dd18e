package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

const (
	occupantTTL = time.Hour
	// loadedField marks a hash as loaded so an empty room is still a hit.
	loadedField = "_loaded"
)

// RedisOccupantCache stores each room's occupants in a hash keyed by user id.
type RedisOccupantCache struct {
	client *redis.Client
}

func NewRedisOccupantCache(ctx context.Context, redisURL string) (*RedisOccupantCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisOccupantCache{client: client}, nil
}

func (c *RedisOccupantCache) Close() error {
	return c.client.Close()
}

// occupantsKey returns the key for a room's occupant hash.
func occupantsKey(roomId string) string {
	return fmt.Sprintf("room:%s:occupants", roomId)
}

func (c *RedisOccupantCache) Get(ctx context.Context, roomId string) ([]types.PublicUser, bool, error) {
	fields, err := c.client.HGetAll(ctx, occupantsKey(roomId)).Result()
	if err != nil {
		return nil, false, err
	}
	if _, ok := fields[loadedField]; !ok {
		return nil, false, nil
	}

	users := make([]types.PublicUser, 0, len(fields)-1)
	for field, raw := range fields {
		if field == loadedField {
			continue
		}

		var u types.PublicUser
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, false, fmt.Errorf("decode occupant %s: %w", field, err)
		}
		users = append(users, u)
	}

	sortById(users)
	return users, true, nil
}

func (c *RedisOccupantCache) Set(ctx context.Context, roomId string, occupants []types.PublicUser) error {
	values := []any{loadedField, "1"}
	for _, u := range occupants {
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		values = append(values, strconv.Itoa(u.Id), string(data))
	}

	key := occupantsKey(roomId)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, occupantTTL)
		return nil
	})
	return err
}

func (c *RedisOccupantCache) Add(ctx context.Context, roomId string, occupant types.PublicUser) error {
	key := occupantsKey(roomId)
	loaded, err := c.client.HExists(ctx, key, loadedField).Result()
	if err != nil || !loaded {
		return err
	}

	data, err := json.Marshal(occupant)
	if err != nil {
		return err
	}

	return c.client.HSet(ctx, key, strconv.Itoa(occupant.Id), string(data)).Err()
}

func (c *RedisOccupantCache) Remove(ctx context.Context, roomId string, userId int) error {
	return c.client.HDel(ctx, occupantsKey(roomId), strconv.Itoa(userId)).Err()
}

func (c *RedisOccupantCache) Invalidate(ctx context.Context, roomId string) error {
	return c.client.Del(ctx, occupantsKey(roomId)).Err()
}
