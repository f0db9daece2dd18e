package cache

import (
	"context"
	"sync"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

type MemoryOccupantCache struct {
	mu    sync.RWMutex
	rooms map[string]map[int]types.PublicUser
}

func NewMemoryOccupantCache() *MemoryOccupantCache {
	return &MemoryOccupantCache{
		rooms: make(map[string]map[int]types.PublicUser),
	}
}

func (c *MemoryOccupantCache) Get(_ context.Context, roomId string) ([]types.PublicUser, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	occupants, ok := c.rooms[roomId]
	if !ok {
		return nil, false, nil
	}

	users := make([]types.PublicUser, 0, len(occupants))
	for _, u := range occupants {
		users = append(users, u)
	}
	sortById(users)
	return users, true, nil
}

func (c *MemoryOccupantCache) Set(_ context.Context, roomId string, occupants []types.PublicUser) error {
	set := make(map[int]types.PublicUser, len(occupants))
	for _, u := range occupants {
		set[u.Id] = u
	}

	c.mu.Lock()
	c.rooms[roomId] = set
	c.mu.Unlock()
	return nil
}

func (c *MemoryOccupantCache) Add(_ context.Context, roomId string, occupant types.PublicUser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if occupants, ok := c.rooms[roomId]; ok {
		occupants[occupant.Id] = occupant
	}
	return nil
}

func (c *MemoryOccupantCache) Remove(_ context.Context, roomId string, userId int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if occupants, ok := c.rooms[roomId]; ok {
		delete(occupants, userId)
	}
	return nil
}

func (c *MemoryOccupantCache) Invalidate(_ context.Context, roomId string) error {
	c.mu.Lock()
	delete(c.rooms, roomId)
	c.mu.Unlock()
	return nil
}
