// Package cache mirrors room occupant sets so presence broadcasts do not
// have to hit the database on every membership change. The repository
// stays the source of truth; a cache entry only exists once it has been
// loaded from it.
package cache

import (
	"context"
	"sort"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

type OccupantCache interface {
	// Get returns the cached occupants of a room. The boolean is false on a
	// cache miss.
	Get(ctx context.Context, roomId string) ([]types.PublicUser, bool, error)
	// Set replaces the cached occupants of a room.
	Set(ctx context.Context, roomId string, occupants []types.PublicUser) error
	// Add adds an occupant to a loaded room. It does nothing on a miss.
	Add(ctx context.Context, roomId string, occupant types.PublicUser) error
	Remove(ctx context.Context, roomId string, userId int) error
	Invalidate(ctx context.Context, roomId string) error
}

func sortById(users []types.PublicUser) {
	sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
}
