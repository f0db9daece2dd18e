package server

import (
	"context"
	"errors"
	"regexp"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/npezzotti/go-chatrooms/internal/cache"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/types"
)

var roomIdPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateRoomId(roomId string) error {
	if !roomIdPattern.MatchString(roomId) {
		return validationErr("invalid room id %q", roomId)
	}
	return nil
}

// RoomDirectory resolves rooms and their occupants. The repository is the
// source of truth; the cache mirrors occupant projections and is reloaded
// on a miss.
type RoomDirectory struct {
	db    database.GoChatRepository
	cache cache.OccupantCache
	log   zerolog.Logger
	group singleflight.Group
}

func NewRoomDirectory(db database.GoChatRepository, c cache.OccupantCache, log zerolog.Logger) *RoomDirectory {
	return &RoomDirectory{
		db:    db,
		cache: c,
		log:   log.With().Str("component", "directory").Logger(),
	}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

func (d *RoomDirectory) Get(ctx context.Context, roomId string) (types.Room, error) {
	room, err := d.db.GetRoom(ctx, roomId)
	if err != nil {
		return types.Room{}, repoErr("get room", "room", roomId, err)
	}

	return toRoom(room), nil
}

// GetOrCreate returns the room, creating it with creatorId as its creator
// if it does not exist yet.
func (d *RoomDirectory) GetOrCreate(ctx context.Context, roomId string, creatorId int) (types.Room, error) {
	if err := validateRoomId(roomId); err != nil {
		return types.Room{}, err
	}

	room, err := d.db.GetRoom(ctx, roomId)
	if err == nil {
		return toRoom(room), nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return types.Room{}, &PersistenceError{Op: "get room", Err: err}
	}

	room, err = d.db.CreateRoom(ctx, database.CreateRoomParams{
		Id:        roomId,
		Name:      roomId,
		CreatedBy: creatorId,
	})
	if errors.Is(err, database.ErrConflict) {
		// another room already uses this id as its name
		return types.Room{}, validationErr("room name %q is taken", roomId)
	}
	if err != nil {
		return types.Room{}, &PersistenceError{Op: "create room", Err: err}
	}

	d.log.Info().Str("room", roomId).Int("creator", creatorId).Msg("created room")
	return toRoom(room), nil
}

// AddOccupant adds user to the room. Adding a present occupant is a no-op.
func (d *RoomDirectory) AddOccupant(ctx context.Context, roomId string, user types.PublicUser) (types.Room, error) {
	room, err := d.Get(ctx, roomId)
	if err != nil {
		return types.Room{}, err
	}

	if err := d.db.AddOccupant(ctx, roomId, user.Id); err != nil {
		return types.Room{}, repoErr("add occupant", "room", roomId, err)
	}

	if err := d.cache.Add(ctx, roomId, user); err != nil {
		d.cacheFailed(ctx, roomId, err)
	}

	room.Occupants, err = d.ListOccupants(ctx, roomId)
	return room, err
}

// RemoveOccupant removes a user from the room. Removing an absent occupant
// is a no-op.
func (d *RoomDirectory) RemoveOccupant(ctx context.Context, roomId string, userId int) (types.Room, error) {
	room, err := d.Get(ctx, roomId)
	if err != nil {
		return types.Room{}, err
	}

	if err := d.db.RemoveOccupant(ctx, roomId, userId); err != nil {
		return types.Room{}, repoErr("remove occupant", "room", roomId, err)
	}

	if err := d.cache.Remove(ctx, roomId, userId); err != nil {
		d.cacheFailed(ctx, roomId, err)
	}

	room.Occupants, err = d.ListOccupants(ctx, roomId)
	return room, err
}

func (d *RoomDirectory) ListOccupants(ctx context.Context, roomId string) ([]types.PublicUser, error) {
	occupants, ok, err := d.cache.Get(ctx, roomId)
	if err != nil {
		d.log.Warn().Err(err).Str("room", roomId).Msg("occupant cache read failed")
	}
	if ok && err == nil {
		return occupants, nil
	}

	v, err, _ := d.group.Do(roomId, func() (any, error) {
		return d.loadOccupants(ctx, roomId)
	})
	if err != nil {
		return nil, err
	}

	return v.([]types.PublicUser), nil
}

func (d *RoomDirectory) loadOccupants(ctx context.Context, roomId string) ([]types.PublicUser, error) {
	users, err := d.db.ListOccupants(ctx, roomId)
	if err != nil {
		return nil, &PersistenceError{Op: "list occupants", Err: err}
	}

	occupants := make([]types.PublicUser, 0, len(users))
	for _, u := range users {
		occupants = append(occupants, publicUser(u))
	}
	sort.Slice(occupants, func(i, j int) bool { return occupants[i].Id < occupants[j].Id })

	if err := d.cache.Set(ctx, roomId, occupants); err != nil {
		d.log.Warn().Err(err).Str("room", roomId).Msg("occupant cache write failed")
	}

	return occupants, nil
}

// Invalidate drops the cached occupants of a room.
func (d *RoomDirectory) Invalidate(ctx context.Context, roomId string) {
	if err := d.cache.Invalidate(ctx, roomId); err != nil {
		d.log.Warn().Err(err).Str("room", roomId).Msg("occupant cache invalidation failed")
	}
}

// cacheFailed drops an entry that may have diverged from the repository.
func (d *RoomDirectory) cacheFailed(ctx context.Context, roomId string, err error) {
	d.log.Warn().Err(err).Str("room", roomId).Msg("occupant cache update failed")
	d.Invalidate(ctx, roomId)
}

func publicUser(u database.User) types.PublicUser {
	return types.PublicUser{
		Id:       u.Id,
		Username: u.Username,
		Avatar:   u.Avatar,
		Bio:      u.Bio,
	}
}
