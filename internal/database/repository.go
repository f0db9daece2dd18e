package database

import (
	"context"
	"errors"
)

const (
	// DefaultRoomId is the room every new account starts in.
	DefaultRoomId = "general"

	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type GoChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	SetCurrentRoom(ctx context.Context, userId int, roomId *string) error
	ClearCurrentRoom(ctx context.Context, userId int, roomId string) error

	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error)
	DeleteRoom(ctx context.Context, id string) error

	AddOccupant(ctx context.Context, roomId string, userId int) error
	RemoveOccupant(ctx context.Context, roomId string, userId int) error
	ListOccupants(ctx context.Context, roomId string) ([]User, error)
	IsOccupant(ctx context.Context, roomId string, userId int) (bool, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	GetMessages(ctx context.Context, roomId string, before, limit int) ([]Message, error)
	DeleteMessage(ctx context.Context, id int) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
