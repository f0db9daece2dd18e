package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SqliteGoChatRepository {
	repo, err := NewSqliteGoChatRepository(":memory:")
	require.NoError(t, err, "failed to open sqlite repository")
	t.Cleanup(func() { repo.Close() })
	return repo
}

func createTestAccount(t *testing.T, repo GoChatRepository, username string) User {
	u, err := repo.CreateAccount(context.Background(), CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err, "failed to create account %q", username)
	return u
}

func TestSqlite_defaultRoomSeeded(t *testing.T) {
	repo := newTestRepo(t)

	room, err := repo.GetRoom(context.Background(), DefaultRoomId)
	assert.NoError(t, err)
	assert.Equal(t, DefaultRoomId, room.Name)
	assert.Zero(t, room.CreatedBy, "expected seeded room to have no creator")
}

func TestSqlite_accounts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	u := createTestAccount(t, repo, "alice")
	assert.Equal(t, "user", u.Role)
	assert.Nil(t, u.CurrentRoomId)

	_, err := repo.CreateAccount(ctx, CreateAccountParams{Username: "alice", EmailAddress: "other@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrConflict, "expected duplicate username to conflict")

	byEmail, err := repo.GetAccountByEmail(ctx, "alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, u.Id, byEmail.Id)

	_, err = repo.GetAccountById(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := repo.UpdateAccount(ctx, UpdateAccountParams{UserId: u.Id, Username: "alice2", Bio: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "alice2", updated.Username)
	assert.Equal(t, "hi", updated.Bio)
	assert.Equal(t, "hash", updated.PasswordHash, "expected empty hash to leave password untouched")

	room := DefaultRoomId
	assert.NoError(t, repo.SetCurrentRoom(ctx, u.Id, &room))
	got, _ := repo.GetAccountById(ctx, u.Id)
	if assert.NotNil(t, got.CurrentRoomId) {
		assert.Equal(t, DefaultRoomId, *got.CurrentRoomId)
	}

	assert.NoError(t, repo.ClearCurrentRoom(ctx, u.Id, "elsewhere"))
	got, _ = repo.GetAccountById(ctx, u.Id)
	assert.NotNil(t, got.CurrentRoomId, "expected clear to be conditional on the room")

	assert.NoError(t, repo.ClearCurrentRoom(ctx, u.Id, DefaultRoomId))
	got, _ = repo.GetAccountById(ctx, u.Id)
	assert.Nil(t, got.CurrentRoomId)
}

func TestSqlite_occupants(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	a := createTestAccount(t, repo, "alice")
	b := createTestAccount(t, repo, "bob")

	assert.NoError(t, repo.AddOccupant(ctx, DefaultRoomId, a.Id))
	assert.NoError(t, repo.AddOccupant(ctx, DefaultRoomId, a.Id), "expected adding twice to be a no-op")
	assert.NoError(t, repo.AddOccupant(ctx, DefaultRoomId, b.Id))
	assert.ErrorIs(t, repo.AddOccupant(ctx, "missing", a.Id), ErrNotFound)

	occupants, err := repo.ListOccupants(ctx, DefaultRoomId)
	assert.NoError(t, err)
	assert.Len(t, occupants, 2)

	ok, err := repo.IsOccupant(ctx, DefaultRoomId, a.Id)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, repo.RemoveOccupant(ctx, DefaultRoomId, a.Id))
	assert.NoError(t, repo.RemoveOccupant(ctx, DefaultRoomId, a.Id), "expected removing twice to be a no-op")

	occupants, err = repo.ListOccupants(ctx, DefaultRoomId)
	assert.NoError(t, err)
	if assert.Len(t, occupants, 1) {
		assert.Equal(t, b.Id, occupants[0].Id)
	}
}

func TestSqlite_rooms(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	a := createTestAccount(t, repo, "alice")

	room, err := repo.CreateRoom(ctx, CreateRoomParams{Id: "r1", Name: "random", Description: "d", CreatedBy: a.Id})
	assert.NoError(t, err)
	assert.Equal(t, a.Id, room.CreatedBy)

	_, err = repo.CreateRoom(ctx, CreateRoomParams{Id: "r2", Name: "random"})
	assert.ErrorIs(t, err, ErrConflict, "expected duplicate room name to conflict")

	rooms, err := repo.ListRooms(ctx)
	assert.NoError(t, err)
	assert.Len(t, rooms, 2)

	updated, err := repo.UpdateRoom(ctx, UpdateRoomParams{Id: "r1", Name: "renamed", Description: "new"})
	assert.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = repo.UpdateRoom(ctx, UpdateRoomParams{Id: "nope", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, repo.AddOccupant(ctx, "r1", a.Id))
	_, err = repo.CreateMessage(ctx, CreateMessageParams{RoomId: "r1", UserId: a.Id, Body: "hi"})
	assert.NoError(t, err)

	assert.NoError(t, repo.DeleteRoom(ctx, "r1"))
	assert.ErrorIs(t, repo.DeleteRoom(ctx, "r1"), ErrNotFound)

	msgs, err := repo.GetMessages(ctx, "r1", 0, 0)
	assert.NoError(t, err)
	assert.Empty(t, msgs, "expected messages to be deleted with the room")
}

func TestSqlite_messages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	a := createTestAccount(t, repo, "alice")

	var ids []int
	for _, body := range []string{"one", "two", "three"} {
		msg, err := repo.CreateMessage(ctx, CreateMessageParams{RoomId: DefaultRoomId, UserId: a.Id, Body: body})
		require.NoError(t, err)
		ids = append(ids, msg.Id)
	}

	msgs, err := repo.GetMessages(ctx, DefaultRoomId, 0, 0)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 3) {
		assert.Equal(t, "one", msgs[0].Body, "expected oldest message first")
		assert.Equal(t, "alice", msgs[0].AuthorUsername)
	}

	msgs, err = repo.GetMessages(ctx, DefaultRoomId, ids[2], 1)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, "two", msgs[0].Body)
	}

	msg, err := repo.GetMessage(ctx, ids[0])
	assert.NoError(t, err)
	assert.Equal(t, "one", msg.Body)

	assert.NoError(t, repo.DeleteMessage(ctx, ids[0]))
	assert.ErrorIs(t, repo.DeleteMessage(ctx, ids[0]), ErrNotFound)
	_, err = repo.GetMessage(ctx, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_clampLimit(t *testing.T) {
	assert.Equal(t, defaultMessageLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxMessageLimit, clampLimit(10000))
}
