package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) SetCurrentRoom(ctx context.Context, userId int, roomId *string) error {
	args := m.Called(userId, roomId)
	return args.Error(0)
}
func (m *MockGoChatRepository) ClearCurrentRoom(ctx context.Context, userId int, roomId string) error {
	args := m.Called(userId, roomId)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) ListRooms(ctx context.Context) ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockGoChatRepository) UpdateRoom(ctx context.Context, params UpdateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) AddOccupant(ctx context.Context, roomId string, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockGoChatRepository) RemoveOccupant(ctx context.Context, roomId string, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockGoChatRepository) ListOccupants(ctx context.Context, roomId string) ([]User, error) {
	args := m.Called(roomId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockGoChatRepository) IsOccupant(ctx context.Context, roomId string, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessages(ctx context.Context, roomId string, before, limit int) ([]Message, error) {
	args := m.Called(roomId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGoChatRepository) DeleteMessage(ctx context.Context, id int) error {
	args := m.Called(id)
	return args.Error(0)
}
