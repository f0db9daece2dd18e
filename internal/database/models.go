package database

import "time"

type User struct {
	Id            int
	Username      string
	EmailAddress  string
	PasswordHash  string
	Bio           string
	Avatar        string
	Role          string
	CurrentRoomId *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Room struct {
	Id          string
	Name        string
	Description string
	CreatedBy   int
	CreatedAt   time.Time
}

// Message is a persisted chat message. AuthorUsername and AuthorAvatar are
// only populated by reads that join the author's account.
type Message struct {
	Id             int
	RoomId         string
	UserId         int
	Body           string
	AuthorUsername string
	AuthorAvatar   string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username      string
	EmailAddress  string
	PasswordHash  string
	Bio           string
	Avatar        string
	CurrentRoomId *string
}

// UpdateAccountParams updates the profile of an account. An empty
// PasswordHash leaves the stored hash untouched.
type UpdateAccountParams struct {
	UserId       int
	Username     string
	Bio          string
	Avatar       string
	PasswordHash string
}

type CreateRoomParams struct {
	Id          string
	Name        string
	Description string
	CreatedBy   int
}

type UpdateRoomParams struct {
	Id          string
	Name        string
	Description string
}

type CreateMessageParams struct {
	RoomId    string
	UserId    int
	Body      string
	CreatedAt time.Time
}
