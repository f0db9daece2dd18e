package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// CanModerate reports whether the role may delete content it does not own.
func (r Role) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

type User struct {
	Id            int       `json:"id"`
	Username      string    `json:"username"`
	EmailAddress  string    `json:"email_address,omitempty"`
	Password      string    `json:"-"`
	Bio           string    `json:"bio"`
	Avatar        string    `json:"avatar"`
	Role          Role      `json:"role"`
	CurrentRoomId *string   `json:"current_room_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Public returns the projection of the user that is safe to broadcast.
func (u User) Public() PublicUser {
	return PublicUser{
		Id:       u.Id,
		Username: u.Username,
		Avatar:   u.Avatar,
		Bio:      u.Bio,
	}
}

type PublicUser struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Bio      string `json:"bio,omitempty"`
}

type Room struct {
	Id          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CreatedBy   int          `json:"created_by"`
	Occupants   []PublicUser `json:"occupants,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

type Message struct {
	Id        int        `json:"id"`
	Text      string     `json:"text"`
	Author    PublicUser `json:"author"`
	RoomId    string     `json:"roomId"`
	CreatedAt time.Time  `json:"createdAt"`
}
