package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

const (
	EventAuth        = "auth"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"

	EventAuthenticated = "authenticated"
	EventRoomOccupants = "room-occupants"
	EventNewMessage    = "new-message"
	EventSystemNotice  = "system-notice"
	EventResponse      = "response"
)

// ClientMessage is the envelope of every frame sent by a client. Data is
// decoded according to Event.
type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type payload interface {
	validate() error
}

type AuthPayload struct {
	Token string `json:"token"`
}

func (p *AuthPayload) validate() error {
	if p.Token == "" {
		return validationErr("token is required")
	}
	return nil
}

// RoomPayload is the payload of join-room and leave-room.
type RoomPayload struct {
	RoomId string `json:"roomId"`
}

func (p *RoomPayload) validate() error {
	return validateRoomId(p.RoomId)
}

type SendMessagePayload struct {
	RoomId string `json:"roomId"`
	Text   string `json:"text"`
}

func (p *SendMessagePayload) validate() error {
	if err := validateRoomId(p.RoomId); err != nil {
		return err
	}
	return validateText(p.Text)
}

// decode unmarshals the envelope data into p and validates it.
func (m *ClientMessage) decode(p payload) error {
	if len(m.Data) == 0 {
		return validationErr("%s: missing data", m.Event)
	}
	if err := json.Unmarshal(m.Data, p); err != nil {
		return validationErr("%s: malformed data", m.Event)
	}
	return p.validate()
}

type ServerMessage struct {
	Id        int       `json:"id,omitempty"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AuthenticatedPayload struct {
	User        types.PublicUser `json:"user"`
	CurrentRoom *string          `json:"currentRoom"`
}

type OccupantsPayload struct {
	RoomId    string             `json:"roomId"`
	Occupants []types.PublicUser `json:"occupants"`
}

type NoticePayload struct {
	RoomId string `json:"roomId,omitempty"`
	Text   string `json:"text"`
}

type ResponsePayload struct {
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func newServerMessage(id int, event string, data any) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func newAuthenticatedMessage(user types.PublicUser, currentRoom *string) *ServerMessage {
	return newServerMessage(0, EventAuthenticated, AuthenticatedPayload{User: user, CurrentRoom: currentRoom})
}

func newOccupantsMessage(roomId string, occupants []types.PublicUser) *ServerMessage {
	if occupants == nil {
		occupants = []types.PublicUser{}
	}
	return newServerMessage(0, EventRoomOccupants, OccupantsPayload{RoomId: roomId, Occupants: occupants})
}

func newNoticeMessage(roomId, text string) *ServerMessage {
	return newServerMessage(0, EventSystemNotice, NoticePayload{RoomId: roomId, Text: text})
}

func newMessageMessage(msg types.Message) *ServerMessage {
	return newServerMessage(0, EventNewMessage, msg)
}

func NoErrOK(id int, data any) *ServerMessage {
	return newServerMessage(id, EventResponse, ResponsePayload{Code: http.StatusOK, Data: data})
}

// ErrResponse builds the response for a failed request. Only validation and
// not found errors expose their message.
func ErrResponse(id int, err error) *ServerMessage {
	code := StatusCode(err)

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		text          string
	)
	switch {
	case errors.As(err, &validationErr):
		text = validationErr.Message
	case errors.As(err, &notFoundErr):
		text = notFoundErr.Error()
	default:
		text = strings.ToLower(http.StatusText(code))
	}

	return newServerMessage(id, EventResponse, ResponsePayload{Code: code, Error: text})
}

func ErrUnknownEvent(id int, event string) *ServerMessage {
	return ErrResponse(id, validationErr("unknown event %q", event))
}

func ErrInvalidMessage(id int) *ServerMessage {
	return ErrResponse(id, validationErr("invalid message format"))
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
