package server

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/types"
)

const maxMessageLength = 2000

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return validationErr("message text is empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return validationErr("message text exceeds %d characters", maxMessageLength)
	}
	return nil
}

// Send persists a message from the session and fans it out to every session
// in the room, the sender included. roomId must be the session's current
// room.
func (cs *ChatServer) Send(ctx context.Context, s *Session, roomId, text string) (types.Message, error) {
	if err := validateText(text); err != nil {
		return types.Message{}, err
	}
	if cs.sessions.CurrentRoom(s) != roomId {
		return types.Message{}, validationErr("not in room %q", roomId)
	}

	var msg types.Message
	err := cs.exec(ctx, roomId, func(ctx context.Context) error {
		// the session may have moved while the task was queued
		if cs.sessions.CurrentRoom(s) != roomId {
			return validationErr("not in room %q", roomId)
		}

		var err error
		msg, err = cs.relay(ctx, s.User(), roomId, text)
		return err
	})

	return msg, err
}

// Post relays a message submitted outside of a websocket session. The
// author must currently occupy the room.
func (cs *ChatServer) Post(ctx context.Context, author types.PublicUser, roomId, text string) (types.Message, error) {
	if err := validateText(text); err != nil {
		return types.Message{}, err
	}
	if err := validateRoomId(roomId); err != nil {
		return types.Message{}, err
	}

	var msg types.Message
	err := cs.exec(ctx, roomId, func(ctx context.Context) error {
		ok, err := cs.db.IsOccupant(ctx, roomId, author.Id)
		if err != nil {
			return &PersistenceError{Op: "check occupant", Err: err}
		}
		if !ok {
			return validationErr("not in room %q", roomId)
		}

		msg, err = cs.relay(ctx, author, roomId, text)
		return err
	})

	return msg, err
}

// relay must run on the room's worker so broadcast order matches
// persistence order.
func (cs *ChatServer) relay(ctx context.Context, author types.PublicUser, roomId, text string) (types.Message, error) {
	dbMsg, err := cs.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    roomId,
		UserId:    author.Id,
		Body:      text,
		CreatedAt: time.Now().UTC().Round(time.Millisecond),
	})
	if err != nil {
		return types.Message{}, &PersistenceError{Op: "create message", Err: err}
	}

	msg := types.Message{
		Id:        dbMsg.Id,
		Text:      dbMsg.Body,
		Author:    author,
		RoomId:    dbMsg.RoomId,
		CreatedAt: dbMsg.CreatedAt,
	}

	cs.broadcast(roomId, newMessageMessage(msg), nil)
	return msg, nil
}

// ToMessage converts a stored message to its wire form.
func ToMessage(m database.Message) types.Message {
	return types.Message{
		Id:   m.Id,
		Text: m.Body,
		Author: types.PublicUser{
			Id:       m.UserId,
			Username: m.AuthorUsername,
			Avatar:   m.AuthorAvatar,
		},
		RoomId:    m.RoomId,
		CreatedAt: m.CreatedAt,
	}
}
