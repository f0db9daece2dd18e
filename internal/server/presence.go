package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

// Join moves the session into roomId, leaving its current room first.
// Joining the room the session is already in resends the occupant list to
// the session only.
func (cs *ChatServer) Join(ctx context.Context, s *Session, roomId string) (types.Room, error) {
	if err := validateRoomId(roomId); err != nil {
		return types.Room{}, err
	}

	s.opLock.Lock()
	defer s.opLock.Unlock()

	if cs.sessions.Get(s.Id) != s {
		return types.Room{}, validationErr("session is closed")
	}

	current := cs.sessions.CurrentRoom(s)
	if current == roomId {
		return cs.rejoin(ctx, s, roomId)
	}

	if current != "" {
		if err := cs.leave(ctx, s, current, "has left the room."); err != nil {
			return types.Room{}, err
		}
	}

	var room types.Room
	err := cs.exec(ctx, roomId, func(ctx context.Context) error {
		if _, err := cs.directory.GetOrCreate(ctx, roomId, s.User().Id); err != nil {
			return err
		}

		var err error
		room, err = cs.directory.AddOccupant(ctx, roomId, s.User())
		if err != nil {
			return err
		}

		if err := cs.db.SetCurrentRoom(ctx, s.User().Id, &roomId); err != nil {
			s.log.Warn().Err(err).Str("room", roomId).Msg("failed to persist current room")
		}

		cs.sessions.SetRoom(s, roomId)
		cs.stats.Incr(metricJoinedSessions)

		cs.broadcast(roomId, newOccupantsMessage(roomId, room.Occupants), nil)

		var skip *Session
		if !cs.notifyJoiner {
			skip = s
		}
		cs.broadcast(roomId, newNoticeMessage(roomId, fmt.Sprintf("%s has joined the room.", s.User().Username)), skip)

		s.log.Info().Str("room", roomId).Msg("joined room")
		return nil
	})

	return room, err
}

func (cs *ChatServer) rejoin(ctx context.Context, s *Session, roomId string) (types.Room, error) {
	var room types.Room
	err := cs.exec(ctx, roomId, func(ctx context.Context) error {
		var err error
		room, err = cs.directory.AddOccupant(ctx, roomId, s.User())
		if err != nil {
			return err
		}

		s.queueMessage(newOccupantsMessage(roomId, room.Occupants))
		return nil
	})

	return room, err
}

// Leave removes the session from roomId, which must be its current room.
func (cs *ChatServer) Leave(ctx context.Context, s *Session, roomId string) error {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	if current := cs.sessions.CurrentRoom(s); current == "" || current != roomId {
		return validationErr("not in room %q", roomId)
	}

	return cs.leave(ctx, s, roomId, "has left the room.")
}

// leave must be called with the session's opLock held. The session keeps
// its room until the occupant is removed, so a failed leave can be retried.
func (cs *ChatServer) leave(ctx context.Context, s *Session, roomId, action string) error {
	return cs.exec(ctx, roomId, func(ctx context.Context) error {
		if cs.sessions.CurrentRoom(s) != roomId {
			return nil
		}

		// the user is still present through another connection
		if cs.sessions.OtherSessionInRoom(roomId, s) {
			cs.unjoin(s, roomId)
			return nil
		}

		user := s.User()
		room, err := cs.directory.RemoveOccupant(ctx, roomId, user.Id)
		if err != nil {
			return err
		}
		cs.unjoin(s, roomId)

		if err := cs.db.ClearCurrentRoom(ctx, user.Id, roomId); err != nil {
			s.log.Warn().Err(err).Str("room", roomId).Msg("failed to clear current room")
		}

		cs.broadcast(roomId, newOccupantsMessage(roomId, room.Occupants), nil)
		cs.broadcast(roomId, newNoticeMessage(roomId, fmt.Sprintf("%s %s", user.Username, action)), nil)
		return nil
	})
}

func (cs *ChatServer) unjoin(s *Session, roomId string) {
	cs.sessions.SetRoom(s, "")
	cs.stats.Decr(metricJoinedSessions)
	s.log.Info().Str("room", roomId).Msg("left room")
}

// Disconnect leaves the session's current room and removes the session.
// Only the first call has any effect. If the occupant cannot be removed the
// session is still dropped and the room removes the occupant later.
func (cs *ChatServer) Disconnect(ctx context.Context, s *Session) error {
	var err error
	s.disconnectOnce.Do(func() {
		s.opLock.Lock()
		defer s.opLock.Unlock()

		if roomId := cs.sessions.CurrentRoom(s); roomId != "" {
			if err = cs.leave(ctx, s, roomId, "has disconnected."); err != nil {
				s.log.Warn().Err(err).Str("room", roomId).Msg("leave on disconnect failed")
				cs.unjoin(s, roomId)
				cs.sweepLater(roomId)
			}
		}

		cs.sessions.Remove(s.Id)
		cs.stats.Decr(metricConnectedClients)
		s.Close()
		s.log.Info().Msg("session disconnected")
	})

	return err
}

// RefreshUser replaces the profile carried by the user's live sessions and
// republishes the occupants of every room the user is in.
func (cs *ChatServer) RefreshUser(ctx context.Context, user types.User) error {
	profile := user.Public()

	rooms := make(map[string]struct{})
	if user.CurrentRoomId != nil {
		rooms[*user.CurrentRoomId] = struct{}{}
	}
	for _, s := range cs.sessions.UserSessions(user.Id) {
		s.setUser(profile)
		if roomId := cs.sessions.CurrentRoom(s); roomId != "" {
			rooms[roomId] = struct{}{}
		}
	}

	var errs []error
	for roomId := range rooms {
		err := cs.exec(ctx, roomId, func(ctx context.Context) error {
			cs.directory.Invalidate(ctx, roomId)

			occupants, err := cs.directory.ListOccupants(ctx, roomId)
			if err != nil {
				return err
			}

			cs.broadcast(roomId, newOccupantsMessage(roomId, occupants), nil)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RemoveRoom deletes a room and moves every session in it back to the
// unjoined state.
func (cs *ChatServer) RemoveRoom(ctx context.Context, roomId string) error {
	return cs.exec(ctx, roomId, func(ctx context.Context) error {
		if err := cs.db.DeleteRoom(ctx, roomId); err != nil {
			return repoErr("delete room", "room", roomId, err)
		}

		notice := newNoticeMessage(roomId, "This room has been deleted.")
		for _, s := range cs.sessions.InRoom(roomId) {
			cs.sessions.SetRoom(s, "")
			cs.stats.Decr(metricJoinedSessions)
			s.queueMessage(notice)
		}

		cs.directory.Invalidate(ctx, roomId)
		cs.log.Info().Str("room", roomId).Msg("room deleted")
		return nil
	})
}

// Occupants lists the occupants of a room on the room's worker so the read
// is ordered with membership changes.
func (cs *ChatServer) Occupants(ctx context.Context, roomId string) ([]types.PublicUser, error) {
	if err := validateRoomId(roomId); err != nil {
		return nil, err
	}

	var occupants []types.PublicUser
	err := cs.exec(ctx, roomId, func(ctx context.Context) error {
		if _, err := cs.directory.Get(ctx, roomId); err != nil {
			return err
		}

		var err error
		occupants, err = cs.directory.ListOccupants(ctx, roomId)
		return err
	})

	return occupants, err
}
