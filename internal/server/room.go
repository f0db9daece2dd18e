package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	idleRoomTimeout  = time.Second * 30
	reconcileTimeout = time.Second * 5
)

type roomTask struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	err  error
	done chan struct{}
}

// Room is the single writer for one room. Every presence change and message
// for the room runs as a task on its worker goroutine, one at a time.
type Room struct {
	id    string
	cs    *ChatServer
	log   zerolog.Logger
	tasks chan *roomTask
	// killTimer unloads the room once no tasks have arrived for a while
	killTimer *time.Timer
	// exit is closed by the chat server on shutdown
	exit chan struct{}
	done chan struct{}
}

func newRoom(cs *ChatServer, id string) *Room {
	return &Room{
		id:    id,
		cs:    cs,
		log:   cs.log.With().Str("room", id).Logger(),
		tasks: make(chan *roomTask),
		exit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug().Msg("starting room")
	defer close(r.done)

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	if err := r.reconcile(ctx); err != nil {
		r.log.Warn().Err(err).Msg("failed to reconcile occupants")
		r.cs.markStale(r.id)
	}
	cancel()

	r.killTimer = time.NewTimer(r.cs.idleTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case t := <-r.tasks:
			r.run(t)
			r.killTimer.Reset(r.cs.idleTimeout)
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				return
			}
		case <-r.exit:
			r.log.Debug().Msg("room exiting")
			return
		}
	}
}

// handleRoomTimeout asks the chat server to unload the room. It returns
// false if a task arrived before the chat server accepted.
func (r *Room) handleRoomTimeout() bool {
	select {
	case r.cs.unloadChan <- r:
		r.log.Debug().Msg("room timed out")
		return true
	case <-r.exit:
		return true
	case t := <-r.tasks:
		r.run(t)
		r.killTimer.Reset(r.cs.idleTimeout)
		return false
	}
}

func (r *Room) run(t *roomTask) {
	defer close(t.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("room task panicked")
			t.err = fmt.Errorf("room task panicked: %v", rec)
		}
	}()

	if r.cs.takeStale(r.id) {
		if err := r.reconcile(t.ctx); err != nil {
			r.log.Warn().Err(err).Msg("failed to reconcile occupants")
			r.cs.markStale(r.id)
		}
	}

	t.err = t.fn(t.ctx)
}

// reconcile drops persisted occupants that have no live session in the
// room. They are left behind when the process stopped without a clean
// disconnect or when removing an occupant failed.
func (r *Room) reconcile(ctx context.Context) error {
	users, err := r.cs.db.ListOccupants(ctx, r.id)
	if err != nil {
		return fmt.Errorf("list occupants: %w", err)
	}

	var (
		removed []string
		failed  error
	)
	for _, u := range users {
		if r.cs.sessions.UserInRoom(r.id, u.Id) {
			continue
		}

		if err := r.cs.db.RemoveOccupant(ctx, r.id, u.Id); err != nil {
			failed = fmt.Errorf("remove occupant %d: %w", u.Id, err)
			continue
		}
		if err := r.cs.db.ClearCurrentRoom(ctx, u.Id, r.id); err != nil {
			r.log.Warn().Err(err).Int("user", u.Id).Msg("failed to clear current room")
		}
		removed = append(removed, u.Username)
	}

	r.cs.directory.Invalidate(ctx, r.id)
	if len(removed) == 0 {
		return failed
	}

	r.log.Info().Int("removed", len(removed)).Msg("removed stale occupants")
	occupants, err := r.cs.directory.ListOccupants(ctx, r.id)
	if err != nil {
		return errors.Join(failed, err)
	}

	r.cs.broadcast(r.id, newOccupantsMessage(r.id, occupants), nil)
	for _, username := range removed {
		r.cs.broadcast(r.id, newNoticeMessage(r.id, fmt.Sprintf("%s has disconnected.", username)), nil)
	}

	return failed
}
