package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatrooms/internal/cache"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/stats"
)

const (
	metricConnectedClients = "connected_clients"
	metricActiveRooms      = "active_rooms"
	metricJoinedSessions   = "joined_sessions"
)

type Options struct {
	// NotifyJoiner includes the joining session in its own join notice.
	NotifyJoiner bool
	// IdleRoomTimeout defaults to 30 seconds.
	IdleRoomTimeout time.Duration
}

type loadReq struct {
	roomId string
	resp   chan *Room
}

// ChatServer owns the loaded rooms and the live sessions.
type ChatServer struct {
	log          zerolog.Logger
	db           database.GoChatRepository
	stats        stats.StatsProvider
	directory    *RoomDirectory
	sessions     *Registry
	notifyJoiner bool
	idleTimeout  time.Duration

	loadChan   chan loadReq
	unloadChan chan *Room
	rooms      map[string]*Room

	// stale holds rooms whose occupants must be reconciled before the
	// next task runs.
	staleMu sync.Mutex
	stale   map[string]struct{}

	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewChatServer(logger zerolog.Logger, db database.GoChatRepository, c cache.OccupantCache, su stats.StatsProvider, opts Options) *ChatServer {
	su.RegisterMetric(metricConnectedClients)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricJoinedSessions)

	idle := opts.IdleRoomTimeout
	if idle <= 0 {
		idle = idleRoomTimeout
	}

	log := logger.With().Str("component", "chat").Logger()
	return &ChatServer{
		log:          log,
		db:           db,
		stats:        su,
		directory:    NewRoomDirectory(db, c, logger),
		sessions:     NewRegistry(),
		notifyJoiner: opts.NotifyJoiner,
		idleTimeout:  idle,
		loadChan:     make(chan loadReq),
		unloadChan:   make(chan *Room),
		rooms:        make(map[string]*Room),
		stale:        make(map[string]struct{}),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (cs *ChatServer) Sessions() *Registry {
	return cs.sessions
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.loadChan:
			r, ok := cs.rooms[req.roomId]
			if !ok {
				r = newRoom(cs, req.roomId)
				cs.rooms[req.roomId] = r
				cs.stats.Incr(metricActiveRooms)
				go r.start()
			}
			req.resp <- r
		case r := <-cs.unloadChan:
			cs.unloadRoom(r)
		case <-cs.stop:
			cs.log.Info().Int("rooms", len(cs.rooms)).Msg("shutting down rooms")
			for id, r := range cs.rooms {
				close(r.exit)
				<-r.done
				delete(cs.rooms, id)
				cs.stats.Decr(metricActiveRooms)
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) unloadRoom(r *Room) {
	if cur, ok := cs.rooms[r.id]; ok && cur == r {
		delete(cs.rooms, r.id)
		cs.stats.Decr(metricActiveRooms)
	}

	// the room must be fully stopped before it can be loaded again
	<-r.done
	cs.log.Debug().Str("room", r.id).Int("rooms", len(cs.rooms)).Msg("unloaded room")
}

func (cs *ChatServer) loadRoom(ctx context.Context, roomId string) (*Room, error) {
	req := loadReq{roomId: roomId, resp: make(chan *Room, 1)}
	select {
	case cs.loadChan <- req:
	case <-cs.done:
		return nil, ErrServerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return <-req.resp, nil
}

// exec runs fn on the worker of roomId and waits for it to finish.
func (cs *ChatServer) exec(ctx context.Context, roomId string, fn func(ctx context.Context) error) error {
	for {
		r, err := cs.loadRoom(ctx, roomId)
		if err != nil {
			return err
		}

		t := &roomTask{ctx: ctx, fn: fn, done: make(chan struct{})}
		select {
		case r.tasks <- t:
			<-t.done
			return t.err
		case <-r.done:
			// unloaded before accepting the task
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (cs *ChatServer) markStale(roomId string) {
	cs.staleMu.Lock()
	cs.stale[roomId] = struct{}{}
	cs.staleMu.Unlock()
}

func (cs *ChatServer) takeStale(roomId string) bool {
	cs.staleMu.Lock()
	defer cs.staleMu.Unlock()

	_, ok := cs.stale[roomId]
	delete(cs.stale, roomId)
	return ok
}

// sweepLater marks the room stale and schedules an empty task on it so the
// reconciliation runs without waiting for the next presence change.
func (cs *ChatServer) sweepLater(roomId string) {
	cs.markStale(roomId)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()

		if err := cs.exec(ctx, roomId, func(context.Context) error { return nil }); err != nil {
			cs.log.Debug().Err(err).Str("room", roomId).Msg("sweep not scheduled")
		}
	}()
}

// broadcast queues msg for every session in roomId except skip.
func (cs *ChatServer) broadcast(roomId string, msg *ServerMessage, skip *Session) {
	for _, s := range cs.sessions.InRoom(roomId) {
		if s == skip {
			continue
		}
		s.queueMessage(msg)
	}
}

// Shutdown disconnects every session and stops all rooms.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Int("sessions", cs.sessions.Len()).Msg("received shutdown signal")
	for _, s := range cs.sessions.All() {
		if err := cs.Disconnect(ctx, s); err != nil {
			s.log.Warn().Err(err).Msg("disconnect on shutdown failed")
		}
	}

	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
