package server

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatrooms/internal/types"
)

const sendQueueSize = 256

// Session is the server side state of one authenticated connection.
type Session struct {
	Id string

	// user is replaced when the account's profile changes.
	user atomic.Pointer[types.PublicUser]

	log  zerolog.Logger
	send chan *ServerMessage
	stop chan struct{}

	// opLock serializes presence operations issued by this session.
	opLock sync.Mutex
	// roomId is guarded by the owning Registry's lock.
	roomId string

	stopOnce       sync.Once
	disconnectOnce sync.Once
}

// User returns the public profile the session currently presents.
func (s *Session) User() types.PublicUser {
	return *s.user.Load()
}

func (s *Session) setUser(u types.PublicUser) {
	s.user.Store(&u)
}

// queueMessage enqueues msg for the write pump, dropping it if the queue is
// full.
func (s *Session) queueMessage(msg *ServerMessage) bool {
	select {
	case s.send <- msg:
	default:
		s.log.Warn().Str("event", msg.Event).Msg("send queue full, dropping message")
		return false
	}

	return true
}

// Close signals the write pump to close the connection.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

func (r *Registry) Register(id string, user types.PublicUser, log zerolog.Logger) *Session {
	s := &Session{
		Id:  id,
		log:  log.With().Str("session", id).Int("user", user.Id).Logger(),
		send: make(chan *ServerMessage, sendQueueSize),
		stop: make(chan struct{}),
	}
	s.setUser(user)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[id]
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}

	r.unindex(s)
	delete(r.sessions, id)
}

// SetRoom moves a session into roomId. An empty roomId clears its room.
func (r *Registry) SetRoom(s *Session, roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindex(s)
	s.roomId = roomId
	if roomId == "" {
		return
	}

	if r.rooms[roomId] == nil {
		r.rooms[roomId] = make(map[string]*Session)
	}
	r.rooms[roomId][s.Id] = s
}

func (r *Registry) unindex(s *Session) {
	if s.roomId == "" {
		return
	}

	if members, ok := r.rooms[s.roomId]; ok {
		delete(members, s.Id)
		if len(members) == 0 {
			delete(r.rooms, s.roomId)
		}
	}
	s.roomId = ""
}

func (r *Registry) CurrentRoom(s *Session) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return s.roomId
}

func (r *Registry) InRoom(roomId string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Session, 0, len(r.rooms[roomId]))
	for _, s := range r.rooms[roomId] {
		members = append(members, s)
	}
	return members
}

// UserInRoom reports whether any live session of userId is in roomId.
func (r *Registry) UserInRoom(roomId string, userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.rooms[roomId] {
		if s.User().Id == userId {
			return true
		}
	}
	return false
}

// OtherSessionInRoom reports whether a live session of the same user as s,
// other than s itself, is in roomId.
func (r *Registry) OtherSessionInRoom(roomId string, s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userId := s.User().Id
	for _, other := range r.rooms[roomId] {
		if other != s && other.User().Id == userId {
			return true
		}
	}
	return false
}

// UserSessions returns every live session of userId.
func (r *Registry) UserSessions(userId int) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*Session
	for _, s := range r.sessions {
		if s.User().Id == userId {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	return all
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
