package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatrooms/internal/cache"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/stats"
	"github.com/npezzotti/go-chatrooms/internal/testutil"
)

// newTestChatServer starts a chat server backed by an in-memory repository.
func newTestChatServer(t *testing.T, opts Options) (*ChatServer, *database.SqliteGoChatRepository) {
	t.Helper()

	repo := testutil.NewTestRepository(t)
	cs := NewChatServer(testutil.TestLogger(t), repo, cache.NewMemoryOccupantCache(), stats.NewStatsUpdater(), opts)
	go cs.Run()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return cs, repo
}

func connectUser(t *testing.T, cs *ChatServer, repo database.GoChatRepository, username string) *Session {
	t.Helper()

	u := testutil.CreateTestUser(t, repo, username)
	return cs.Connect(ToUser(u).Public())
}

// drain returns every message queued for the session.
func drain(s *Session) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-s.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func filterEvent(msgs []*ServerMessage, event string) []*ServerMessage {
	var out []*ServerMessage
	for _, m := range msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func noticeTexts(msgs []*ServerMessage) []string {
	var texts []string
	for _, m := range filterEvent(msgs, EventSystemNotice) {
		texts = append(texts, m.Data.(NoticePayload).Text)
	}
	return texts
}

func TestNewChatServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metricConnectedClients).Once()
	su.On("RegisterMetric", metricActiveRooms).Once()
	su.On("RegisterMetric", metricJoinedSessions).Once()

	db := &database.MockGoChatRepository{}
	cs := NewChatServer(testutil.TestLogger(t), db, cache.NewMemoryOccupantCache(), su, Options{})

	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.Equal(t, idleRoomTimeout, cs.idleTimeout, "expected default idle timeout")
	assert.False(t, cs.notifyJoiner)
	assert.NotNil(t, cs.loadChan, "expected loadChan to be initialized")
	assert.NotNil(t, cs.unloadChan, "expected unloadChan to be initialized")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, cs.sessions, "expected session registry to be initialized")
	assert.NotNil(t, cs.directory, "expected room directory to be initialized")
}

func TestChatServer_execSerializesRoomTasks(t *testing.T) {
	cs, _ := newTestChatServer(t, Options{})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cs.exec(ctx, "general", func(context.Context) error {
				// unsynchronized on purpose, the worker runs one task at a time
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter, "expected no lost updates")
}

func TestChatServer_execRecoversPanics(t *testing.T) {
	cs, _ := newTestChatServer(t, Options{})

	err := cs.exec(context.Background(), "general", func(context.Context) error {
		panic("boom")
	})
	assert.ErrorContains(t, err, "boom")

	err = cs.exec(context.Background(), "general", func(context.Context) error { return nil })
	assert.NoError(t, err, "expected the room to keep serving tasks after a panic")
}

func TestChatServer_idleRoomUnloads(t *testing.T) {
	cs, repo := newTestChatServer(t, Options{IdleRoomTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	alice := connectUser(t, cs, repo, "alice")
	_, err := cs.Join(ctx, alice, "general")
	require.NoError(t, err)

	var first *Room
	require.NoError(t, cs.exec(ctx, "general", func(context.Context) error {
		first, _ = cs.loadRoom(context.Background(), "general")
		return nil
	}))

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle room to unload")
	}

	_, err = cs.Send(ctx, alice, "general", "still here")
	assert.NoError(t, err, "expected the room to be reloaded on demand")
	assert.Equal(t, "general", cs.sessions.CurrentRoom(alice), "expected presence to survive an unload")

	occupants, err := repo.ListOccupants(ctx, "general")
	assert.NoError(t, err)
	assert.Len(t, occupants, 1, "expected reconcile to keep occupants with live sessions")
}

func TestChatServer_reconcileRemovesStaleOccupants(t *testing.T) {
	cs, repo := newTestChatServer(t, Options{})
	ctx := context.Background()

	ghost := testutil.CreateTestUser(t, repo, "ghost")
	room := "general"
	require.NoError(t, repo.AddOccupant(ctx, room, ghost.Id))
	require.NoError(t, repo.SetCurrentRoom(ctx, ghost.Id, &room))

	occupants, err := cs.Occupants(ctx, room)
	assert.NoError(t, err)
	assert.Empty(t, occupants, "expected occupants without a live session to be dropped")

	u, err := repo.GetAccountById(ctx, ghost.Id)
	assert.NoError(t, err)
	assert.Nil(t, u.CurrentRoomId)
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("disconnects sessions and stops rooms", func(t *testing.T) {
		repo := testutil.NewTestRepository(t)
		cs := NewChatServer(testutil.TestLogger(t), repo, cache.NewMemoryOccupantCache(), stats.NewStatsUpdater(), Options{})
		go cs.Run()

		alice := connectUser(t, cs, repo, "alice")
		_, err := cs.Join(context.Background(), alice, "general")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, cs.Shutdown(ctx), "expected successful shutdown without error")
		assert.Nil(t, cs.sessions.Get(alice.Id), "expected session to be removed")

		select {
		case <-alice.stop:
		default:
			t.Error("expected session to be closed")
		}

		occupants, err := repo.ListOccupants(context.Background(), "general")
		assert.NoError(t, err)
		assert.Empty(t, occupants)

		err = cs.exec(context.Background(), "general", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrServerStopped)
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := NewChatServer(testutil.TestLogger(t), &database.MockGoChatRepository{}, cache.NewMemoryOccupantCache(), stats.NewStatsUpdater(), Options{})

		// Run is never started so the rooms never report done
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}
