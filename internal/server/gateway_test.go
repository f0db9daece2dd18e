package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatrooms/internal/auth"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/testutil"
)

var testSigningKey = []byte("this-is-a-test-signing-key")

type testGateway struct {
	cs     *ChatServer
	repo   *database.SqliteGoChatRepository
	tokens *auth.TokenSigner
	srv    *httptest.Server
}

func newTestGateway(t *testing.T, authTimeout time.Duration) *testGateway {
	cs, repo := newTestChatServer(t, Options{NotifyJoiner: true})
	tokens := auth.NewTokenSigner(testSigningKey)
	g := NewGateway(cs, tokens, authTimeout, nil, testutil.TestLogger(t))

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	return &testGateway{cs: cs, repo: repo, tokens: tokens, srv: srv}
}

func (tg *testGateway) token(t *testing.T, userId int) string {
	token, err := tg.tokens.CreateToken(userId, time.Minute)
	require.NoError(t, err)
	return token
}

func (tg *testGateway) dial(t *testing.T, header http.Header) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(tg.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readEvent reads frames until one carries the given event.
func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event == event {
			return msg.Data
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r), "expected the header to win over the cookie")
}

func Test_checkOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://evil.example.com")

	assert.True(t, checkOrigin(nil)(r))
	assert.False(t, checkOrigin([]string{"http://localhost:3000"})(r))
	assert.True(t, checkOrigin([]string{"*"})(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, checkOrigin([]string{"http://localhost:3000"})(r))
}

func TestGateway_Authenticate(t *testing.T) {
	tg := newTestGateway(t, time.Second)
	g := NewGateway(tg.cs, tg.tokens, time.Second, nil, testutil.TestLogger(t))
	ctx := context.Background()

	alice := testutil.CreateTestUser(t, tg.repo, "alice")

	user, err := g.Authenticate(ctx, tg.token(t, alice.Id))
	assert.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	var authErr *AuthError
	_, err = g.Authenticate(ctx, "")
	assert.ErrorAs(t, err, &authErr, "expected missing token to fail")

	_, err = g.Authenticate(ctx, "garbage")
	assert.ErrorAs(t, err, &authErr, "expected invalid token to fail")

	_, err = g.Authenticate(ctx, tg.token(t, 9999))
	assert.ErrorAs(t, err, &authErr, "expected unknown user to fail")

	assert.Equal(t, 0, tg.cs.sessions.Len(), "expected no session to be created")
}

func TestGateway_Authenticate_repositoryDown(t *testing.T) {
	db := &database.MockGoChatRepository{}
	db.On("GetAccountById", 1).Return(database.User{}, errors.New("connection refused"))

	cs := NewChatServer(testutil.TestLogger(t), db, nil, &noopStats{}, Options{})
	tokens := auth.NewTokenSigner(testSigningKey)
	g := NewGateway(cs, tokens, time.Second, nil, testutil.TestLogger(t))

	token, err := tokens.CreateToken(1, time.Minute)
	require.NoError(t, err)

	var persistErr *PersistenceError
	_, err = g.Authenticate(context.Background(), token)
	assert.ErrorAs(t, err, &persistErr)
}

func TestGateway_bearerToken(t *testing.T) {
	tg := newTestGateway(t, time.Second)
	alice := testutil.CreateTestUser(t, tg.repo, "alice")

	conn, _, err := tg.dial(t, http.Header{"Authorization": {"Bearer " + tg.token(t, alice.Id)}})
	require.NoError(t, err)

	var payload struct {
		User struct {
			Id       int    `json:"id"`
			Username string `json:"username"`
			Email    string `json:"email_address"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, EventAuthenticated), &payload))
	assert.Equal(t, alice.Id, payload.User.Id)
	assert.Equal(t, "alice", payload.User.Username)
	assert.Empty(t, payload.User.Email, "expected only the public projection")
}

func TestGateway_invalidBearerTokenIsRejected(t *testing.T) {
	tg := newTestGateway(t, time.Second)

	_, resp, err := tg.dial(t, http.Header{"Authorization": {"Bearer garbage"}})
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Equal(t, 0, tg.cs.sessions.Len())
}

func TestGateway_authFrame(t *testing.T) {
	tg := newTestGateway(t, time.Second)
	alice := testutil.CreateTestUser(t, tg.repo, "alice")

	conn, _, err := tg.dial(t, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": EventAuth,
		"data":  map[string]string{"token": tg.token(t, alice.Id)},
	}))
	readEvent(t, conn, EventAuthenticated)
}

func TestGateway_authFailureClosesConnection(t *testing.T) {
	tcases := []struct {
		name  string
		frame any
	}{
		{name: "invalid token", frame: map[string]any{"event": EventAuth, "data": map[string]string{"token": "garbage"}}},
		{name: "not an auth frame", frame: map[string]any{"event": EventJoinRoom, "data": map[string]string{"roomId": "general"}}},
		{name: "no auth frame", frame: nil},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tg := newTestGateway(t, 100*time.Millisecond)

			conn, _, err := tg.dial(t, nil)
			require.NoError(t, err)

			if tc.frame != nil {
				require.NoError(t, conn.WriteJSON(tc.frame))
			}

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err = conn.ReadMessage()

			var closeErr *websocket.CloseError
			if assert.ErrorAs(t, err, &closeErr) {
				assert.Equal(t, CloseAuthFailed, closeErr.Code)
				assert.Equal(t, "authentication error", closeErr.Text)
			}
			assert.Equal(t, 0, tg.cs.sessions.Len(), "expected no session to be created")
		})
	}
}

func TestGateway_repositoryDownIsNotAnAuthFailure(t *testing.T) {
	db := &database.MockGoChatRepository{}
	db.On("GetAccountById", 1).Return(database.User{}, errors.New("connection refused"))

	cs := NewChatServer(testutil.TestLogger(t), db, nil, &noopStats{}, Options{})
	tokens := auth.NewTokenSigner(testSigningKey)
	tg := &testGateway{cs: cs, tokens: tokens}
	tg.srv = httptest.NewServer(NewGateway(cs, tokens, time.Second, nil, testutil.TestLogger(t)))
	t.Cleanup(tg.srv.Close)

	t.Run("bearer token", func(t *testing.T) {
		_, resp, err := tg.dial(t, http.Header{"Authorization": {"Bearer " + tg.token(t, 1)}})
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		}
	})

	t.Run("auth frame", func(t *testing.T) {
		conn, _, err := tg.dial(t, nil)
		require.NoError(t, err)

		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": EventAuth,
			"data":  map[string]string{"token": tg.token(t, 1)},
		}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()

		var closeErr *websocket.CloseError
		if assert.ErrorAs(t, err, &closeErr) {
			assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
			assert.Equal(t, "service unavailable", closeErr.Text)
		}
	})

	assert.Equal(t, 0, cs.sessions.Len(), "expected no session to be created")
}

func Test_closeReason(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code int
		text string
	}{
		{name: "bad credentials", err: &AuthError{Err: auth.ErrMissingToken}, code: CloseAuthFailed, text: "authentication error"},
		{name: "repository down", err: &PersistenceError{Op: "get account", Err: errors.New("connection refused")}, code: websocket.CloseTryAgainLater, text: "service unavailable"},
		{name: "wrapped repository error", err: fmt.Errorf("handshake: %w", &PersistenceError{Op: "get account", Err: context.DeadlineExceeded}), code: websocket.CloseTryAgainLater, text: "service unavailable"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			code, text := closeReason(tc.err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.text, text)
		})
	}
}

func TestGateway_scenario(t *testing.T) {
	tg := newTestGateway(t, time.Second)
	a := testutil.CreateTestUser(t, tg.repo, "A")
	b := testutil.CreateTestUser(t, tg.repo, "B")

	connA, _, err := tg.dial(t, http.Header{"Authorization": {"Bearer " + tg.token(t, a.Id)}})
	require.NoError(t, err)
	readEvent(t, connA, EventAuthenticated)

	connB, _, err := tg.dial(t, http.Header{"Authorization": {"Bearer " + tg.token(t, b.Id)}})
	require.NoError(t, err)
	readEvent(t, connB, EventAuthenticated)

	require.NoError(t, connA.WriteJSON(map[string]any{"id": 1, "event": EventJoinRoom, "data": map[string]string{"roomId": "general"}}))
	readEvent(t, connA, EventResponse)

	require.NoError(t, connB.WriteJSON(map[string]any{"id": 1, "event": EventJoinRoom, "data": map[string]string{"roomId": "general"}}))
	readEvent(t, connB, EventResponse)

	require.NoError(t, connA.WriteJSON(map[string]any{"id": 2, "event": EventSendMessage, "data": map[string]string{"roomId": "general", "text": "hello"}}))

	var msg struct {
		Text   string `json:"text"`
		RoomId string `json:"roomId"`
		Author struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, connB, EventNewMessage), &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "A", msg.Author.Username)
	assert.Equal(t, "general", msg.RoomId)

	require.NoError(t, connB.WriteJSON(map[string]any{"id": 2, "event": EventSendMessage, "data": map[string]string{"roomId": "random", "text": "hi"}}))

	var resp ResponsePayload
	require.NoError(t, json.Unmarshal(readEvent(t, connB, EventResponse), &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Code, "expected cross room messages to be rejected")

	connA.Close()

	var occupants OccupantsPayload
	require.NoError(t, json.Unmarshal(readEvent(t, connB, EventRoomOccupants), &occupants))
	if assert.Len(t, occupants.Occupants, 1) {
		assert.Equal(t, "B", occupants.Occupants[0].Username)
	}
}

type noopStats struct{}

func (noopStats) Incr(string)           {}
func (noopStats) Decr(string)           {}
func (noopStats) RegisterMetric(string) {}
