package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatrooms/internal/auth"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/types"
)

const (
	// CloseAuthFailed is the close code sent when a connection fails to
	// authenticate.
	CloseAuthFailed = 4401

	TokenCookieKey = "token"
)

// Gateway authenticates websocket connections and hands them to the chat
// server.
type Gateway struct {
	cs          *ChatServer
	tokens      *auth.TokenSigner
	authTimeout time.Duration
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

func NewGateway(cs *ChatServer, tokens *auth.TokenSigner, authTimeout time.Duration, allowedOrigins []string, log zerolog.Logger) *Gateway {
	return &Gateway{
		cs:          cs,
		tokens:      tokens,
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.With().Str("component", "gateway").Logger(),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, origin) || slices.Contains(allowed, "*")
	}
}

// TokenFromRequest returns the bearer token of the request, falling back to
// the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if cookie, err := r.Cookie(TokenCookieKey); err == nil {
		return cookie.Value
	}

	return ""
}

// Authenticate resolves a signed token to the user it was issued for.
func (g *Gateway) Authenticate(ctx context.Context, token string) (types.User, error) {
	userId, err := g.tokens.VerifyToken(token)
	if err != nil {
		return types.User{}, &AuthError{Err: err}
	}

	user, err := g.cs.db.GetAccountById(ctx, userId)
	if errors.Is(err, database.ErrNotFound) {
		return types.User{}, &AuthError{Err: errors.New("unknown user")}
	}
	if err != nil {
		return types.User{}, &PersistenceError{Op: "get account", Err: err}
	}

	return ToUser(user), nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)

	var (
		user types.User
		err  error
	)
	if token != "" {
		ctx, cancel := context.WithTimeout(r.Context(), g.authTimeout)
		user, err = g.Authenticate(ctx, token)
		cancel()
		if err != nil {
			g.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("rejected connection")
			http.Error(w, strings.ToLower(http.StatusText(StatusCode(err))), StatusCode(err))
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if token == "" {
		user, err = g.handshake(conn)
		if err != nil {
			g.log.Info().Err(err).Str("remote", r.RemoteAddr).Msg("rejected connection")
			rejectConn(conn, err)
			return
		}
	}

	s := g.cs.Connect(user.Public())
	s.queueMessage(newAuthenticatedMessage(user.Public(), user.CurrentRoomId))

	c := NewClient(s, conn, g.cs)
	go c.Write()
	go c.Read()
}

// handshake waits for an auth frame on a connection that carried no token.
func (g *Gateway) handshake(conn *websocket.Conn) (types.User, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(g.authTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return types.User{}, &AuthError{Err: err}
	}

	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event != EventAuth {
		return types.User{}, &AuthError{Err: auth.ErrMissingToken}
	}

	var p AuthPayload
	if err := msg.decode(&p); err != nil {
		return types.User{}, &AuthError{Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.authTimeout)
	defer cancel()

	return g.Authenticate(ctx, p.Token)
}

// closeReason picks the close frame for a failed handshake. Only credential
// failures get CloseAuthFailed.
func closeReason(err error) (int, string) {
	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		return websocket.CloseTryAgainLater, "service unavailable"
	}
	return CloseAuthFailed, "authentication error"
}

func rejectConn(conn *websocket.Conn, err error) {
	code, text := closeReason(err)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
	conn.Close()
}

// Connect registers a new session for an authenticated user.
func (cs *ChatServer) Connect(user types.PublicUser) *Session {
	s := cs.sessions.Register(uuid.NewString(), user, cs.log)
	cs.stats.Incr(metricConnectedClients)
	s.log.Info().Str("username", user.Username).Msg("session connected")

	return s
}

func ToUser(u database.User) types.User {
	return types.User{
		Id:            u.Id,
		Username:      u.Username,
		EmailAddress:  u.EmailAddress,
		Password:      u.PasswordHash,
		Bio:           u.Bio,
		Avatar:        u.Avatar,
		Role:          types.Role(u.Role),
		CurrentRoomId: u.CurrentRoomId,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
