package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-chatrooms/internal/auth"
	"github.com/npezzotti/go-chatrooms/internal/config"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/server"
)

type GoChatApp struct {
	log             zerolog.Logger
	db              database.GoChatRepository
	mux             *http.Server
	cs              *server.ChatServer
	tokens          *auth.TokenSigner
	secureCookies   bool
	generateShortId func() (string, error)
}

// NewGoChatApp registers the REST routes, the websocket endpoint and the
// metrics handler on mux.
func NewGoChatApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, gateway http.Handler, db database.GoChatRepository, metrics http.Handler, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:             logger.With().Str("component", "api").Logger(),
		db:              db,
		cs:              cs,
		tokens:          auth.NewTokenSigner(cfg.SigningKey),
		secureCookies:   !cfg.IsDevelopment(),
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/users/{id}", s.authMiddleware(s.getUser))
	mux.HandleFunc("PUT /api/users/{id}", s.authMiddleware(s.updateUser))
	mux.HandleFunc("PUT /api/users/{id}/current-room", s.authMiddleware(s.setCurrentRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.HandleFunc("PUT /api/rooms/{id}", s.authMiddleware(s.updateRoom))
	mux.HandleFunc("DELETE /api/rooms/{id}", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("GET /api/rooms/{id}/users", s.authMiddleware(s.roomUsers))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.postMessage))
	mux.HandleFunc("GET /api/messages/{roomId}", s.authMiddleware(s.getMessages))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))
	if gateway != nil {
		mux.Handle("GET /ws", gateway)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.accessLog(h)
	h = middleware.RequestID(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("starting server")
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
