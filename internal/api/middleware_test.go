package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/npezzotti/go-chatrooms/internal/config"
	"github.com/npezzotti/go-chatrooms/internal/server"
	"github.com/npezzotti/go-chatrooms/internal/testutil"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: zerolog.New(buf),
	}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_accessLog(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{log: zerolog.New(buf)}

	h := middleware.RequestID(app.accessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/api/rooms"`)
	assert.Contains(t, buf.String(), `"request_id":"`)
}

func Test_authMiddleware(t *testing.T) {
	app := NewGoChatApp(
		http.NewServeMux(),
		testutil.TestLogger(t),
		nil,
		nil,
		nil,
		nil,
		&config.Config{
			SigningKey: []byte("test-signing-key"),
		},
	)

	var gotUserId int
	next := func(w http.ResponseWriter, r *http.Request) {
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	token, err := app.tokens.CreateToken(42, time.Hour)
	assert.NoError(t, err)
	expired, err := app.tokens.CreateToken(42, -time.Hour)
	assert.NoError(t, err)

	tcases := []struct {
		name       string
		setup      func(r *http.Request)
		statusCode int
	}{
		{
			name:       "bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			statusCode: http.StatusOK,
		},
		{
			name:       "cookie token",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: server.TokenCookieKey, Value: token}) },
			statusCode: http.StatusOK,
		},
		{
			name:       "missing token",
			setup:      func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-token") },
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			gotUserId = 0
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)

			app.authMiddleware(next)(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, 42, gotUserId, "expected user id in request context")
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
			} else {
				assert.Zero(t, gotUserId, "expected next handler not to be called")
			}
		})
	}
}
