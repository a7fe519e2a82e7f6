package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rjantos/go-session-gate/cache"
	"github.com/rjantos/go-session-gate/server"
	"github.com/rjantos/go-session-gate/session"
	"github.com/stretchr/testify/require"
)

const cookieName = "gate_session"

func newCacheFactory(t *testing.T) (session.Factory, cache.Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.NewRedisStore(client)
	factory := session.CacheFactory(session.CacheConfig{Namespace: "gate", TTL: 300 * time.Second}, store)
	return factory, store, mr
}

// storedSession seeds a valid session in the cache and returns its token.
func storedSession(t *testing.T, store cache.Store, value map[string]any) string {
	t.Helper()

	s, err := session.NewCacheSession(context.Background(), "", session.CacheConfig{Namespace: "gate", TTL: 300 * time.Second}, store)
	require.NoError(t, err)
	s.New(value)
	token, err := s.Encode(context.Background())
	require.NoError(t, err)
	return token
}

func TestCookieMiddlewareNoCookieInvalidSession(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	invoked := false
	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) { invoked = true })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/home", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, invoked, "downstream handler must not run")
}

func TestCookieMiddlewareRedirectPolicy(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName},
		server.WithInvalidResponder(server.InvalidRedirect("/login")))
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/home", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRedirectPolicyWithoutPathIsUnauthorized(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName},
		server.WithInvalidResponder(server.InvalidRedirect("")))
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/home", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieMiddlewareValidSessionDispatches(t *testing.T) {
	factory, store, _ := newCacheFactory(t)
	token := storedSession(t, store, map[string]any{"login": "alice"})

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {
		sess := server.SessionFromContext(r.Context())
		require.NotNil(t, sess)
		login, ok := sess.Get("login")
		require.True(t, ok)
		require.Equal(t, "alice", login)
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	// Sessions decoded from a token carry refresh=false, so nothing is
	// written back.
	require.Empty(t, rec.Result().Cookies())
}

func TestCookieMiddlewarePersistsRefreshedSession(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName},
		server.WithIgnoredPaths("/login"))
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {
		sess := server.SessionFromContext(r.Context())
		sess.New(map[string]any{"login": "alice"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Host = "auth.example.org"
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	cookie := cookies[0]
	require.Equal(t, cookieName, cookie.Name)
	require.NotEmpty(t, cookie.Value)
	require.True(t, cookie.Secure)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, "/", cookie.Path)
	require.Equal(t, "auth.example.org", cookie.Domain)
	require.False(t, cookie.Expires.IsZero())
}

func TestIgnoredPathSkipsValidation(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	invoked := false
	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName},
		server.WithIgnoredPaths("/public/*"))
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
		// Even on ignored paths an anonymous session is constructed.
		require.NotNil(t, server.SessionFromContext(r.Context()))
	})

	// Glob matching is case-insensitive.
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/Public/style.css", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, invoked)
}

func TestHeaderMiddlewareGarbageBearer(t *testing.T) {
	factory, err := session.JWTFactory(session.JWTConfig{SecretKey: "jwt-secret"})
	require.NoError(t, err)

	invoked := false
	mw := server.NewSessionMiddleware(factory, server.HeaderTransport{})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) { invoked = true })

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Authorization", "Bearer garbage-not-a-token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, invoked, "downstream handler must not run")
}

func TestHeaderMiddlewareRepeatedHeader(t *testing.T) {
	factory, err := session.JWTFactory(session.JWTConfig{SecretKey: "jwt-secret"})
	require.NoError(t, err)

	mw := server.NewSessionMiddleware(factory, server.HeaderTransport{})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Add("Authorization", "Bearer one")
	req.Header.Add("Authorization", "Bearer two")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeaderMiddlewareValidBearerNeverWritesBack(t *testing.T) {
	jwtConfig := session.JWTConfig{SecretKey: "jwt-secret", TTL: 2 * time.Minute}
	factory, err := session.JWTFactory(jwtConfig)
	require.NoError(t, err)

	seed, err := session.NewJWTSession(context.Background(), "", jwtConfig)
	require.NoError(t, err)
	seed.New(map[string]any{"login": "alice"})
	signed, err := seed.Encode(context.Background())
	require.NoError(t, err)

	mw := server.NewSessionMiddleware(factory, server.HeaderTransport{})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {
		sess := server.SessionFromContext(r.Context())
		login, ok := sess.Get("login")
		require.True(t, ok)
		require.Equal(t, "alice", login)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Result().Cookies())
	require.Empty(t, rec.Header().Get("Authorization"))
}

func TestMiddlewarePanicBoundary(t *testing.T) {
	factory, _, _ := newCacheFactory(t)

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName},
		server.WithIgnoredPaths("/*"))
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {
		panic("downstream blew up")
	})

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddlewareBackendFailureIsBadRequest(t *testing.T) {
	factory, _, mr := newCacheFactory(t)
	mr.Close()

	mw := server.NewSessionMiddleware(factory, server.CookieTransport{Name: cookieName})
	handler := mw.Handler(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: "some-token"})
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "invalid session token"))
}
