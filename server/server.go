// Package server wires the session transport middleware and the login flow
// into an HTTP surface.
package server

import (
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rjantos/go-session-gate/cache"
	"github.com/rjantos/go-session-gate/directory"
	"github.com/rjantos/go-session-gate/internal/config"
	"github.com/rjantos/go-session-gate/ratelimit"
	"github.com/rjantos/go-session-gate/session"
	"github.com/rs/zerolog/log"
)

// Route path constants
const (
	RouteLogin = "/login"
	RouteHome  = "/home"
)

type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string
	config config.Config

	sessions  session.Factory
	transport Transport
	login     *LoginController
}

// New assembles the full pipeline: cache-backed cookie sessions, the
// per-IP rate limiter and the two-stage login controller, all sharing the
// injected cache store and directory.
func New(cfg config.Config, dir directory.Directory, store cache.Store, renderer Renderer) (*Server, error) {
	factory, transport, err := sessionComponents(cfg, store)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Server.New] session setup")
	}

	limiter := ratelimit.New(store, cfg.GetCacheNamespace(), ratelimit.Config{
		Enabled: cfg.GetRateLimitEnabled(),
		Max:     cfg.GetRateLimitMax(),
		Window:  cfg.GetRateLimitWindow(),
	})

	login, err := NewLoginController(LoginConfig{
		PasswordTemplate:  cfg.GetLoginPasswordTemplate(),
		TOTPTemplate:      cfg.GetLoginTOTPTemplate(),
		TargetPath:        cfg.GetLoginTargetPath(),
		DirectoryTimeout:  cfg.GetDirectoryTimeout(),
		Use2FA:            cfg.GetUse2FA(),
		TokenSecretKey:    cfg.GetLoginTokenSecretKey(),
		Languages:         cfg.GetLanguages(),
		DefaultLanguage:   cfg.GetDefaultLanguage(),
		LanguageOverrides: cfg.GetLanguageOverrides(),
		TFA: TFAConfig{
			SecretLength: cfg.GetTFASecretLength(),
			Period:       uint(cfg.GetTFAPeriod()),
			Digits:       cfg.GetTFADigits(),
			Algorithm:    cfg.GetTFAAlgorithm(),
		},
	}, dir, limiter, renderer)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Server.New] login controller")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		sessions:  factory,
		transport: transport,
		login:     login,
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

// sessionComponents picks the session variant and its matching transport.
// Cache-backed sessions travel in a cookie; JWT sessions are client managed
// and travel in the Authorization header.
func sessionComponents(cfg config.Config, store cache.Store) (session.Factory, Transport, error) {
	switch variant := cfg.GetSessionVariant(); variant {
	case "jwt":
		factory, err := session.JWTFactory(session.JWTConfig{
			Autorefresh: cfg.GetSessionAutorefresh(),
			TTL:         cfg.GetJWTSessionTTL(),
			SecretKey:   cfg.GetJWTSecretKey(),
			Algorithm:   cfg.GetJWTAlgorithm(),
		})
		if err != nil {
			return nil, nil, err
		}
		return factory, HeaderTransport{}, nil
	case "cache":
		factory := session.CacheFactory(session.CacheConfig{
			Autorefresh: cfg.GetSessionAutorefresh(),
			TTL:         cfg.GetSessionTTL(),
			Namespace:   cfg.GetCacheNamespace(),
		}, store)
		return factory, CookieTransport{Name: cfg.GetSessionCookieName()}, nil
	default:
		return nil, nil, pkgerrors.Errorf("unknown session variant %q", variant)
	}
}

func (s *Server) initRoutes() {
	// The login routes run inside the session pipeline so a completed login
	// can establish its session, but their own path skips validation.
	sessionMW := NewSessionMiddleware(s.sessions, s.transport,
		WithIgnoredPaths(RouteLogin),
		WithInvalidResponder(InvalidRedirect(RouteLogin)),
	)

	s.RegisterRouteFunc("GET "+RouteLogin,
		ChainMiddleware(s.login.LoginPageHandler(), s.LoggingMiddleware, NoCacheMiddleware, sessionMW.Handler))
	s.RegisterRouteFunc("POST "+RouteLogin,
		ChainMiddleware(s.login.LoginActionHandler(), s.LoggingMiddleware, NoCacheMiddleware, sessionMW.Handler))

	s.RegisterRouteFunc("GET "+RouteHome,
		ChainMiddleware(s.HomeHandler(), s.LoggingMiddleware, NoCacheMiddleware, sessionMW.Handler))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		log.Info().Str("route", route).Msg("registered route")
	}
}

// HomeHandler is the post-login landing page: it only proves the session
// round trip by echoing who is logged in.
func (s *Server) HomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		login, _ := sess.Get("login")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "logged in as %v\n", login)
	}
}

// ChainMiddleware applies mw to routeFunction in reverse order, so the first
// listed middleware is the outermost.
func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env != "DEV" {
			next(w, r)
			return
		}
		start := time.Now()
		next(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	}
}

// NoCacheMiddleware prevents browsers and proxies from caching responses.
// Login pages carry one-time tokens and must never be replayed from cache.
func NoCacheMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next(w, r)
	}
}
