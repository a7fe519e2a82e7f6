package server

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rjantos/go-session-gate/session"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySession stores the request's session object
const ContextKeySession ContextKey = "session"

// errMalformedTransport marks a request whose token carrier itself is broken
// (e.g. repeated Authorization headers).
var errMalformedTransport = pkgerrors.New("malformed session transport")

// Transport extracts the raw session token from a request and, after the
// downstream handler ran, persists the session into the response.
type Transport interface {
	// Extract returns the raw token, or "" when the request carries none.
	Extract(r *http.Request) (string, error)

	// Attach persists the session into the response headers. Called only for
	// non-null sessions, before the first byte of the body is written.
	Attach(ctx context.Context, w http.ResponseWriter, r *http.Request, s session.Session) error
}

// CookieTransport carries the token in a named cookie. The cookie is
// (re)written only for sessions marked for refresh.
type CookieTransport struct {
	Name string
}

var _ Transport = CookieTransport{}

func (t CookieTransport) Extract(r *http.Request) (string, error) {
	cookie, err := r.Cookie(t.Name)
	if err != nil { // only http.ErrNoCookie possible here
		return "", nil
	}
	return cookie.Value, nil
}

func (t CookieTransport) Attach(ctx context.Context, w http.ResponseWriter, r *http.Request, s session.Session) error {
	if !s.Refresh() {
		return nil
	}
	token, err := s.Encode(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "[CookieTransport.Attach] encode session")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     t.Name,
		Value:    token,
		Expires:  time.Now().Add(s.TTL()),
		Path:     "/",
		Domain:   requestHost(r),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// HeaderTransport carries the token in the Authorization header. The token is
// client managed and never written back.
type HeaderTransport struct{}

var _ Transport = HeaderTransport{}

func (HeaderTransport) Extract(r *http.Request) (string, error) {
	values := r.Header.Values("Authorization")
	if len(values) > 1 {
		return "", pkgerrors.Wrap(errMalformedTransport, "repeated authorization header")
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

func (HeaderTransport) Attach(context.Context, http.ResponseWriter, *http.Request, session.Session) error {
	return nil
}

// InvalidResponder answers a request whose session did not validate.
type InvalidResponder func(w http.ResponseWriter, r *http.Request)

// InvalidBadRequest rejects with a plain 400. The default policy.
func InvalidBadRequest() InvalidResponder {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Bad Request - Invalid session", http.StatusBadRequest)
	}
}

// InvalidRedirect sends the client to loginPath (typically the login page),
// falling back to 401 when no path is configured.
func InvalidRedirect(loginPath string) InvalidResponder {
	return func(w http.ResponseWriter, r *http.Request) {
		if loginPath == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, loginPath, http.StatusFound)
	}
}

// SessionMiddleware runs the per-request session pipeline:
// extract the token, construct and validate the session, dispatch downstream
// with the session in the request context, persist on the way out.
type SessionMiddleware struct {
	factory      session.Factory
	transport    Transport
	ignoredPaths []string // lowercase globs, matched against the request path
	invalid      InvalidResponder
}

// SessionMiddlewareOption modifies a SessionMiddleware during construction.
type SessionMiddlewareOption func(*SessionMiddleware)

// WithIgnoredPaths sets path globs (case-insensitive) for which the session
// is constructed anonymously and never validated, e.g. the login page itself.
func WithIgnoredPaths(globs ...string) SessionMiddlewareOption {
	return func(m *SessionMiddleware) {
		for _, g := range globs {
			m.ignoredPaths = append(m.ignoredPaths, strings.ToLower(g))
		}
	}
}

// WithInvalidResponder replaces the default 400 policy for invalid sessions.
func WithInvalidResponder(responder InvalidResponder) SessionMiddlewareOption {
	return func(m *SessionMiddleware) {
		m.invalid = responder
	}
}

// NewSessionMiddleware builds the middleware for one session variant and one
// transport, both chosen at composition time.
func NewSessionMiddleware(factory session.Factory, transport Transport, options ...SessionMiddlewareOption) *SessionMiddleware {
	m := &SessionMiddleware{
		factory:   factory,
		transport: transport,
		invalid:   InvalidBadRequest(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Handler wraps next with the session pipeline. Nothing may panic through to
// the HTTP server: any escaped failure is logged and answered with a 500.
func (m *SessionMiddleware) Handler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("session middleware: unhandled failure")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		ignore := m.ignored(r.URL.Path)

		token, err := m.transport.Extract(r)
		if err != nil {
			http.Error(w, "Bad Request - invalid session token", http.StatusBadRequest)
			return
		}
		if ignore {
			token = ""
		}

		sess, err := m.factory(r.Context(), token)
		if err != nil {
			http.Error(w, "Bad Request - invalid session token", http.StatusBadRequest)
			return
		}

		if !ignore && !sess.Validate() {
			m.invalid(w, r)
			return
		}

		// The cookie must be on the wire before the first body byte, but the
		// downstream handler may still mutate the session via New. Persist
		// lazily, right before the response starts.
		pw := &persistingWriter{
			ResponseWriter: w,
			persist: func() {
				if sess.Null() {
					return
				}
				if err := m.transport.Attach(r.Context(), w, r, sess); err != nil {
					log.Error().Err(err).Str("path", r.URL.Path).Msg("session middleware: persist failed")
				}
			},
		}

		next(pw, r.WithContext(context.WithValue(r.Context(), ContextKeySession, sess)))
		pw.flushHeader()
	}
}

func (m *SessionMiddleware) ignored(requestPath string) bool {
	lower := strings.ToLower(requestPath)
	for _, glob := range m.ignoredPaths {
		if ok, err := path.Match(glob, lower); err == nil && ok {
			return true
		}
	}
	return false
}

// SessionFromContext returns the session attached by the middleware, or nil
// when the handler runs outside the session pipeline.
func SessionFromContext(ctx context.Context) session.Session {
	sess, _ := ctx.Value(ContextKeySession).(session.Session)
	return sess
}

// persistingWriter delays the persist step until the response actually
// starts, so session mutations made by the handler are picked up.
type persistingWriter struct {
	http.ResponseWriter
	persist     func()
	wroteHeader bool
}

func (w *persistingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.persist()
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *persistingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// flushHeader covers handlers that finish without writing anything.
func (w *persistingWriter) flushHeader() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}
