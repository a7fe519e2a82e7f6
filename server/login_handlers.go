package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	pkgerrors "github.com/pkg/errors"
	"github.com/rjantos/go-session-gate/cryptotoken"
	"github.com/rjantos/go-session-gate/directory"
	"github.com/rjantos/go-session-gate/ratelimit"
	"github.com/rs/zerolog/log"
)

// Form field and render data keys shared with the templates.
const (
	fieldLogin      = "login"
	fieldPassword   = "password"
	fieldLang       = "lang"
	fieldTOTPCode   = "tfa_totp_code"
	fieldLoginToken = "login_token"

	dataError            = "error"
	dataAttemptsWarning  = "login_attempts_warning"
	defaultPasswordTmpl  = "login-password.html"
	defaultTOTPTmpl      = "login-2fa-totp.html"
	defaultTargetPath    = "/home"
	defaultDirTimeout    = 5 * time.Second
	defaultTFASecretSize = 16
)

// Error codes rendered back into the login form.
const (
	errCodeInvalidInput    = "invalid_input"
	errCodeInvalidLogin    = "invalid_login"
	errCodeInvalidTFACode  = "invalid_tfa_code"
	errCodeInvalidTFASecr  = "invalid_tfa_secret"
	errCodeLDAPUnavailable = "ldap_unavailable"
)

// Branded error page templates.
const (
	errorTemplate400 = "http-errors/http-400-invalid.html"
	errorTemplate429 = "http-errors/http-429-too-many-requests.html"
	errorTemplate500 = "http-errors/http-500-server-error.html"
)

// TFAConfig controls verification of the TOTP second factor.
type TFAConfig struct {
	// SecretLength is the required minimum length of the shared secret; the
	// secret is also truncated to this length before verification. On top of
	// the minimum, the full secret length must be a power of two. That check
	// predates this implementation and has no recorded rationale; it is kept
	// as is for compatibility, do not generalize it.
	SecretLength int
	Period       uint   // code period in seconds, default 30
	Digits       int    // code digits, default 6
	Algorithm    string // sha1 (default), sha256 or sha512
}

// LoginConfig is the explicit configuration of one login flow instance.
type LoginConfig struct {
	PasswordTemplate  string // stage-1 form template
	TOTPTemplate      string // stage-2 challenge template
	TargetPath        string // redirect target after a completed login
	Use2FA            bool
	TokenSecretKey    string // carry-token encryption key, required with Use2FA
	Languages         []string
	DefaultLanguage   string
	LanguageOverrides map[string]string // post-negotiation substitutions
	TFA               TFAConfig
	DirectoryTimeout  time.Duration
}

// LoginController drives the two-stage login protocol. Stage 1 checks the
// password against the directory; stage 2, when enabled, verifies a TOTP code
// while the stage-1 credentials round-trip through the client inside an
// encrypted carry-token, so no server-side state is held between stages.
type LoginController struct {
	config   LoginConfig
	dir      directory.Directory
	limiter  *ratelimit.Limiter
	renderer Renderer
}

// NewLoginController validates deployment configuration once so a broken
// setup fails at composition time, not on the first login.
func NewLoginController(config LoginConfig, dir directory.Directory, limiter *ratelimit.Limiter, renderer Renderer) (*LoginController, error) {
	if dir == nil {
		return nil, pkgerrors.New("[NewLoginController] directory is required")
	}
	if limiter == nil {
		return nil, pkgerrors.New("[NewLoginController] rate limiter is required")
	}
	if renderer == nil {
		return nil, pkgerrors.New("[NewLoginController] renderer is required")
	}
	if config.Use2FA && config.TokenSecretKey == "" {
		return nil, pkgerrors.New("[NewLoginController] token secret key is required with 2FA")
	}

	if config.PasswordTemplate == "" {
		config.PasswordTemplate = defaultPasswordTmpl
	}
	if config.TOTPTemplate == "" {
		config.TOTPTemplate = defaultTOTPTmpl
	}
	if config.TargetPath == "" {
		config.TargetPath = defaultTargetPath
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{config.DefaultLanguage}
	}
	if config.DirectoryTimeout == 0 {
		config.DirectoryTimeout = defaultDirTimeout
	}
	if config.TFA.SecretLength == 0 {
		config.TFA.SecretLength = defaultTFASecretSize
	}
	if config.TFA.Period == 0 {
		config.TFA.Period = 30
	}
	if config.TFA.Digits == 0 {
		config.TFA.Digits = 6
	}
	if _, err := totpAlgorithm(config.TFA.Algorithm); err != nil {
		return nil, err
	}

	return &LoginController{config: config, dir: dir, limiter: limiter, renderer: renderer}, nil
}

// LoginPageHandler renders the password form (GET /login).
func (c *LoginController) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		banned, err := c.limiter.TooMany(r.Context(), ip)
		if err != nil {
			c.unexpected(w, r, err, "")
			return
		}
		if banned {
			c.respondError(w, http.StatusTooManyRequests, errorTemplate429)
			return
		}

		lang := r.URL.Query().Get(fieldLang)
		if lang == "" {
			lang = negotiateLanguage(c.config.Languages, r.Header.Get("Accept-Language"), c.config.DefaultLanguage, c.config.LanguageOverrides)
		}

		c.renderForm(w, r, c.config.PasswordTemplate, map[string]any{
			fieldLang:           lang,
			dataAttemptsWarning: c.attemptsWarning(r),
		})
	}
}

// LoginActionHandler handles both stages of the login form (POST /login).
func (c *LoginController) LoginActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		banned, err := c.limiter.TooMany(r.Context(), ip)
		if err != nil {
			c.unexpected(w, r, err, "")
			return
		}
		if banned {
			c.respondError(w, http.StatusTooManyRequests, errorTemplate429)
			return
		}

		if err := r.ParseForm(); err != nil {
			c.respondError(w, http.StatusBadRequest, errorTemplate400)
			return
		}
		post := r.PostForm

		switch {
		case post.Has(fieldLogin) && post.Has(fieldPassword):
			c.stage1(w, r)
		case c.config.Use2FA && post.Has(fieldTOTPCode) && post.Has(fieldLoginToken):
			c.stage2(w, r)
		default:
			// A post matching neither stage is a malformed request.
			c.respondError(w, http.StatusBadRequest, errorTemplate400)
		}
	}
}

// stage1 checks the submitted login and password against the directory and
// either completes the login (no 2FA) or issues the TOTP challenge.
func (c *LoginController) stage1(w http.ResponseWriter, r *http.Request) {
	post := r.PostForm
	lang := c.lang(r, post.Get(fieldLang))
	login := post.Get(fieldLogin)
	password := post.Get(fieldPassword)
	ip := clientIP(r)

	if !validateInput(login, password) {
		c.failedAttempt(w, r, c.config.PasswordTemplate, errCodeInvalidInput, map[string]any{fieldLang: lang})
		return
	}

	user, err := c.authenticate(r, login, password)
	if pkgerrors.Is(err, directory.ErrInvalidCredentials) {
		log.Info().Str("login", login).Str("ip", ip).Msg("login rejected by directory")
		c.failedAttempt(w, r, c.config.PasswordTemplate, errCodeInvalidLogin, map[string]any{fieldLang: lang})
		return
	}
	if err != nil {
		c.directoryFailure(w, r, lang, login, err)
		return
	}

	log.Info().Str("login", login).Str("ip", ip).Msg("login authorization")

	if c.config.Use2FA && !c.validTFASecret(user.TOTPSecret()) {
		dn, _ := user.Get(directory.FieldDN)
		log.Warn().Str("login", login).Str("user_dn", dn).Msg("invalid 2FA secret")
		// No counter increment here: a misprovisioned account is not a
		// credential failure by the client.
		c.renderForm(w, r, c.config.PasswordTemplate, map[string]any{
			fieldLang:           lang,
			dataError:           errCodeInvalidTFASecr,
			dataAttemptsWarning: c.attemptsWarning(r),
		})
		return
	}

	// First factor passed.
	if err := c.limiter.Reset(r.Context(), ip); err != nil {
		c.unexpected(w, r, err, login)
		return
	}

	if !c.config.Use2FA {
		sess := SessionFromContext(r.Context())
		if sess == nil {
			c.unexpected(w, r, pkgerrors.New("no session attached to login request"), login)
			return
		}
		sess.New(sessionValue(user, login))
		log.Info().Str("login", login).Str("2FA-mode", "none").Str("ip", ip).Msg("login successful")
		http.Redirect(w, r, c.config.TargetPath, http.StatusFound)
		return
	}

	// Hand the submitted credentials back to the client, opaque and tamper
	// evident, so stage 2 needs no server-side state.
	carry, err := cryptotoken.EncryptJSON(map[string]any{
		fieldLogin:    login,
		fieldPassword: password,
		fieldLang:     lang,
	}, c.config.TokenSecretKey)
	if err != nil {
		c.unexpected(w, r, err, login)
		return
	}

	c.renderForm(w, r, c.config.TOTPTemplate, map[string]any{
		fieldLang:           lang,
		fieldLoginToken:     carry,
		dataAttemptsWarning: c.attemptsWarning(r),
	})
}

// stage2 recovers the stage-1 credentials from the carry-token, re-checks
// them, verifies the TOTP code and establishes the session.
func (c *LoginController) stage2(w http.ResponseWriter, r *http.Request) {
	post := r.PostForm
	lang := c.lang(r, post.Get(fieldLang))
	carry := post.Get(fieldLoginToken)
	ip := clientIP(r)

	fields, err := cryptotoken.DecryptJSON(carry, c.config.TokenSecretKey)
	if err != nil {
		log.Warn().Str("ip", ip).Msg("undecodable carry token in 2FA stage")
		c.respondError(w, http.StatusBadRequest, errorTemplate400)
		return
	}
	login := stringField(fields, fieldLogin)
	password := stringField(fields, fieldPassword)

	user, err := c.authenticate(r, login, password)
	if pkgerrors.Is(err, directory.ErrInvalidCredentials) {
		// Carried credentials already passed stage 1, so a rejection here
		// means a key mismatch or something fishy. Anomaly, not a counted
		// failed attempt.
		log.Warn().Str("login", login).Str("ip", ip).Str("password", "****").Msg("invalid login authentication in 2FA stage")
		c.respondError(w, http.StatusBadRequest, errorTemplate400)
		return
	}
	if err != nil {
		c.directoryFailure(w, r, lang, login, err)
		return
	}

	if !c.validTFASecret(user.TOTPSecret()) {
		c.renderForm(w, r, c.config.PasswordTemplate, map[string]any{
			fieldLang:           lang,
			dataError:           errCodeInvalidTFASecr,
			dataAttemptsWarning: c.attemptsWarning(r),
		})
		return
	}

	valid, err := c.verifyTOTP(post.Get(fieldTOTPCode), user.TOTPSecret())
	if err != nil {
		c.unexpected(w, r, err, login)
		return
	}
	if !valid {
		c.failedAttempt(w, r, c.config.TOTPTemplate, errCodeInvalidTFACode, map[string]any{
			fieldLang:       lang,
			fieldLoginToken: carry,
		})
		return
	}

	sess := SessionFromContext(r.Context())
	if sess == nil {
		c.unexpected(w, r, pkgerrors.New("no session attached to login request"), login)
		return
	}
	sess.New(sessionValue(user, login))

	if err := c.limiter.Reset(r.Context(), ip); err != nil {
		c.unexpected(w, r, err, login)
		return
	}

	log.Info().Str("login", login).Str("2FA-mode", "TOTP/web").Str("ip", ip).Msg("login successful")
	http.Redirect(w, r, c.config.TargetPath, http.StatusFound)
}

// failedAttempt counts one failed attempt, bans with 429 when the limit is
// reached and otherwise re-renders the form with the given error code.
func (c *LoginController) failedAttempt(w http.ResponseWriter, r *http.Request, tmpl, errCode string, data map[string]any) {
	banned, err := c.limiter.TooManyWithIncrement(r.Context(), clientIP(r))
	if err != nil {
		c.unexpected(w, r, err, "")
		return
	}
	if banned {
		c.respondError(w, http.StatusTooManyRequests, errorTemplate429)
		return
	}

	data[dataError] = errCode
	data[dataAttemptsWarning] = c.attemptsWarning(r)
	c.renderForm(w, r, tmpl, data)
}

// directoryFailure distinguishes an unreachable directory (rendered as its
// own form state, no counter increment) from genuinely unexpected failures.
func (c *LoginController) directoryFailure(w http.ResponseWriter, r *http.Request, lang, login string, err error) {
	if pkgerrors.Is(err, directory.ErrUnavailable) {
		log.Error().Err(err).Str("login", login).Str("ip", clientIP(r)).Msg("directory unavailable in login processing")
		c.renderForm(w, r, c.config.PasswordTemplate, map[string]any{
			fieldLang: lang,
			dataError: errCodeLDAPUnavailable,
		})
		return
	}
	c.unexpected(w, r, err, login)
}

// unexpected is the terminal handler for anything uncaught. Credentials are
// never logged; only the login name identifies the request.
func (c *LoginController) unexpected(w http.ResponseWriter, r *http.Request, err error, login string) {
	log.Error().Err(err).Bool("critical", true).Str("login", login).Str("ip", clientIP(r)).Str("path", r.URL.Path).Msg("error in login processing")
	c.respondError(w, http.StatusInternalServerError, errorTemplate500)
}

func (c *LoginController) authenticate(r *http.Request, login, password string) (directory.User, error) {
	ctx, cancel := context.WithTimeout(r.Context(), c.config.DirectoryTimeout)
	defer cancel()

	user, err := c.dir.Authenticate(ctx, login, password)
	if err != nil && pkgerrors.Is(err, context.DeadlineExceeded) {
		return nil, directory.ErrUnavailable
	}
	return user, err
}

func (c *LoginController) validTFASecret(secret string) bool {
	n := len(secret)
	return n >= c.config.TFA.SecretLength && n&(n-1) == 0
}

func (c *LoginController) verifyTOTP(code, secret string) (bool, error) {
	algorithm, err := totpAlgorithm(c.config.TFA.Algorithm)
	if err != nil {
		return false, err
	}
	return totp.ValidateCustom(code, secret[:c.config.TFA.SecretLength], time.Now(), totp.ValidateOpts{
		Period:    c.config.TFA.Period,
		Digits:    otp.Digits(c.config.TFA.Digits),
		Algorithm: algorithm,
	})
}

func (c *LoginController) lang(r *http.Request, postLang string) string {
	if postLang != "" {
		return postLang
	}
	return negotiateLanguage(c.config.Languages, r.Header.Get("Accept-Language"), c.config.DefaultLanguage, c.config.LanguageOverrides)
}

func (c *LoginController) attemptsWarning(r *http.Request) bool {
	warn, err := c.limiter.Warning(r.Context(), clientIP(r))
	if err != nil {
		log.Warn().Err(err).Msg("cannot read login attempt counter")
		return false
	}
	return warn
}

func (c *LoginController) renderForm(w http.ResponseWriter, r *http.Request, tmpl string, data map[string]any) {
	if err := c.renderer.Render(w, http.StatusOK, tmpl, data); err != nil {
		log.Error().Err(err).Str("template", tmpl).Msg("failed to render login template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (c *LoginController) respondError(w http.ResponseWriter, status int, tmpl string) {
	if err := c.renderer.Render(w, status, tmpl, nil); err != nil {
		http.Error(w, http.StatusText(status), status)
	}
}

// validateInput applies the local form checks that need no directory round
// trip: both fields present and the login free of control characters.
func validateInput(login, password string) bool {
	if login == "" || password == "" || len(login) > 254 {
		return false
	}
	for _, c := range login {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

// sessionValue builds the payload of the freshly established session from
// the directory record. The shared secret never enters the session.
func sessionValue(user directory.User, login string) map[string]any {
	value := make(map[string]any, len(user)+1)
	for k, v := range user {
		if k == directory.FieldTOTPSecret {
			continue
		}
		value[k] = v
	}
	value[fieldLogin] = login
	return value
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func totpAlgorithm(name string) (otp.Algorithm, error) {
	switch name {
	case "", "sha1":
		return otp.AlgorithmSHA1, nil
	case "sha256":
		return otp.AlgorithmSHA256, nil
	case "sha512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, pkgerrors.Errorf("[server] unsupported TOTP algorithm %q", name)
	}
}
