// Package app holds the application services of the monitoring client: the
// session manager, the time-bucketed state store and the export use case.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"parkmon/internal/domain"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotAuthenticated indicates that an operation needs a logged in session.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrNoCodeToken indicates that ContinueLogin was called before InitiateLogin succeeded.
	ErrNoCodeToken = errors.New("no code token; start the login again")
)

const refreshKey = "refresh"

// DefaultAuthScheme is the Authorization scheme the monitoring API expects.
const DefaultAuthScheme = "JWT"

// AuthOptions tunes an AuthService. Zero values select the defaults.
type AuthOptions struct {
	MaxTokenAge    time.Duration
	Scheme         string
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	// OnChange is called after every state transition, outside the lock.
	OnChange func(domain.AuthState)
}

// AuthService is the session manager. It owns the login, refresh and logout
// flows and decorates outgoing requests while the session is authenticated.
type AuthService struct {
	api    domain.AuthAPI
	tokens domain.TokenStore
	opts   AuthOptions
	log    *slog.Logger

	mu    sync.Mutex
	state domain.AuthState

	// sf shares one in-flight refresh between every caller.
	sf singleflight.Group
}

// NewAuthService creates a session manager in the CHECKING_EXISTING_LOGIN state.
func NewAuthService(api domain.AuthAPI, tokens domain.TokenStore, opts AuthOptions) *AuthService {
	if opts.MaxTokenAge <= 0 {
		opts.MaxTokenAge = domain.MaxTokenAge
	}
	if opts.Scheme == "" {
		opts.Scheme = DefaultAuthScheme
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		api:    api,
		tokens: tokens,
		opts:   opts,
		log:    logger,
		state:  domain.AuthState{State: domain.StateCheckingExistingLogin},
	}
}

// State returns a snapshot of the session.
func (s *AuthService) State() domain.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AuthService) setState(update func(st *domain.AuthState)) domain.AuthState {
	s.mu.Lock()
	update(&s.state)
	st := s.state
	s.mu.Unlock()

	s.log.Debug("session state", "state", st.State.String())
	if s.opts.OnChange != nil {
		s.opts.OnChange(st)
	}
	return st
}

// CheckExistingLogin resolves the initial state: a stored token is refreshed
// and, when the server accepts it, the session becomes AUTHENTICATED. The
// outcome is carried by the returned state only.
func (s *AuthService) CheckExistingLogin(ctx context.Context) domain.AuthState {
	s.setState(func(st *domain.AuthState) { st.State = domain.StateCheckingExistingLogin })

	token, err := s.RefreshLogin(ctx)
	if err != nil || token == nil {
		if err != nil {
			s.log.Info("existing login rejected", "error", err)
		}
		return s.setState(func(st *domain.AuthState) { *st = domain.AuthState{State: domain.StateAnonymous} })
	}
	return s.setState(func(st *domain.AuthState) { *st = domain.AuthState{State: domain.StateAuthenticated} })
}

// InitiateLogin requests a code token for username and password. On failure
// the returned error carries the reason to show next to the login form.
func (s *AuthService) InitiateLogin(ctx context.Context, username, password string) (string, error) {
	s.setState(func(st *domain.AuthState) {
		st.State = domain.StateCodeRequested
		st.CodeToken = ""
		st.CodeTokenFailure = ""
		st.AuthTokenFailure = ""
	})

	code, err := s.api.RequestCode(authCall(ctx), username, password)
	if err == nil && code.CodeToken == "" {
		err = errors.New("empty code token in response")
	}
	if err != nil {
		reason := FailureReason(err)
		s.setState(func(st *domain.AuthState) {
			*st = domain.AuthState{State: domain.StateAnonymous, CodeTokenFailure: reason}
		})
		return "", fmt.Errorf("request code: %w", err)
	}

	s.setState(func(st *domain.AuthState) {
		*st = domain.AuthState{State: domain.StateAwaitingVerification, CodeToken: code.CodeToken}
	})
	return code.CodeToken, nil
}

// ContinueLogin exchanges codeToken and the verification code for an auth
// token. On success the token is stored and requests start being decorated;
// on failure any stored token is cleared and the state rolls back to
// AWAITING_VERIFICATION (or ANONYMOUS without a code token).
func (s *AuthService) ContinueLogin(ctx context.Context, codeToken, verificationCode string) (*domain.AuthToken, error) {
	if codeToken == "" {
		return nil, ErrNoCodeToken
	}

	token, err := s.api.Authenticate(authCall(ctx), codeToken, verificationCode)
	if err == nil {
		err = s.tokens.Store(ctx, token.Token)
	}
	if err != nil {
		if cerr := s.tokens.Clear(ctx); cerr != nil {
			s.log.Warn("clear token", "error", cerr)
		}
		reason := FailureReason(err)
		s.setState(func(st *domain.AuthState) {
			st.AuthTokenFailure = reason
			st.State = domain.StateAnonymous
			if st.CodeToken != "" {
				st.State = domain.StateAwaitingVerification
			}
		})
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	s.setState(func(st *domain.AuthState) { *st = domain.AuthState{State: domain.StateAuthenticated} })
	return token, nil
}

// Logout clears the token and stops decorating requests. It always succeeds.
func (s *AuthService) Logout(ctx context.Context) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Warn("clear token", "error", err)
	}
	s.setState(func(st *domain.AuthState) { *st = domain.AuthState{State: domain.StateAnonymous} })
}

// RefreshLogin renews the stored token. Without a stored token it returns
// nil, nil and makes no network call.
func (s *AuthService) RefreshLogin(ctx context.Context) (*domain.AuthToken, error) {
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	v, err, shared := s.sf.Do(refreshKey, s.refreshFunc(ctx))
	if shared {
		s.log.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	authToken, _ := v.(*domain.AuthToken)
	return authToken, nil
}

// refreshFunc builds the single refresh operation. It runs detached from the
// caller's cancellation because other callers may be waiting on it.
func (s *AuthService) refreshFunc(parent context.Context) func() (interface{}, error) {
	return func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.RefreshTimeout)
		defer cancel()

		token, err := s.tokens.Get(ctx)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, nil
		}

		renewed, err := s.api.Refresh(authCall(ctx), token)
		if err == nil {
			err = s.tokens.Store(ctx, renewed.Token)
		}
		if err != nil {
			if cerr := s.tokens.Clear(ctx); cerr != nil {
				s.log.Warn("clear token", "error", cerr)
			}
			s.dropSession()
			s.log.Info("token refresh failed", "error", err)
			return nil, fmt.Errorf("refresh token: %w", err)
		}
		s.log.Debug("token refreshed")
		return renewed, nil
	}
}

// dropSession ends an authenticated session after its token was lost.
func (s *AuthService) dropSession() {
	s.mu.Lock()
	wasAuthenticated := s.state.State == domain.StateAuthenticated
	s.mu.Unlock()
	if wasAuthenticated {
		s.setState(func(st *domain.AuthState) { *st = domain.AuthState{State: domain.StateAnonymous} })
	}
}

// Decorate is the request decorator. While the session is authenticated it
// returns a copy of req carrying the stored token; a token older than the
// maximum age additionally starts a refresh that req does not wait for.
// Outside an authenticated session req is returned unchanged.
func (s *AuthService) Decorate(req *http.Request) *http.Request {
	if !s.State().LoggedIn() {
		return req
	}
	ctx := req.Context()

	token, err := s.tokens.Get(ctx)
	if err != nil || token == "" {
		if err != nil {
			s.log.Warn("read token", "error", err)
		}
		return req
	}

	if !isAuthCall(ctx) {
		age, ok, err := s.tokens.Age(ctx)
		switch {
		case err != nil:
			s.log.Warn("read token age", "error", err)
		case ok && age > s.opts.MaxTokenAge:
			// The result channel is buffered; nobody needs to read it.
			s.sf.DoChan(refreshKey, s.refreshFunc(ctx))
		}
	}

	out := req.Clone(ctx)
	(&oauth2.Token{AccessToken: token, TokenType: s.opts.Scheme}).SetAuthHeader(out)
	return out
}

// Verify asks the server whether the stored token is still valid.
func (s *AuthService) Verify(ctx context.Context) error {
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNotAuthenticated
	}
	return s.api.Verify(authCall(ctx), token)
}

// TokenInfo describes the stored token for display.
type TokenInfo struct {
	Username  string
	UserID    string
	ExpiresAt time.Time
	Age       time.Duration
	HasAge    bool
}

// TokenInfo decodes the claims of the stored token. The signature is not
// checked; the server does that on every request.
func (s *AuthService) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	info := &TokenInfo{}
	if info.Age, info.HasAge, err = s.tokens.Age(ctx); err != nil {
		return nil, err
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		// Opaque tokens are valid too; there is just nothing to show.
		return info, nil
	}
	info.ExpiresAt = parsed.Expiration()
	claims := parsed.PrivateClaims()
	if v, ok := claims["username"].(string); ok {
		info.Username = v
	}
	if v, ok := claims["user_id"]; ok {
		info.UserID = fmt.Sprint(v)
	}
	if info.Username == "" {
		info.Username = parsed.Subject()
	}
	return info, nil
}

// FailureReason turns an error into the text shown to the operator. Errors
// that know their HTTP status and body describe themselves.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var r interface{ Reason() string }
	if errors.As(err, &r) {
		return r.Reason()
	}
	return err.Error()
}

type authCallKey struct{}

// authCall marks ctx as belonging to an authentication request so that the
// decorator does not start another refresh for it.
func authCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, authCallKey{}, true)
}

func isAuthCall(ctx context.Context) bool {
	v, _ := ctx.Value(authCallKey{}).(bool)
	return v
}
