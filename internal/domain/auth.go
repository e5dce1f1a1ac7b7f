// Package domain contains the core entities of the monitoring client and the
// ports its adapters implement.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken is returned when an empty token is handed to a TokenStore.
var ErrInvalidToken = errors.New("cannot store empty token")

// MaxTokenAge is how old a stored token may get before it is refreshed.
const MaxTokenAge = 5 * time.Minute

// CodeToken is the short-lived credential issued by the first login step.
type CodeToken struct {
	CodeToken string `json:"code_token"`
}

// AuthToken is the long-lived credential issued by the second login step or
// by a refresh.
type AuthToken struct {
	Token string `json:"token"`
}

// SessionState is the state of the operator's session.
type SessionState int

const (
	StateCheckingExistingLogin SessionState = iota
	StateAnonymous
	StateCodeRequested
	StateAwaitingVerification
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateCheckingExistingLogin:
		return "CHECKING_EXISTING_LOGIN"
	case StateAnonymous:
		return "ANONYMOUS"
	case StateCodeRequested:
		return "CODE_REQUESTED"
	case StateAwaitingVerification:
		return "AWAITING_VERIFICATION"
	case StateAuthenticated:
		return "AUTHENTICATED"
	}
	return "UNKNOWN"
}

// AuthState is a snapshot of the session as the login form sees it.
type AuthState struct {
	State            SessionState `json:"state"`
	CodeToken        string       `json:"codeToken,omitempty"`
	CodeTokenFailure string       `json:"codeTokenFailure,omitempty"`
	AuthTokenFailure string       `json:"authTokenFailure,omitempty"`
}

// LoggedIn reports whether the request decorator is active.
func (a AuthState) LoggedIn() bool {
	return a.State == StateAuthenticated
}

// KeyValueStore is the port for durable string storage, the equivalent of
// the browser's localStorage.
type KeyValueStore interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// TokenStore persists the bearer token together with the time it was stored.
type TokenStore interface {
	Store(ctx context.Context, token string) error
	Get(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
	// Age returns false when no token is stored.
	Age(ctx context.Context) (time.Duration, bool, error)
}

// AuthAPI is the port for the two-step authentication endpoints.
type AuthAPI interface {
	RequestCode(ctx context.Context, username, password string) (*CodeToken, error)
	Authenticate(ctx context.Context, codeToken, code string) (*AuthToken, error)
	Refresh(ctx context.Context, token string) (*AuthToken, error)
	Verify(ctx context.Context, token string) error
}
