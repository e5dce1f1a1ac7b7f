package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"parkmon/internal/domain"
)

// Storage keys, shared with the web dashboard's localStorage layout.
const (
	tokenKey         = "AUTH_TOKEN"
	tokenStoredAtKey = "AUTH_TOKEN_STORED_AT"
)

// TokenStorage implements domain.TokenStore on top of a key/value store.
type TokenStorage struct {
	kv  domain.KeyValueStore
	now func() time.Time
}

var _ domain.TokenStore = (*TokenStorage)(nil)

// NewTokenStorage creates a TokenStorage backed by kv.
func NewTokenStorage(kv domain.KeyValueStore) *TokenStorage {
	return &TokenStorage{kv: kv, now: time.Now}
}

// WithClock replaces the clock used for timestamps and ages.
func (s *TokenStorage) WithClock(now func() time.Time) *TokenStorage {
	s.now = now
	return s
}

// Store persists token and the current time.
func (s *TokenStorage) Store(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrInvalidToken
	}
	if err := s.kv.SetItem(ctx, tokenKey, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	storedAt := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.kv.SetItem(ctx, tokenStoredAtKey, storedAt); err != nil {
		return fmt.Errorf("store token timestamp: %w", err)
	}
	return nil
}

// Get returns the stored token, or "" when there is none.
func (s *TokenStorage) Get(ctx context.Context) (string, error) {
	v, ok, err := s.kv.GetItem(ctx, tokenKey)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

// Clear removes the token and its timestamp.
func (s *TokenStorage) Clear(ctx context.Context) error {
	return errors.Join(
		s.kv.RemoveItem(ctx, tokenKey),
		s.kv.RemoveItem(ctx, tokenStoredAtKey),
	)
}

// Age returns how long ago the token was stored. It reports false when
// either the token or its timestamp is missing.
func (s *TokenStorage) Age(ctx context.Context) (time.Duration, bool, error) {
	token, err := s.Get(ctx)
	if err != nil || token == "" {
		return 0, false, err
	}
	v, ok, err := s.kv.GetItem(ctx, tokenStoredAtKey)
	if err != nil {
		return 0, false, fmt.Errorf("get token timestamp: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse token timestamp %q: %w", v, err)
	}
	return s.now().Sub(time.UnixMilli(ms)), true, nil
}
