package adapthttp

import (
	"context"
	"net/http"

	"parkmon/internal/domain"
)

type codeTokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authTokenRequest struct {
	CodeToken string `json:"code_token"`
	Code      string `json:"code"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// RequestCode starts a login. The server sends the verification code to the
// user out of band and returns the code token that pairs with it.
func (c *Client) RequestCode(ctx context.Context, username, password string) (*domain.CodeToken, error) {
	var out domain.CodeToken
	body := codeTokenRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(pathCodeToken, nil), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Authenticate exchanges a code token and verification code for an auth token.
func (c *Client) Authenticate(ctx context.Context, codeToken, code string) (*domain.AuthToken, error) {
	var out domain.AuthToken
	body := authTokenRequest{CodeToken: codeToken, Code: code}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(pathAuthToken, nil), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh renews token.
func (c *Client) Refresh(ctx context.Context, token string) (*domain.AuthToken, error) {
	var out domain.AuthToken
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(pathRefresh, nil), tokenRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify reports whether the server still accepts token.
func (c *Client) Verify(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint(pathVerify, nil), tokenRequest{Token: token}, nil)
}
