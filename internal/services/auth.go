package services

import (
	"context"
	"errors"
	"fmt"

	"sitewatch/internal/auth"
	"sitewatch/internal/middleware"
)

// LoginPayload carries operator credentials
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries the issued token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthStatus reports whether auth is on and who the caller is
type AuthStatus struct {
	Enabled       bool    `json:"enabled"`
	Authenticated bool    `json:"authenticated"`
	Username      *string `json:"username,omitempty"`
}

// AuthService implements login and auth status
type AuthService struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service
func NewAuthService(authenticator *auth.Authenticator) *AuthService {
	return &AuthService{authenticator: authenticator}
}

// Login authenticates a user and returns a JWT token
func (a *AuthService) Login(ctx context.Context, p *LoginPayload) (*LoginResult, error) {
	token, expiresAt, err := a.authenticator.Authenticate(p.Username, p.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return nil, fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	case errors.Is(err, auth.ErrAuthDisabled):
		return nil, fmt.Errorf("%w: authentication is disabled", ErrBadRequest)
	case err != nil:
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// Status returns the current authentication status
func (a *AuthService) Status(ctx context.Context) (*AuthStatus, error) {
	res := &AuthStatus{Enabled: a.authenticator.IsEnabled()}
	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		res.Authenticated = true
		res.Username = &claims.Username
	}
	return res, nil
}
