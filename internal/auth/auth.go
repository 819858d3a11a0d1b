package auth

import (
	"errors"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds API authentication settings
type Config struct {
	Enabled   bool
	Username  string
	Password  string // Plaintext or a bcrypt hash
	JWTSecret string // Random per process when empty
	JWTExpiry time.Duration
}

// ConfigFromEnv reads AUTH_ENABLED, AUTH_USERNAME, AUTH_PASSWORD, JWT_SECRET and JWT_EXPIRY
func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:   os.Getenv("AUTH_ENABLED") == "true",
		Username:  os.Getenv("AUTH_USERNAME"),
		Password:  os.Getenv("AUTH_PASSWORD"),
		JWTSecret: os.Getenv("JWT_SECRET"),
	}
	if exp := os.Getenv("JWT_EXPIRY"); exp != "" {
		if d, err := time.ParseDuration(exp); err == nil {
			cfg.JWTExpiry = d
		}
	}
	return cfg
}

// Authenticator guards the operator API with a single account
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator. Enabling auth without a password is an error.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}

	a := &Authenticator{
		enabled:    cfg.Enabled,
		username:   cfg.Username,
		jwtManager: NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
	}
	if !cfg.Enabled {
		return a, nil
	}

	if cfg.Password == "" {
		return nil, errors.New("AUTH_PASSWORD is required when authentication is enabled")
	}
	if isBcryptHash(cfg.Password) {
		a.passwordHash = []byte(cfg.Password)
		return a, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a.passwordHash = hash
	return a, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token and its expiry
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
