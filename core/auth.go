package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const MinPasswordLength = 6

// Session is the authenticated identity attached to a request or a socket.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type AuthResult struct {
	User *User `json:"user"`
	TokenPair
}

type AuthStore interface {
	// Register creates the account, marks it online and issues a token pair.
	Register(ctx context.Context, u NewUser) (*AuthResult, error)

	// Login checks the credentials, marks the user online and issues a token pair.
	// It returns ErrBadCredentials on any mismatch.
	Login(ctx context.Context, email, password string) (*AuthResult, error)

	// Refresh exchanges a valid refresh token for a new token pair.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// Logout marks the session's user offline.
	Logout(ctx context.Context, session Session) error

	// Session resolves an access token, either self-issued or from the
	// configured identity provider, into a Session.
	Session(ctx context.Context, token string) (*Session, error)
}

type TokenAuthConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Provider is optional.
	Provider TokenVerifier
}

type TokenAuthStore struct {
	users  UserStore
	config TokenAuthConfig
}

func NewTokenAuthStore(users UserStore, config TokenAuthConfig) *TokenAuthStore {
	if config.AccessTTL == 0 {
		config.AccessTTL = time.Hour
	}
	if config.RefreshTTL == 0 {
		config.RefreshTTL = 7 * 24 * time.Hour
	}
	return &TokenAuthStore{users: users, config: config}
}

func (a *TokenAuthStore) issue(user User) (*TokenPair, error) {
	access, _, err := NewToken(user, AccessToken, a.config.AccessTTL, a.config.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("NewToken(access): %w", err)
	}
	refresh, _, err := NewToken(user, RefreshToken, a.config.RefreshTTL, a.config.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("NewToken(refresh): %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (a *TokenAuthStore) Register(ctx context.Context, u NewUser) (*AuthResult, error) {
	if strings.TrimSpace(u.Name) == "" || strings.TrimSpace(u.Email) == "" || u.Password == "" {
		return nil, ValidationError("Name, email and password are required", nil)
	}
	if len(u.Password) < MinPasswordLength {
		return nil, NewErrorf(KindValidation, "Password must be at least %d characters", MinPasswordLength)
	}

	user, err := a.users.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	if _, err := a.users.SetOnline(ctx, user.ID, true); err != nil {
		return nil, fmt.Errorf("SetOnline: %w", err)
	}
	user.IsOnline = true

	pair, err := a.issue(*user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, TokenPair: *pair}, nil
}

func (a *TokenAuthStore) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := a.users.ComparePassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if _, err := a.users.SetOnline(ctx, user.ID, true); err != nil {
		return nil, fmt.Errorf("SetOnline: %w", err)
	}
	user.IsOnline = true

	pair, err := a.issue(*user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, TokenPair: *pair}, nil
}

func (a *TokenAuthStore) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := VerifyToken(refreshToken, RefreshToken, a.config.RefreshSecret)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return a.issue(*user)
}

func (a *TokenAuthStore) Logout(ctx context.Context, session Session) error {
	if _, err := a.users.SetOnline(ctx, session.UserID, false); err != nil {
		return fmt.Errorf("SetOnline: %w", err)
	}
	return nil
}

func (a *TokenAuthStore) Session(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := VerifyToken(token, AccessToken, a.config.AccessSecret)
	if err == nil {
		return &Session{
			UserID:    claims.UserID,
			Email:     claims.Email,
			Role:      claims.Role,
			Token:     token,
			ExpiresAt: claims.ExpiresAt.Time,
		}, nil
	}
	if errors.Is(err, ErrTokenExpired) || a.config.Provider == nil {
		return nil, err
	}

	return a.providerSession(ctx, token)
}

// providerSession maps an identity provider token onto a local user,
// first by subject and then by email.
func (a *TokenAuthStore) providerSession(ctx context.Context, token string) (*Session, error) {
	claims, err := a.config.Provider.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) && claims.Email != "" {
		user, err = a.users.GetUserByEmail(ctx, claims.Email)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	session := &Session{UserID: user.ID, Email: user.Email, Role: user.Role, Token: token}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
