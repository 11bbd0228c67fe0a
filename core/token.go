package core

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "roomchat"

	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

type TokenType string

type AuthClaims struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

func NewClaim(user User, t TokenType, exp time.Time) *AuthClaims {
	return &AuthClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Type:   t,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
	}
}

func NewToken(user User, t TokenType, expiration time.Duration, secret []byte) (string, time.Time, error) {
	exp := time.Now().Add(expiration)
	claims := NewClaim(user, t, exp)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", exp, fmt.Errorf("SignedString: %w", err)
	}
	return signed, exp, nil
}

// VerifyToken checks the signature, expiry and type of a self-issued token.
func VerifyToken(token string, t TokenType, secret []byte) (*AuthClaims, error) {
	claims := &AuthClaims{}
	_token, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithIssuer(tokenIssuer))

	switch {
	case err == nil && _token.Valid:
		if claims.Type != t {
			return nil, ErrTokenInvalid
		}
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}

// ProviderClaims are the claims read from an identity provider token.
type ProviderClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies tokens that were not issued by this server.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*ProviderClaims, error)
}

// RSAVerifier verifies RS256 tokens signed by an external identity provider.
type RSAVerifier struct {
	key    *rsa.PublicKey
	issuer string
}

func NewRSAVerifier(publicKeyPEM []byte, issuer string) (*RSAVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("ParseRSAPublicKeyFromPEM: %w", err)
	}
	return &RSAVerifier{key: key, issuer: issuer}, nil
}

func (v *RSAVerifier) Verify(_ context.Context, token string) (*ProviderClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &ProviderClaims{}
	_token, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)

	switch {
	case err == nil && _token.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}
