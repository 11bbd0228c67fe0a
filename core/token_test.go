package core

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	secret := []byte("secret")
	user := User{ID: "u1", Email: "user@example.com", Role: RoleUser}

	t.Run("valid token", func(t *testing.T) {
		before := time.Now()
		token, expiresAt, err := NewToken(user, AccessToken, time.Hour, secret)
		require.Nil(t, err)
		require.NotEmpty(t, token)
		require.False(t, expiresAt.Before(before.Add(time.Hour)))

		claims, err := VerifyToken(token, AccessToken, secret)
		require.Nil(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, user.Email, claims.Email)
		assert.Equal(t, user.Role, claims.Role)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := NewToken(user, AccessToken, -time.Minute, secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, AccessToken, secret)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewToken(user, AccessToken, time.Hour, secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, AccessToken, []byte("other"))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("refresh token used as access token", func(t *testing.T) {
		token, _, err := NewToken(user, RefreshToken, time.Hour, secret)
		require.Nil(t, err)
		_, err = VerifyToken(token, AccessToken, secret)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := VerifyToken("not-a-token", AccessToken, secret)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func newRSAKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.Nil(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func signProviderToken(t *testing.T, key *rsa.PrivateKey, claims ProviderClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.Nil(t, err)
	return token
}

func TestRSAVerifier(t *testing.T) {
	key, pub := newRSAKey(t)
	verifier, err := NewRSAVerifier(pub, "https://issuer.example.com")
	require.Nil(t, err)

	t.Run("valid token", func(t *testing.T) {
		token := signProviderToken(t, key, ProviderClaims{
			Email: "a@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "provider-id",
				Issuer:    "https://issuer.example.com",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		claims, err := verifier.Verify(context.Background(), token)
		require.Nil(t, err)
		assert.Equal(t, "provider-id", claims.Subject)
		assert.Equal(t, "a@example.com", claims.Email)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := signProviderToken(t, key, ProviderClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
		})
		_, err := verifier.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("signed by another key", func(t *testing.T) {
		other, _ := newRSAKey(t)
		token := signProviderToken(t, other, ProviderClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://issuer.example.com"},
		})
		_, err := verifier.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
