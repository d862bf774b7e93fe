// Package auth issues and checks session tokens and password hashes.
package auth

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer     = "boxit"
	defaultTTL = 30 * 24 * time.Hour
	minSecret  = 32
)

// ErrMissingSecret is returned by NewTokenManager outside development mode
// when no signing secret is configured.
var ErrMissingSecret = errors.New("auth.jwt_secret (BOXIT_AUTH_JWT_SECRET) must be set outside dev mode; " +
	"generate one with: openssl rand -hex 32")

// ErrNoSubject is returned for a correctly signed token that names no user.
var ErrNoSubject = errors.New("token has no user id")

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager returns a TokenManager for secret. In dev mode an empty
// secret is replaced by a random one, so sessions do not survive a restart.
func NewTokenManager(secret string, ttl time.Duration, devMode bool) (*TokenManager, error) {
	key := []byte(secret)
	switch {
	case secret == "" && !devMode:
		return nil, ErrMissingSecret
	case secret == "":
		key = []byte(rand.Text() + rand.Text())
		slog.Warn("auth.jwt_secret not set, using a random development secret; sessions end on restart")
	case len(secret) < minSecret:
		slog.Warn("auth.jwt_secret is short", "length", len(secret), "recommended", minSecret)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TokenManager{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Generate signs a token for userID and returns it with its expiry.
func (m *TokenManager) Generate(userID, email string) (string, time.Time, error) {
	issued := m.now()
	expires := issued.Add(m.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate verifies signature, issuer and expiry and returns the claims.
func (m *TokenManager) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}
