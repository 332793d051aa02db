package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is set on tokens minted by this service
const Issuer = "makeasinger-musicgen"

// Identity headers exchanged with the gateway
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
)

var (
	ErrNoSecret    = errors.New("auth: signing secret not configured")
	ErrMissingUser = errors.New("auth: token carries no user id")
)

var hmacAlgorithms = []string{"HS256", "HS384", "HS512"}

// Claims identify the caller that owns submitted jobs
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HMAC-signed token and returns its claims. The
// user id falls back to the subject; tokens with neither are rejected.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods(hmacAlgorithms))
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}

// IssueToken signs a token for userID. A zero ttl yields a token without expiry.
func IssueToken(secret, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if userID == "" {
		return "", ErrMissingUser
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
