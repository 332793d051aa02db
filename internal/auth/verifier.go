package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/makeasinger/musicgen/internal/config"
)

// ErrNoVerifier is returned by an empty Chain
var ErrNoVerifier = errors.New("auth: no token verifier configured")

// Verifier turns a bearer token into the caller's claims
type Verifier interface {
	Verify(tokenString string) (*Claims, error)
}

// HMACVerifier accepts tokens signed with the shared secret
type HMACVerifier struct {
	secret string
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) Verify(tokenString string) (*Claims, error) {
	return ParseToken(tokenString, v.secret)
}

// JWKSVerifier checks asymmetric tokens against a remote key set. Keys are
// refreshed in the background until Close is called.
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
	cancel   context.CancelFunc
}

// NewJWKSVerifier fetches the key set at cfg.JWKSURL.
func NewJWKSVerifier(ctx context.Context, cfg *config.JWTConfig) (*JWKSVerifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return &JWKSVerifier{
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		cancel:   cancel,
	}, nil
}

func (v *JWKSVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}

// Close stops the background key refresh
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(tokenString string) (*Claims, error) {
	var firstErr error
	for _, v := range c {
		claims, err := v.Verify(tokenString)
		if err == nil {
			return claims, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = ErrNoVerifier
	}
	return nil, firstErr
}

// FromConfig builds the verifier chain: JWKS first when configured, then
// the shared secret. It returns nil when neither is set. A JWKS endpoint
// that cannot be reached is logged by the caller and skipped.
func FromConfig(ctx context.Context, cfg *config.JWTConfig) (Verifier, func(), error) {
	var (
		chain   Chain
		cleanup = func() {}
		jwksErr error
	)

	if cfg.JWKSURL != "" {
		jwks, err := NewJWKSVerifier(ctx, cfg)
		if err != nil {
			jwksErr = err
		} else {
			chain = append(chain, jwks)
			cleanup = func() { _ = jwks.Close() }
		}
	}
	if cfg.Secret != "" {
		chain = append(chain, NewHMACVerifier(cfg.Secret))
	}

	if len(chain) == 0 {
		return nil, cleanup, jwksErr
	}
	return chain, cleanup, jwksErr
}
