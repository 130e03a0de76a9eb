package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrNotConfigured  = errors.New("token verification not configured")
	ErrMissingSubject = errors.New("token has no subject")
)

// Subject is the identity asserted by a verified token.
type Subject struct {
	ID          string
	Email       string
	DisplayName string
}

// TokenVerifier turns a raw bearer token into the subject it was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Subject, error)
}

type VerifierConfig struct {
	// Secret enables HS256 tokens. Used by local setups and tests.
	Secret string
	// JWKSURL enables RS256 tokens signed by a key from the set.
	JWKSURL  string
	Issuer   string
	Audience string
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Verifier checks signatures with a shared secret, a remote key set, or both.
type Verifier struct {
	secret []byte
	keys   *JWKSCache
	opts   []jwt.ParserOption
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Secret == "" && cfg.JWKSURL == "" {
		return nil, ErrNotConfigured
	}

	v := &Verifier{}
	var methods []string
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.JWKSURL != "" {
		v.keys = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}

	v.opts = []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v, nil
}

func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Subject, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	c := &claims{}
	_, err := jwt.ParseWithClaims(rawToken, c, v.keyFunc(ctx), v.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Subject{
		ID:          c.Subject,
		Email:       strings.ToLower(strings.TrimSpace(c.Email)),
		DisplayName: strings.TrimSpace(c.Name),
	}, nil
}

func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if v.secret == nil {
				return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA:
			if v.keys == nil {
				return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
			}
			kid, _ := token.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return v.keys.Get(ctx, kid)
		}
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}
