// Package auth verifies the bearer credential presented at connection handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for a missing or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator binds a handshake credential to a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Options controls signature verification and token issuance.
type Options struct {
	Secret []byte
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // issued token lifetime, default 2h
}

// Verifier checks HMAC-signed JWTs.
type Verifier struct {
	opts   Options
	method jwtlib.SigningMethod
}

var _ Authenticator = (*Verifier)(nil)

// NewVerifier creates a Verifier. An empty secret is rejected.
func NewVerifier(opts Options) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	return &Verifier{opts: opts, method: method}, nil
}

// Authenticate returns the user id carried by token. The "sub" claim is
// preferred; the legacy "id" claim is accepted when sub is absent.
func (v *Verifier) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: claims type mismatch", ErrUnauthorized)
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	if id, _ := claims["id"].(string); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
}

// Issue signs a token for userID. Token issuance belongs to the account
// service; this exists for development clients and tests.
func (v *Verifier) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(v.opts.TTL).Unix(),
	}
	signed, err := jwtlib.NewWithClaims(v.method, claims).SignedString(v.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the handshake credential: the Authorization
// bearer header first, then the "token" query parameter for browser clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
