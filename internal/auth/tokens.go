// Package auth issues and verifies the bearer tokens IngestAPI requires on
// every operation except Authenticate. Grounded on
// davidleathers113-dependable-call-exchange-backend's
// internal/api/rest/auth_middleware.go (Claims embedding
// jwt.RegisteredClaims, HS256 signing, bearer extraction), with the
// subject/expiry semantics from
// _examples/original_source/server/api.py's auth() handler (30-day HS256
// token over just the username, no session/permission machinery since
// there is exactly one operator role here).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the bearer token validity window, ported from auth()'s
// `exp = now + timedelta(days=30)`.
const TokenTTL = 30 * 24 * time.Hour

// ErrMissingBearer is returned when a request has no usable Authorization header.
var ErrMissingBearer = errors.New("auth: missing or malformed bearer token")

// Claims is the subject-only JWT this service issues.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Issuer signs and verifies bearer tokens with a single HMAC secret.
type Issuer struct {
	secret []byte
	clock  func() time.Time
}

// NewIssuer builds an Issuer. secret must be non-empty in production;
// callers are responsible for sourcing it from SNIPER_JWT_SECRET.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), clock: time.Now}
}

// Issue mints a bearer token for username, valid for TokenTTL.
func (i *Issuer) Issue(username string) (string, error) {
	now := i.clock()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
		Username: username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a bearer token, returning the bound username.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token")
	}
	return claims.Username, nil
}

// ExtractBearer pulls the token out of a request's Authorization header.
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}
