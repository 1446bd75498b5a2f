package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Scopes understood by the API.
const (
	ScopeAll    = "*"
	ScopePDF    = "pdf:rw"
	ScopeLogsRO = "logs:ro"
	ScopeLogsRW = "logs:rw"
)

// SessionCookie carries the browser session id.
const SessionCookie = "pdfgate_session"

// TokenConfig is a bearer token with a set of scopes. Hash, when set, is a
// bcrypt hash and Token is ignored.
type TokenConfig struct {
	Token   string
	Hash    string
	Subject string
	Scopes  []string
}

// JWTConfig enables HS256 bearer tokens.
type JWTConfig struct {
	Secret string
	Issuer string
}

type Principal struct {
	Subject string
	Scopes  map[string]struct{}
}

// ActorID is the audit identity of p.
func (p Principal) ActorID() string {
	return "principal:" + p.Subject
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticator resolves bearer credentials to principals.
type Authenticator struct {
	tokens []TokenConfig
	jwt    JWTConfig
}

func NewAuthenticator(tokens []TokenConfig, jwtCfg JWTConfig) *Authenticator {
	return &Authenticator{tokens: tokens, jwt: jwtCfg}
}

// Enabled reports whether any credential is configured. With none, the API
// runs unauthenticated.
func (a *Authenticator) Enabled() bool {
	return len(a.tokens) > 0 || a.jwt.Secret != ""
}

// Authenticate matches a presented bearer token against configured static
// tokens first, then as a JWT.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	for _, t := range a.tokens {
		if t.Hash != "" {
			if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(presented)) == nil {
				return newPrincipal(t.Subject, t.Scopes), true
			}
			continue
		}
		if constantTimeEqual(presented, t.Token) {
			return newPrincipal(t.Subject, t.Scopes), true
		}
	}

	if a.jwt.Secret == "" || strings.Count(presented, ".") != 2 {
		return Principal{}, false
	}
	claims, err := a.parseJWT(presented)
	if err != nil {
		return Principal{}, false
	}
	return newPrincipal(claims.Subject, strings.Fields(claims.Scope)), true
}

// Claims is the JWT payload pdfgate accepts.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (a *Authenticator) parseJWT(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.jwt.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.jwt.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.jwt.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// SignToken issues an HS256 token for subject.
func SignToken(cfg JWTConfig, subject string, scopes []string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// HashToken returns the bcrypt hash to store as token_bcrypt.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

func newPrincipal(subject string, scopes []string) Principal {
	return Principal{Subject: subject, Scopes: normalizeScopes(scopes)}
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Write implies read.
	if _, ok := out[ScopeLogsRW]; ok {
		out[ScopeLogsRO] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
