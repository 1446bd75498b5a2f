package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "pdfgate-session"

// Sessions issues browser session cookies. The cookie holds an HS256 token
// whose ID is the session id, so only ids minted here are ever accepted.
type Sessions struct {
	key []byte
	now func() time.Time
}

// NewSessions signs cookies with secret. With no secret a random key is
// used, and sessions do not survive a restart.
func NewSessions(secret string) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Sessions{key: key, now: time.Now}
}

// Lookup returns the verified session id carried by r, or "".
func (s *Sessions) Lookup(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(c.Value, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.ID == "" {
		return ""
	}
	return claims.ID
}

// Ensure returns the session id of r, setting a fresh cookie on w when r
// carries none or one that does not verify.
func (s *Sessions) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id := s.Lookup(r); id != "" {
		return id, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(buf)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:       id,
		Issuer:   sessionIssuer,
		IssuedAt: jwt.NewNumericDate(s.now()),
	}).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}
