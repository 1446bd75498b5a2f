// Package capability issues and redeems single-use download tokens.
//
// A capability binds an unguessable token to one produced artifact and to the
// session that produced it. Redemption is an atomic get-and-delete in every
// store backend, so concurrent redeemers of one token see exactly one
// success. A redemption from another session finds nothing and leaves the
// token intact.
package capability

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AdamLaszab/zadanie-skuska/internal/resolve"
)

// ErrNotFound covers missing, consumed, expired and foreign-session tokens
// alike, so callers cannot tell them apart.
var ErrNotFound = errors.New("file not found or link expired")

// tokenBytes yields a 43 character base64url token.
const tokenBytes = 32

// Capability is a pending right to download one artifact.
type Capability struct {
	Token       string           `json:"token"`
	Session     string           `json:"session"`
	Artifact    resolve.Artifact `json:"artifact"`
	WorkspaceID string           `json:"workspace_id"`
	IssuedAt    time.Time        `json:"issued_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// Expired reports whether c is no longer redeemable at now.
func (c Capability) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Store persists capabilities.
type Store interface {
	// Put records c. Tokens are unique; an existing token is an error.
	Put(ctx context.Context, c Capability) error

	// Take atomically removes and returns the capability for (session,
	// token). It returns ErrNotFound if there is none.
	Take(ctx context.Context, session, token string) (Capability, error)

	// TakeExpired atomically removes and returns every capability that
	// expired at or before now.
	TakeExpired(ctx context.Context, now time.Time) ([]Capability, error)
}

func newToken(r io.Reader) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var defaultRand io.Reader = rand.Reader
