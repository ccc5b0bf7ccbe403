// Package identity turns request credentials into the owner key carts and orders are stored under.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	anonymousPrefix = "anon_"
	guestPrefix     = "guest_"
)

// Owner identifies whose cart or order is being addressed.
type Owner struct {
	Key           string
	Authenticated bool
	UserID        uuid.UUID
	Email         string
}

// Authenticated builds an owner for a verified account.
func Authenticated(userID uuid.UUID, email string) Owner {
	return Owner{
		Key:           userID.String(),
		Authenticated: true,
		UserID:        userID,
		Email:         strings.TrimSpace(email),
	}
}

// Anonymous derives a stable owner from a device session id. The raw session
// id is never used as a key so it does not leak into storage or logs.
func Anonymous(sessionID string) (Owner, error) {
	sessionID = strings.TrimSpace(sessionID)
	if len(sessionID) < 16 {
		return Owner{}, errors.New("session id too short")
	}
	sum := blake2b.Sum256([]byte(sessionID))
	return Owner{Key: anonymousPrefix + hex.EncodeToString(sum[:20])}, nil
}

// NewSessionID mints an id for a device that has none yet.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// NewGuestKey generates the ephemeral owner key recorded on a guest order.
func NewGuestKey() string {
	return guestPrefix + uuid.NewString()
}

// IsZero reports whether no identity was resolved.
func (o Owner) IsZero() bool {
	return o.Key == ""
}

// IsGuestKey reports whether key was minted by NewGuestKey.
func IsGuestKey(key string) bool {
	return strings.HasPrefix(key, guestPrefix)
}

type ctxKey struct{}

// WithOwner stores the resolved owner on the context.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, owner)
}

// FromContext returns the owner resolved by the identity middleware.
func FromContext(ctx context.Context) (Owner, bool) {
	if ctx == nil {
		return Owner{}, false
	}
	owner, ok := ctx.Value(ctxKey{}).(Owner)
	return owner, ok && !owner.IsZero()
}
