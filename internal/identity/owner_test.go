package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAnonymousOwnerIsStableAndHashed(t *testing.T) {
	t.Parallel()

	session := "4f1c0b9e8d7a6b5c4f1c0b9e8d7a6b5c"
	a, err := Anonymous(session)
	if err != nil {
		t.Fatalf("anonymous: %v", err)
	}
	b, err := Anonymous(session)
	if err != nil {
		t.Fatalf("anonymous: %v", err)
	}
	if a.Key != b.Key {
		t.Fatalf("expected stable key, got %s vs %s", a.Key, b.Key)
	}
	if a.Authenticated {
		t.Fatalf("anonymous owner must not be authenticated")
	}
	if !strings.HasPrefix(a.Key, "anon_") || strings.Contains(a.Key, session) {
		t.Fatalf("unexpected anonymous key %s", a.Key)
	}
	if len(a.Key) != len("anon_")+40 {
		t.Fatalf("unexpected key length %d", len(a.Key))
	}
}

func TestAnonymousRejectsShortSession(t *testing.T) {
	t.Parallel()

	if _, err := Anonymous("short"); err == nil {
		t.Fatalf("expected short session id to be rejected")
	}
}

func TestNewSessionIDIsAcceptedByAnonymous(t *testing.T) {
	t.Parallel()

	id := NewSessionID()
	if _, err := Anonymous(id); err != nil {
		t.Fatalf("minted session id rejected: %v", err)
	}
	if NewSessionID() == id {
		t.Fatalf("expected unique session ids")
	}
}

func TestGuestKeysAndContext(t *testing.T) {
	t.Parallel()

	key := NewGuestKey()
	if !IsGuestKey(key) {
		t.Fatalf("expected guest key, got %s", key)
	}

	owner := Authenticated(uuid.New(), " buyer@example.com ")
	if owner.Email != "buyer@example.com" || !owner.Authenticated {
		t.Fatalf("unexpected owner %+v", owner)
	}
	ctx := WithOwner(context.Background(), owner)
	got, ok := FromContext(ctx)
	if !ok || got.Key != owner.Key {
		t.Fatalf("owner not round-tripped through context")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("empty context should not carry an owner")
	}
}
