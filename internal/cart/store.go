package cart

import (
	"context"

	"github.com/angelmondragon/storefront-backend/internal/identity"
)

// Store persists cart snapshots. Load returns an empty cart when nothing is stored.
type Store interface {
	Load(ctx context.Context, owner identity.Owner) (Cart, error)
	Save(ctx context.Context, owner identity.Owner, c Cart) error
	Delete(ctx context.Context, owner identity.Owner) error
}

// RoutingStore sends authenticated owners to the durable store and anonymous ones to the session store.
type RoutingStore struct {
	authenticated Store
	anonymous     Store
}

func NewRoutingStore(authenticated, anonymous Store) *RoutingStore {
	return &RoutingStore{authenticated: authenticated, anonymous: anonymous}
}

func (r *RoutingStore) pick(owner identity.Owner) Store {
	if owner.Authenticated {
		return r.authenticated
	}
	return r.anonymous
}

func (r *RoutingStore) Load(ctx context.Context, owner identity.Owner) (Cart, error) {
	return r.pick(owner).Load(ctx, owner)
}

func (r *RoutingStore) Save(ctx context.Context, owner identity.Owner, c Cart) error {
	return r.pick(owner).Save(ctx, owner, c)
}

func (r *RoutingStore) Delete(ctx context.Context, owner identity.Owner) error {
	return r.pick(owner).Delete(ctx, owner)
}

func emptyCart(owner identity.Owner) Cart {
	return Cart{OwnerKey: owner.Key, Lines: []Line{}}
}
