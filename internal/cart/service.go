package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Service exposes cart operations for the current owner.
type Service interface {
	Get(ctx context.Context, owner identity.Owner) (Cart, error)
	CanAdd(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Decision, error)
	Add(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Cart, error)
	UpdateQuantity(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Cart, error)
	Remove(ctx context.Context, owner identity.Owner, productID uuid.UUID) (Cart, error)
	Total(ctx context.Context, owner identity.Owner) (decimal.Decimal, error)
	Clear(ctx context.Context, owner identity.Owner) error
	Flush(ctx context.Context, owner identity.Owner) error
	MergeAnonymous(ctx context.Context, anonymous, authenticated identity.Owner) (MergeResult, error)
}

type cartMetrics interface {
	IncCartRejection(reason string)
	IncCartPersistFailure()
}

// Options tunes the in-memory cache in front of the store.
type Options struct {
	// CacheTTL bounds how long a clean entry is served before it is re-read from the store.
	CacheTTL time.Duration
	// PersistTimeout bounds each background write.
	PersistTimeout time.Duration
	Metrics        cartMetrics
	Now            func() time.Time
}

// entry is the cached cart of one owner. mu guards the cart fields; persistMu
// serializes writes to the store and is always taken before mu.
type entry struct {
	persistMu sync.Mutex

	mu       sync.Mutex
	owner    identity.Owner
	cart     Cart
	loaded   bool
	dirty    bool
	deleted  bool
	version  uint64
	syncedAt time.Time

	// touchedAt is guarded by CartService.mu
	touchedAt time.Time
}

// CartService serves carts from memory and writes every change through to the store
// in the background. A failed write keeps the entry dirty and the next read retries it.
type CartService struct {
	rules   *Rules
	store   Store
	catalog catalog.Reader
	logg    *logger.Logger
	metrics cartMetrics
	now     func() time.Time

	cacheTTL       time.Duration
	persistTimeout time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	products singleflight.Group
	inflight sync.WaitGroup
}

var _ Service = (*CartService)(nil)

// NewService wires the cart cache.
func NewService(rules *Rules, store Store, reader catalog.Reader, logg *logger.Logger, opts Options) (*CartService, error) {
	if rules == nil {
		return nil, fmt.Errorf("cart rules required")
	}
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if reader == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CartService{
		rules:          rules,
		store:          store,
		catalog:        reader,
		logg:           logg,
		metrics:        opts.Metrics,
		now:            opts.Now,
		cacheTTL:       opts.CacheTTL,
		persistTimeout: opts.PersistTimeout,
		entries:        map[string]*entry{},
	}, nil
}

// Get returns the owner's cart. Pending local changes are flushed first; if that
// fails the local copy is still served.
func (s *CartService) Get(ctx context.Context, owner identity.Owner) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner required")
	}
	e := s.entryFor(owner)

	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()
	if dirty {
		if err := s.flush(ctx, e); err != nil {
			s.logg.Warn(s.logCtx(ctx, owner, err), "cart reconciliation failed, serving local state")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.ensureLoaded(ctx, e); err != nil {
		return Cart{}, err
	}
	return e.cart.Clone(), nil
}

func (s *CartService) CanAdd(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Decision, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return Decision{}, err
	}
	current, err := s.Get(ctx, owner)
	if err != nil {
		return Decision{}, err
	}
	return s.rules.CanAdd(current, product, qty), nil
}

func (s *CartService) Add(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Cart, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	return s.addProduct(ctx, owner, product, qty)
}

func (s *CartService) addProduct(ctx context.Context, owner identity.Owner, product catalog.Product, qty int) (Cart, error) {
	return s.mutate(ctx, owner, func(c Cart) (Cart, Decision, bool) {
		next, decision := s.rules.Add(c, product, qty)
		return next, decision, decision.Allowed
	})
}

// UpdateQuantity sets a line's quantity; qty <= 0 removes the line without a catalog lookup.
func (s *CartService) UpdateQuantity(ctx context.Context, owner identity.Owner, productID uuid.UUID, qty int) (Cart, error) {
	if qty <= 0 {
		return s.Remove(ctx, owner, productID)
	}
	product, err := s.product(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, owner, func(c Cart) (Cart, Decision, bool) {
		next, decision := s.rules.SetQuantity(c, product, qty)
		return next, decision, decision.Allowed
	})
}

func (s *CartService) Remove(ctx context.Context, owner identity.Owner, productID uuid.UUID) (Cart, error) {
	return s.mutate(ctx, owner, func(c Cart) (Cart, Decision, bool) {
		_, _, present := c.Find(productID)
		return Remove(c, productID), allow(), present
	})
}

func (s *CartService) Total(ctx context.Context, owner identity.Owner) (decimal.Decimal, error) {
	current, err := s.Get(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return Total(current), nil
}

// Clear empties the cart and deletes it from the store synchronously.
func (s *CartService) Clear(ctx context.Context, owner identity.Owner) error {
	if owner.IsZero() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner required")
	}
	e := s.entryFor(owner)
	e.mu.Lock()
	e.cart = emptyCart(owner)
	e.cart.LastModified = s.now().UTC()
	e.loaded = true
	e.deleted = true
	e.dirty = true
	e.version++
	e.mu.Unlock()

	return s.flush(ctx, e)
}

// Flush writes any pending change for owner synchronously.
func (s *CartService) Flush(ctx context.Context, owner identity.Owner) error {
	s.mu.Lock()
	e, ok := s.entries[owner.Key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.flush(ctx, e)
}

// Drain waits for every background write started so far.
func (s *CartService) Drain() {
	s.inflight.Wait()
}

// RunSweeper evicts idle clean entries until ctx is cancelled.
func (s *CartService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cacheTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *CartService) sweep() int {
	cutoff := s.now().Add(-s.cacheTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, e := range s.entries {
		if e.touchedAt.After(cutoff) {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		idle := !e.dirty
		e.mu.Unlock()
		if idle {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

type mutation func(Cart) (next Cart, decision Decision, changed bool)

func (s *CartService) mutate(ctx context.Context, owner identity.Owner, fn mutation) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner required")
	}
	e := s.entryFor(owner)

	e.mu.Lock()
	if err := s.ensureLoaded(ctx, e); err != nil {
		e.mu.Unlock()
		return Cart{}, err
	}
	next, decision, changed := fn(e.cart.Clone())
	if !decision.Allowed {
		current := e.cart.Clone()
		e.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncCartRejection(decision.Reason.String())
		}
		return current, decision.Err()
	}
	if !changed {
		current := e.cart.Clone()
		e.mu.Unlock()
		return current, nil
	}
	next.OwnerKey = owner.Key
	next.LastModified = s.now().UTC()
	e.cart = next
	e.deleted = false
	e.dirty = true
	e.version++
	out := next.Clone()
	e.mu.Unlock()

	s.schedulePersist(ctx, e)
	return out, nil
}

// ensureLoaded fills e from the store when it was never loaded or its clean copy is stale. Caller holds e.mu.
func (s *CartService) ensureLoaded(ctx context.Context, e *entry) error {
	if e.dirty {
		return nil
	}
	if e.loaded && s.now().Sub(e.syncedAt) < s.cacheTTL {
		return nil
	}
	stored, err := s.store.Load(ctx, e.owner)
	if err != nil {
		if e.loaded {
			s.logg.Warn(s.logCtx(ctx, e.owner, err), "cart refresh failed, serving cached copy")
			return nil
		}
		return err
	}
	if stored.Lines == nil {
		stored.Lines = []Line{}
	}
	e.cart = stored
	e.loaded = true
	e.deleted = false
	e.syncedAt = s.now()
	return nil
}

func (s *CartService) schedulePersist(ctx context.Context, e *entry) {
	logCtx := s.logg.WithOwnerKey(context.WithoutCancel(ctx), e.owner.Key)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		persistCtx, cancel := context.WithTimeout(logCtx, s.persistTimeout)
		defer cancel()
		if err := s.flush(persistCtx, e); err != nil {
			if s.metrics != nil {
				s.metrics.IncCartPersistFailure()
			}
			s.logg.Error(logCtx, "cart persist failed, change kept locally", err)
		}
	}()
}

// flush writes the newest state of e. The entry stays dirty unless no change landed during the write.
func (s *CartService) flush(ctx context.Context, e *entry) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	snapshot := e.cart.Clone()
	version := e.version
	remove := e.deleted || snapshot.IsEmpty()
	owner := e.owner
	e.mu.Unlock()

	var err error
	if remove {
		err = s.store.Delete(ctx, owner)
	} else {
		err = s.store.Save(ctx, owner, snapshot)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.version == version {
		e.dirty = false
		e.syncedAt = s.now()
	}
	e.mu.Unlock()
	return nil
}

func (s *CartService) entryFor(owner identity.Owner) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[owner.Key]
	if !ok {
		e = &entry{owner: owner}
		s.entries[owner.Key] = e
	}
	e.touchedAt = s.now()
	return e
}

// product collapses concurrent catalog reads for the same id.
func (s *CartService) product(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	if id == uuid.Nil {
		return catalog.Product{}, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	v, err, _ := s.products.Do(id.String(), func() (any, error) {
		return s.catalog.GetProduct(ctx, id)
	})
	if err != nil {
		return catalog.Product{}, err
	}
	return v.(catalog.Product), nil
}

func (s *CartService) logCtx(ctx context.Context, owner identity.Owner, err error) context.Context {
	fields := map[string]any{"owner_key": owner.Key}
	if err != nil {
		fields["error"] = err.Error()
	}
	return s.logg.WithFields(ctx, fields)
}

// MergeResult reports what happened to each anonymous line during a merge.
type MergeResult struct {
	Cart    Cart          `json:"cart"`
	Merged  int           `json:"merged"`
	Skipped []SkippedLine `json:"skipped"`
}

// SkippedLine is an anonymous line the authenticated cart could not accept.
type SkippedLine struct {
	ProductID uuid.UUID              `json:"product_id"`
	Quantity  int                    `json:"quantity"`
	Reason    enums.CartRejectReason `json:"reason"`
	Message   string                 `json:"message"`
}

// MergeAnonymous moves the anonymous cart's lines into the authenticated cart through
// the normal add rules, then deletes the anonymous cart. It only runs when called explicitly.
func (s *CartService) MergeAnonymous(ctx context.Context, anonymous, authenticated identity.Owner) (MergeResult, error) {
	if !authenticated.Authenticated {
		return MergeResult{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "merge target must be signed in")
	}
	if anonymous.IsZero() || anonymous.Authenticated {
		return MergeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "anonymous session required")
	}

	source, err := s.Get(ctx, anonymous)
	if err != nil {
		return MergeResult{}, err
	}
	result := MergeResult{Skipped: []SkippedLine{}}
	for _, line := range source.Lines {
		product, err := s.product(ctx, line.ProductID)
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return MergeResult{}, err
			}
			result.Skipped = append(result.Skipped, SkippedLine{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Reason:    enums.CartRejectOutOfStock,
				Message:   "Product is no longer available",
			})
			continue
		}
		if _, err := s.addProduct(ctx, authenticated, product, line.Quantity); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeCartRule) {
				return MergeResult{}, err
			}
			reason, message := rejectionOf(err)
			result.Skipped = append(result.Skipped, SkippedLine{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Reason:    reason,
				Message:   message,
			})
			continue
		}
		result.Merged++
	}

	if err := s.Clear(ctx, anonymous); err != nil {
		s.logg.Warn(s.logCtx(ctx, anonymous, err), "anonymous cart cleanup after merge failed")
	}
	merged, err := s.Get(ctx, authenticated)
	if err != nil {
		return MergeResult{}, err
	}
	result.Cart = merged
	return result, nil
}

func rejectionOf(err error) (enums.CartRejectReason, string) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return enums.CartRejectNone, err.Error()
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if reason, ok := details["reason"].(enums.CartRejectReason); ok {
			return reason, typed.Message()
		}
	}
	return enums.CartRejectNone, typed.Message()
}
