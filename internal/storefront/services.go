// Package storefront assembles the cart, checkout, order and payment services
// shared by the API and the cron worker.
package storefront

import (
	"fmt"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payment"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

// Deps are the bootstrapped clients. Stripe may be nil, which leaves only
// cash-on-delivery checkout available.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	Stripe  *pkgstripe.Client
	Metrics *metrics.StorefrontMetrics
}

type Services struct {
	Catalog       *catalog.Repository
	CartStore     *cart.RepositoryStore
	Carts         *cart.CartService
	Orders        orders.Service
	Payments      *payment.Orchestrator
	Checkout      checkout.Service
	Notifications notifications.Service
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
}

func New(deps Deps) (*Services, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if deps.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	cfg := deps.Config
	gdb := deps.DB.DB()

	catalogRepo := catalog.NewRepository(gdb)
	cartStore := cart.NewRepositoryStore(gdb)
	carts, err := cart.NewService(
		cart.NewRules(cart.LimitsFromConfig(cfg.Cart)),
		cart.NewRoutingStore(cartStore, cart.NewRedisStore(deps.Redis, cfg.Cart.AnonymousRetention)),
		catalogRepo,
		deps.Logger,
		cart.Options{
			CacheTTL:       cfg.Cart.CacheTTL,
			PersistTimeout: cfg.Cart.PersistTimeout,
			Metrics:        deps.Metrics,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	outboxRepo := outbox.NewRepository(gdb)
	outboxSvc := outbox.NewService(outboxRepo, deps.Logger)

	ordersSvc, err := orders.NewService(orders.NewRepository(gdb), deps.DB, outboxSvc, carts, orders.Options{
		Metrics:  deps.Metrics,
		Logger:   deps.Logger,
		Currency: cfg.Payment.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	var gateway payment.Gateway
	if deps.Stripe != nil {
		stripeGateway, err := payment.NewStripeGateway(deps.Stripe, cfg.Payment)
		if err != nil {
			return nil, fmt.Errorf("stripe gateway: %w", err)
		}
		gateway = stripeGateway
	}
	payments, err := payment.NewOrchestrator(gateway, payment.NewRepository(gdb), cfg.Payment, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("payment orchestrator: %w", err)
	}

	checkoutSvc, err := checkout.NewService(
		carts,
		ordersSvc,
		payments,
		checkout.NewRedisSessionStore(deps.Redis, cfg.Checkout.SessionTTL),
		checkout.Options{Logger: deps.Logger},
	)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(gdb))
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	return &Services{
		Catalog:       catalogRepo,
		CartStore:     cartStore,
		Carts:         carts,
		Orders:        ordersSvc,
		Payments:      payments,
		Checkout:      checkoutSvc,
		Notifications: notificationsSvc,
		Outbox:        outboxSvc,
		OutboxRepo:    outboxRepo,
	}, nil
}
