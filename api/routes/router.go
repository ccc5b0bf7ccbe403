package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Params carries everything the HTTP surface is wired to. The Stripe fields
// are optional; without them the webhook route is not mounted.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Idempotency   middleware.ResponseStore
	Carts         cart.Service
	Checkout      checkoutsvc.Service
	Orders        orders.Service
	Notifications notifications.Service
	Metrics       http.Handler

	StripeVerifier webhookcontrollers.EventVerifier
	StripeEvents   webhookcontrollers.StripeWebhookService
	StripeGuard    webhookcontrollers.EventGuard
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	operator := string(enums.ShopperRoleOperator)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if p.StripeVerifier != nil && p.StripeEvents != nil && p.StripeGuard != nil {
			r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(p.StripeEvents, p.StripeVerifier, p.StripeGuard, logg))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity(cfg.JWT, logg))
			r.Use(middleware.Idempotency(p.Idempotency, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartcontrollers.CartFetch(p.Carts, logg))
				r.Get("/total", cartcontrollers.CartTotal(p.Carts, logg))
				r.Post("/items", cartcontrollers.CartAdd(p.Carts, logg))
				r.Post("/items/check", cartcontrollers.CartCheck(p.Carts, logg))
				r.Patch("/items/{productId}", cartcontrollers.CartUpdateQuantity(p.Carts, logg))
				r.Delete("/items/{productId}", cartcontrollers.CartRemove(p.Carts, logg))
				r.With(middleware.RequireAuthenticated(logg)).Post("/merge", cartcontrollers.CartMerge(p.Carts, logg))
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/", controllers.CheckoutStart(p.Checkout, logg))
				r.Get("/", controllers.CheckoutFetch(p.Checkout, logg))
				r.Delete("/", controllers.CheckoutAbandon(p.Checkout, logg))
				r.Post("/advance", controllers.CheckoutAdvance(p.Checkout, logg))
				r.Post("/retreat", controllers.CheckoutRetreat(p.Checkout, logg))
				r.Post("/place-order", controllers.CheckoutPlaceOrder(p.Checkout, logg))
				r.Post("/payment/confirm", controllers.CheckoutConfirmPayment(p.Checkout, logg))
				r.Post("/payment/cancel", controllers.CheckoutCancelPayment(p.Checkout, logg))
			})

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RequireAuthenticated(logg)).Get("/", ordercontrollers.List(p.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(operator, logg))
				r.Post("/orders/{orderId}/status", controllers.AdminUpdateOrderStatus(p.Orders, logg))
				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", controllers.ListNotifications(p.Notifications, logg))
					r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
					r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
				})
			})
		})
	})

	return r
}
