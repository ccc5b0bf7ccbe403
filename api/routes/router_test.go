package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgauth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubCarts struct {
	cart.Service
}

func (stubCarts) Get(_ context.Context, owner identity.Owner) (cart.Cart, error) {
	return cart.Cart{OwnerKey: owner.Key}, nil
}

type countingCheckout struct {
	checkoutsvc.Service
	placed int
}

func (c *countingCheckout) PlaceOrder(_ context.Context, _ identity.Owner) (*checkoutsvc.PlaceResult, error) {
	c.placed++
	return &checkoutsvc.PlaceResult{Order: &orders.OrderDetail{ID: uuid.New(), Status: enums.OrderStatusPending}}, nil
}

type stubOrders struct {
	orders.Service
}

func (stubOrders) UpdateStatus(_ context.Context, id uuid.UUID, to enums.OrderStatus, _ string) (*models.Order, error) {
	return &models.Order{ID: id, Status: to}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "storefront"},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, checkout checkoutsvc.Service) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })

	return NewRouter(Params{
		Config:      cfg,
		DB:          stubPinger{},
		Redis:       stubPinger{},
		Idempotency: redis.NewFromClient(raw),
		Carts:       stubCarts{},
		Checkout:    checkout,
		Orders:      stubOrders{},
	})
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ShopperRole) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	require.NoError(t, err)
	return token
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t, testConfig(), &countingCheckout{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestCartRouteMintsSession(t *testing.T) {
	router := newTestRouter(t, testConfig(), &countingCheckout{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotEmpty(t, resp.Header().Get(middleware.SessionHeader))
}

func TestMergeRequiresAccount(t *testing.T) {
	router := newTestRouter(t, testConfig(), &countingCheckout{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/merge", nil)
	req.Header.Set("Idempotency-Key", "merge-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestPlaceOrderIsIdempotent(t *testing.T) {
	checkout := &countingCheckout{}
	router := newTestRouter(t, testConfig(), checkout)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/place-order", nil)
	missing.Header.Set(middleware.SessionHeader, "router-device-session-001")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, missing)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var bodies []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/place-order", nil)
		req.Header.Set(middleware.SessionHeader, "router-device-session-001")
		req.Header.Set("Idempotency-Key", "place-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		bodies = append(bodies, resp.Body.String())
	}
	require.Equal(t, 1, checkout.placed)
	require.Equal(t, bodies[0], bodies[1])
}

func TestAdminRequiresOperator(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, &countingCheckout{})
	path := "/api/v1/admin/orders/" + uuid.NewString() + "/status"

	customer := httptest.NewRequest(http.MethodPost, path, nil)
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ShopperRoleCustomer))
	customer.Header.Set("Idempotency-Key", "status-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, customer)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestWebhookNotMountedWithoutStripe(t *testing.T) {
	router := newTestRouter(t, testConfig(), &countingCheckout{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil))
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAdminStatusAllowsOperator(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, &countingCheckout{})
	path := "/api/v1/admin/orders/" + uuid.NewString() + "/status"

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"status":"paid"}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ShopperRoleOperator))
	req.Header.Set("Idempotency-Key", "status-2")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}
