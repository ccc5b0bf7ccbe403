package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// a pending record outlives the slowest handler, then frees the key
	pendingIdempotencyTTL = time.Minute

	maxIdempotencyKeyLen = 255
)

// ResponseStore persists idempotent responses.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// idempotencyRule matches a route by method and path shape; a "*" segment
// matches one path segment, so both the chi pattern and the concrete path fit.
type idempotencyRule struct {
	method string
	route  string
	ttl    time.Duration
}

var idempotencyRules = []idempotencyRule{
	{http.MethodPost, "/api/v1/cart/merge", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/orders/*/status", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/notifications/*/read", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/notifications/read-all", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/checkout/place-order", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/checkout/payment/confirm", criticalIdempotencyTTL},
}

// storedResponse is the redis value under an idempotency key. A record with
// Pending set marks a request still being handled.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first non-5xx response for a repeated
// Idempotency-Key on the routes in idempotencyRules. Keys are scoped by owner,
// method and path. A second request while the first is still running gets 409.
func Idempotency(store ResponseStore, logg *logger.Logger) func(http.Handler) http.Handler {
	logg = orNop(logg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := ruleTTL(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" || len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 255 characters)"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			pending, _ := json.Marshal(storedResponse{Pending: true, RequestHash: hash})
			claimed, err := store.SetNX(ctx, key, string(pending), pendingIdempotencyTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, logg, w, key, hash)
				return
			}

			stored := false
			defer func() {
				// 5xx, marshal failures and panics leave the key free for a retry
				if !stored {
					if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
						logg.Error(ctx, "release idempotency key", err)
					}
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			if capture.code() >= http.StatusInternalServerError {
				return
			}

			final, err := json.Marshal(storedResponse{
				RequestHash: hash,
				Status:      capture.code(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				logg.Error(ctx, "marshal idempotent response", err)
				return
			}
			if err := store.Set(context.WithoutCancel(ctx), key, string(final), ttl); err != nil {
				logg.Error(ctx, "store idempotent response", err)
				return
			}
			stored = true
		})
	}
}

func replayOrReject(ctx context.Context, store ResponseStore, logg *logger.Logger, w http.ResponseWriter, key, hash string) {
	raw, err := store.Get(ctx, key)
	if pkgredis.IsNil(err) {
		// the holder finished with a 5xx between our SetNX and Get
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is in progress, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.Pending:
		w.Header().Set("Retry-After", "1")
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is in progress, retry"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func idempotencyScope(r *http.Request) string {
	owner, _ := identity.FromContext(r.Context())
	return owner.Key + "|" + r.Method + "|" + r.URL.Path
}

// ruleTTL resolves the rule for r. Group middleware runs before nested
// routers resolve, so a "/*" mount pattern falls back to the request path.
func ruleTTL(r *http.Request) (time.Duration, bool) {
	candidates := []string{r.URL.Path}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "/*") {
			candidates = append(candidates, p)
		}
	}
	for _, rule := range idempotencyRules {
		if rule.method != r.Method {
			continue
		}
		for _, c := range candidates {
			if routeMatches(rule.route, c) {
				return rule.ttl, true
			}
		}
	}
	return 0, false
}

func routeMatches(route, path string) bool {
	want := strings.Split(strings.TrimSuffix(route, "/"), "/")
	got := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != "*" && want[i] != got[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) code() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
