package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/identity"
	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// SessionHeader carries the device session id of anonymous shoppers.
const SessionHeader = "X-Session-Id"

// Identity resolves the request owner. A bearer token yields an authenticated
// owner; otherwise the device session id yields an anonymous one, minted and
// echoed back when the client sent none.
func Identity(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
			if sessionID != "" {
				device, err := identity.Anonymous(sessionID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session id"))
					return
				}
				ctx = WithDeviceOwner(ctx, device)
			}

			var owner identity.Owner
			if token, ok := bearerToken(r); ok {
				claims, err := auth.ParseAccessToken(cfg, token)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token"))
					return
				}
				owner = identity.Authenticated(claims.UserID, claims.Email)
				ctx = WithRole(ctx, string(claims.Role))
			} else {
				if sessionID == "" {
					sessionID = identity.NewSessionID()
					w.Header().Set(SessionHeader, sessionID)
					device, err := identity.Anonymous(sessionID)
					if err != nil {
						responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint session id"))
						return
					}
					ctx = WithDeviceOwner(ctx, device)
				}
				owner, _ = DeviceOwnerFromContext(ctx)
			}

			ctx = identity.WithOwner(ctx, owner)
			if logg != nil {
				ctx = logg.WithOwnerKey(ctx, owner.Key)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
