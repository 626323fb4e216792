package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maralempay/maralempay-backend/api/responses"
	"github.com/maralempay/maralempay-backend/pkg/config"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

// RequireAdmin gates operational endpoints behind the shared admin token.
func RequireAdmin(cfg config.AdminConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin access disabled"))
				return
			}
			token := strings.TrimSpace(r.Header.Get(adminTokenHeader))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin token invalid"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
