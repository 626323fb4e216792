package subscriptions

import (
	"context"
	"net/http"

	"github.com/maralempay/maralempay-backend/api/middleware"
	"github.com/maralempay/maralempay-backend/api/responses"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

// Engine opens checkout sessions for subscription purchases.
type Engine interface {
	Initiate(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error)
}

// Create starts a subscription purchase. Pricing comes from configuration,
// so the request carries no body worth validating.
func Create(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine unavailable"))
			return
		}

		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		result, err := engine.Initiate(r.Context(), reconcile.InitiateInput{
			UserID:      userID,
			Kind:        enums.TransactionKindSubscription,
			ServiceType: "subscription",
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
