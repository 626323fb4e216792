package purchases

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/maralempay/maralempay-backend/api/middleware"
	"github.com/maralempay/maralempay-backend/api/responses"
	"github.com/maralempay/maralempay-backend/api/validators"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

// Engine is the slice of the reconciliation engine these handlers drive.
type Engine interface {
	Initiate(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error)
	Get(ctx context.Context, reference string) (*models.Transaction, error)
	Verify(ctx context.Context, reference string) (*models.Transaction, error)
}

type createPurchaseRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	ServiceType string          `json:"service_type" validate:"required,max=64"`
	Destination string          `json:"destination" validate:"required,max=32"`
}

// Create opens a hosted checkout session for a biller-delivered purchase.
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

		var req createPurchaseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseTransactionKind(req.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction kind"))
			return
		}
		if !kind.IsBillerDelivered() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "kind is not purchasable here"))
			return
		}

		result, err := engine.Initiate(r.Context(), reconcile.InitiateInput{
			UserID:      userID,
			Kind:        kind,
			Amount:      req.Amount,
			ServiceType: req.ServiceType,
			Destination: req.Destination,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Detail returns the ledger snapshot for a reference owned by the caller.
func Detail(engine Engine, logg *logger.Logger) http.HandlerFunc {
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

		reference, err := parseReference(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := engine.Get(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if txn.OwnerID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

// VerifyPayment re-checks the charge with the gateway and drives fulfillment
// when the payment is confirmed. Safe to call any number of times.
func VerifyPayment(engine Engine, logg *logger.Logger) http.HandlerFunc {
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

		reference, err := parseReference(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owned, err := engine.Get(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if owned.OwnerID != userID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))
			return
		}

		txn, err := engine.Verify(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

func parseReference(r *http.Request) (string, error) {
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	return reference, nil
}
