package wallet

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maralempay/maralempay-backend/api/middleware"
	"github.com/maralempay/maralempay-backend/api/responses"
	"github.com/maralempay/maralempay-backend/api/validators"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
	"github.com/maralempay/maralempay-backend/pkg/pagination"
)

// Engine is the slice of the reconciliation engine the wallet handlers drive.
type Engine interface {
	Initiate(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error)
	PurchaseFromWallet(ctx context.Context, input reconcile.InitiateInput) (*models.Transaction, error)
}

// Ledger reads balances and entries for the wallet endpoints.
type Ledger interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	Entries(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.WalletLedgerEntry, *pagination.Cursor, error)
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type walletPurchaseRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ServiceType string          `json:"service_type" validate:"required,max=64"`
	Destination string          `json:"destination" validate:"max=32"`
}

// Fund opens a hosted checkout session that tops up the caller's wallet.
func Fund(engine Engine, logg *logger.Logger) http.HandlerFunc {
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

		var req fundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := engine.Initiate(r.Context(), reconcile.InitiateInput{
			UserID:      userID,
			Kind:        enums.TransactionKindWalletFunding,
			Amount:      req.Amount,
			ServiceType: "wallet_topup",
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Purchase pays for a service from the wallet balance instead of a card
// charge. The debit and the paid transition commit together.
func Purchase(engine Engine, logg *logger.Logger) http.HandlerFunc {
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

		var req walletPurchaseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseTransactionKind(req.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction kind"))
			return
		}

		txn, err := engine.PurchaseFromWallet(r.Context(), reconcile.InitiateInput{
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
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}

// Summary returns the caller's balance alongside a page of ledger entries.
func Summary(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var cursor *pagination.Cursor
		if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
			cursor, err = pagination.ParseCursor(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
				return
			}
		}

		balance, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, next, err := ledger.Entries(r.Context(), userID, limit, cursor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := map[string]any{
			"balance": balance,
			"entries": entries,
		}
		if next != nil {
			payload["next_cursor"] = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, payload)
	}
}
