package purchases

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maralempay/maralempay-backend/api/middleware"
	"github.com/maralempay/maralempay-backend/internal/reconcile"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

type stubEngine struct {
	initiate func(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error)
	get      func(ctx context.Context, reference string) (*models.Transaction, error)
	verify   func(ctx context.Context, reference string) (*models.Transaction, error)
}

func (s *stubEngine) Initiate(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error) {
	return s.initiate(ctx, input)
}

func (s *stubEngine) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.get(ctx, reference)
}

func (s *stubEngine) Verify(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.verify(ctx, reference)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func withReference(req *http.Request, reference string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("reference", reference)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreateInitiatesPurchase(t *testing.T) {
	userID := uuid.New()
	var captured reconcile.InitiateInput
	engine := &stubEngine{
		initiate: func(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error) {
			captured = input
			return &reconcile.InitiateResult{
				Transaction: &models.Transaction{Reference: "MPAY-abc", OwnerID: input.UserID},
				CheckoutURL: "https://checkout.example/abc",
			}, nil
		},
	}

	body := `{"kind":"airtime","amount":1000,"service_type":"AIRTIME","destination":"08012345678"}`
	req := authedRequest(http.MethodPost, "/api/v1/purchases", body, userID)
	rec := httptest.NewRecorder()

	Create(engine, testLogger())(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, captured.UserID)
	}
	if captured.Kind != enums.TransactionKindAirtime {
		t.Fatalf("unexpected kind %s", captured.Kind)
	}
	if !captured.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected amount %s", captured.Amount)
	}

	var envelope struct {
		Data struct {
			CheckoutURL string `json:"checkout_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.CheckoutURL == "" {
		t.Fatal("expected checkout url in response")
	}
}

func TestCreateRejectsNonBillerKinds(t *testing.T) {
	engine := &stubEngine{
		initiate: func(ctx context.Context, input reconcile.InitiateInput) (*reconcile.InitiateResult, error) {
			t.Fatal("engine should not be called")
			return nil, nil
		},
	}

	body := `{"kind":"wallet_funding","amount":1000,"service_type":"TOPUP","destination":"self"}`
	req := authedRequest(http.MethodPost, "/api/v1/purchases", body, uuid.New())
	rec := httptest.NewRecorder()

	Create(engine, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	engine := &stubEngine{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	Create(engine, testLogger())(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDetailHidesForeignTransactions(t *testing.T) {
	owner := uuid.New()
	engine := &stubEngine{
		get: func(ctx context.Context, reference string) (*models.Transaction, error) {
			return &models.Transaction{Reference: reference, OwnerID: owner}, nil
		},
	}

	req := withReference(authedRequest(http.MethodGet, "/api/v1/purchases/MPAY-abc", "", uuid.New()), "MPAY-abc")
	rec := httptest.NewRecorder()

	Detail(engine, testLogger())(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign transaction, got %d", rec.Code)
	}
}

func TestVerifyPaymentDrivesEngine(t *testing.T) {
	owner := uuid.New()
	verified := 0
	engine := &stubEngine{
		get: func(ctx context.Context, reference string) (*models.Transaction, error) {
			return &models.Transaction{Reference: reference, OwnerID: owner}, nil
		},
		verify: func(ctx context.Context, reference string) (*models.Transaction, error) {
			verified++
			return &models.Transaction{Reference: reference, OwnerID: owner, Status: enums.TransactionStatusCompleted}, nil
		},
	}

	req := withReference(authedRequest(http.MethodPost, "/api/v1/purchases/MPAY-abc/verify", "", owner), "MPAY-abc")
	rec := httptest.NewRecorder()

	VerifyPayment(engine, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if verified != 1 {
		t.Fatalf("expected one verify call, got %d", verified)
	}
}

func TestVerifyPaymentSurfacesAmountMismatch(t *testing.T) {
	owner := uuid.New()
	engine := &stubEngine{
		get: func(ctx context.Context, reference string) (*models.Transaction, error) {
			return &models.Transaction{Reference: reference, OwnerID: owner}, nil
		},
		verify: func(ctx context.Context, reference string) (*models.Transaction, error) {
			return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "paid amount does not match expected charge")
		},
	}

	req := withReference(authedRequest(http.MethodPost, "/api/v1/purchases/MPAY-abc/verify", "", owner), "MPAY-abc")
	rec := httptest.NewRecorder()

	VerifyPayment(engine, testLogger())(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeAmountMismatch) {
		t.Fatalf("unexpected error code %s", envelope.Error.Code)
	}
}
