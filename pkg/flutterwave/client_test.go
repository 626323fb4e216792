package flutterwave

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maralempay/maralempay-backend/pkg/config"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logg := logger.New(logger.Options{ServiceName: "flutterwave-test", Output: io.Discard})
	client, err := NewClient(context.Background(), config.FlutterwaveConfig{
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
	}, logg, WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "flutterwave-test", Output: io.Discard})

	_, err := NewClient(context.Background(), config.FlutterwaveConfig{WebhookSecret: "whsec"}, logg)
	require.Error(t, err)

	_, err = NewClient(context.Background(), config.FlutterwaveConfig{SecretKey: "sk"}, logg)
	require.Error(t, err)
}

func TestInitializeChargeSendsAuthorizedRequest(t *testing.T) {
	var captured struct {
		TxRef    string `json:"tx_ref"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	var authHeader string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message":"ok","data":{"link":"https://checkout.flutterwave.com/pay/abc"}}`))
	})

	session, err := client.InitializeCharge(context.Background(), ChargeRequest{
		Reference: "MPAY-abc",
		Amount:    decimal.NewFromInt(900),
		Currency:  "NGN",
		Customer:  Customer{Email: "ada@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test", authHeader)
	assert.Equal(t, "MPAY-abc", captured.TxRef)
	assert.Equal(t, "900", captured.Amount)
	assert.Equal(t, "NGN", captured.Currency)
	assert.Equal(t, "https://checkout.flutterwave.com/pay/abc", session.CheckoutURL)
	assert.Equal(t, "MPAY-abc", session.Reference)
}

func TestVerifyChargeNormalizesPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/verify_by_reference", r.URL.Path)
		require.Equal(t, "MPAY-abc", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":12345,"tx_ref":"MPAY-abc","flw_ref":"FLW-9","amount":900,"currency":"ngn","status":"successful"}}`))
	})

	verification, err := client.VerifyCharge(context.Background(), "MPAY-abc")
	require.NoError(t, err)

	assert.Equal(t, VerifyStatusSuccessful, verification.Status)
	assert.True(t, verification.Amount.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, "NGN", verification.Currency)
	assert.Equal(t, "12345", verification.GatewayChargeID)
	assert.Equal(t, "FLW-9", verification.GatewayRef)
}

func TestVerifyChargeRejectsMissingAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":12345,"currency":"NGN","status":"successful"}}`))
	})

	_, err := client.VerifyCharge(context.Background(), "MPAY-abc")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestVerifyChargeMapsPendingStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":12345,"amount":900,"currency":"NGN","status":"pending"}}`))
	})

	verification, err := client.VerifyCharge(context.Background(), "MPAY-abc")
	require.NoError(t, err)
	assert.Equal(t, VerifyStatusPending, verification.Status)
}

func TestSubmitBillPaymentFallsBackToReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bills", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "NG", payload["country"])
		assert.Equal(t, "08012345678", payload["customer"])
		_, _ = w.Write([]byte(`{"status":"success","data":{"reference":"BIL-42","status":"success"}}`))
	})

	bill, err := client.SubmitBillPayment(context.Background(), BillPaymentRequest{
		Type:        "AIRTIME",
		Destination: "08012345678",
		Amount:      decimal.NewFromInt(1000),
		Reference:   "MPAY-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "BIL-42", bill.FulfillmentRef)
}

func TestGatewayErrorsCarryDomainCodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","message":"invalid key"}`))
	})

	_, err := client.VerifyCharge(context.Background(), "MPAY-abc")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())
}

func TestGatewayRejectionIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"insufficient funds on account"}`))
	})

	_, err := client.Refund(context.Background(), "12345", decimal.NewFromInt(900), "fulfillment failed")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}
