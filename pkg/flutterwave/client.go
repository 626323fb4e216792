package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maralempay/maralempay-backend/pkg/config"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

const (
	defaultBaseURL              = "https://api.flutterwave.com/v3"
	defaultTimeout              = 30 * time.Second
	requestBodyReadLimit  int64 = 2048
)

var (
	errSecretKeyRequired     = errors.New("flutterwave secret key is required")
	errWebhookSecretRequired = errors.New("flutterwave webhook secret is required")
	errLoggerRequired        = errors.New("flutterwave logger is required")
)

// Client wraps the Flutterwave payments and bills APIs with centralized auth,
// logging, response validation, and error mapping. The client never retries on
// its own; retry policy belongs to the reconciliation engine.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	logger        *logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient initializes the gateway wrapper and validates the credentials.
// Missing credentials are a startup error: there is no degraded mode for
// money-movement calls.
func NewClient(ctx context.Context, cfg config.FlutterwaveConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		logger:        logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	logg.Info(ctx, "flutterwave client initialized")
	return c, nil
}

// SigningSecret returns the webhook shared secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NewReference returns a unique caller-generated transaction reference.
func (c *Client) NewReference(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "MPAY"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// InitializeCharge creates a hosted checkout session for the given reference.
// No local state changes; the remote charge session is created.
func (c *Client) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeSession, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	if strings.TrimSpace(req.Customer.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	payload := map[string]any{
		"tx_ref":       req.Reference,
		"amount":       req.Amount.String(),
		"currency":     req.Currency,
		"redirect_url": req.RedirectURL,
		"customer":     req.Customer,
	}
	if len(req.Meta) > 0 {
		payload["meta"] = req.Meta
	}

	c.log(ctx, "request", "initialize_charge", map[string]any{
		"reference": req.Reference,
		"amount":    req.Amount.String(),
		"currency":  req.Currency,
		"email":     req.Customer.Email,
	})

	env, err := c.post(ctx, "payments", payload)
	if err != nil {
		c.log(ctx, "error", "initialize_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge session")
	}
	if strings.TrimSpace(data.Link) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway response missing checkout link")
	}

	c.log(ctx, "response", "initialize_charge", map[string]any{"reference": req.Reference})
	return &ChargeSession{CheckoutURL: data.Link, Reference: req.Reference}, nil
}

// VerifyCharge reads the charge status for the given reference. Safe to call
// repeatedly; the remote side treats it as a read.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	c.log(ctx, "request", "verify_charge", map[string]any{"reference": trimmed})

	path := fmt.Sprintf("transactions/verify_by_reference?tx_ref=%s", url.QueryEscape(trimmed))
	env, err := c.get(ctx, path)
	if err != nil {
		c.log(ctx, "error", "verify_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data struct {
		ID       json.Number `json:"id"`
		TxRef    string      `json:"tx_ref"`
		FlwRef   string      `json:"flw_ref"`
		Amount   *float64    `json:"amount"`
		Currency string      `json:"currency"`
		Status   string      `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge verification")
	}
	// Missing required fields are a gateway error, never a silent zero.
	if data.Amount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway verification missing amount")
	}
	if strings.TrimSpace(data.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway verification missing currency")
	}
	status, err := parseVerifyStatus(data.Status)
	if err != nil {
		return nil, err
	}

	verification := &ChargeVerification{
		Status:          status,
		Amount:          decimal.NewFromFloat(*data.Amount),
		Currency:        strings.ToUpper(strings.TrimSpace(data.Currency)),
		GatewayChargeID: data.ID.String(),
		GatewayRef:      data.FlwRef,
		RawStatus:       data.Status,
	}

	c.log(ctx, "response", "verify_charge", map[string]any{
		"reference": trimmed,
		"status":    string(status),
	})
	return verification, nil
}

// SubmitBillPayment delivers a biller service (airtime, data, utility) funded
// from the operator's gateway balance. The caller reference is forwarded so
// the remote side can dedupe as well.
func (c *Client) SubmitBillPayment(ctx context.Context, req BillPaymentRequest) (*BillPayment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill payment reference is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill payment destination is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill payment amount must be positive")
	}

	payload := map[string]any{
		"country":   "NG",
		"customer":  req.Destination,
		"amount":    req.Amount.String(),
		"type":      req.Type,
		"reference": req.Reference,
	}
	if strings.TrimSpace(req.BillerCode) != "" {
		payload["biller_code"] = req.BillerCode
	}

	c.log(ctx, "request", "bill_payment", map[string]any{
		"reference": req.Reference,
		"type":      req.Type,
		"amount":    req.Amount.String(),
	})

	env, err := c.post(ctx, "bills", payload)
	if err != nil {
		c.log(ctx, "error", "bill_payment", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data struct {
		FlwRef    string `json:"flw_ref"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode bill payment")
	}
	fulfillmentRef := strings.TrimSpace(data.FlwRef)
	if fulfillmentRef == "" {
		fulfillmentRef = strings.TrimSpace(data.Reference)
	}
	if fulfillmentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway bill payment missing fulfillment reference")
	}

	c.log(ctx, "response", "bill_payment", map[string]any{
		"reference":       req.Reference,
		"fulfillment_ref": fulfillmentRef,
	})
	return &BillPayment{FulfillmentRef: fulfillmentRef, Status: data.Status, Raw: env.Data}, nil
}

// Refund returns a settled charge to the customer.
func (c *Client) Refund(ctx context.Context, gatewayChargeID string, amount decimal.Decimal, reason string) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "flutterwave client not configured")
	}
	trimmed := strings.TrimSpace(gatewayChargeID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway charge id is required")
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	payload := map[string]any{
		"amount":   amount.String(),
		"comments": reason,
	}

	c.log(ctx, "request", "refund", map[string]any{
		"gateway_charge_id": trimmed,
		"amount":            amount.String(),
	})

	env, err := c.post(ctx, fmt.Sprintf("transactions/%s/refund", url.PathEscape(trimmed)), payload)
	if err != nil {
		c.log(ctx, "error", "refund", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refund")
	}
	if data.ID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway refund missing reference")
	}

	c.log(ctx, "response", "refund", map[string]any{"refund_ref": data.ID.String()})
	return &Refund{RefundRef: data.ID.String(), Status: data.Status}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal gateway request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.execute(req)
}

func (c *Client) get(ctx context.Context, path string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	return c.execute(req)
}

func (c *Client) execute(req *http.Request) (*envelope, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts included: a call that did not answer is an error, never a success.
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(
			domainCodeForStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"gateway request failed",
		)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	if !env.ok() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway rejected request").WithDetails(map[string]any{"message": env.Message})
	}
	return &env, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("flutterwave %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("flutterwave %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "cvv", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		return pkgerrors.CodeDependency
	}
}
