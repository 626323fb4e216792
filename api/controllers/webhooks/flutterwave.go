package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/maralempay/maralempay-backend/api/responses"
	flutterwavewebhook "github.com/maralempay/maralempay-backend/internal/webhooks/flutterwave"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

const signatureHeader = "verif-hash"

type FlutterwaveWebhookService interface {
	HandleEvent(ctx context.Context, event *flutterwavewebhook.Event) error
}

type flutterwaveWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type flutterwaveClient interface {
	SigningSecret() string
}

// FlutterwaveWebhook ingests charge notifications from the gateway. The
// payload is a hint only: the service re-verifies every charge before any
// state moves. Everything past the signature check is acknowledged with 200
// so the gateway does not retry events we have already recorded or can only
// resolve via the sweep.
func FlutterwaveWebhook(svc FlutterwaveWebhookService, client flutterwaveClient, guard flutterwaveWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "flutterwave client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(signatureHeader)
		if !validateFlutterwaveSignature(payload, client.SigningSecret(), sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var event flutterwavewebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			if logg != nil {
				logg.Error(ctx, "flutterwave event decode failed", err)
			}
			responses.WriteSuccess(w, nil)
			return
		}

		eventID := strings.TrimSpace(event.EventID())
		if eventID == "" {
			if logg != nil {
				logg.Warn(ctx, "flutterwave event carries no identifier")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "flutterwave event idempotency check failed", err)
			}
			responses.WriteSuccess(w, nil)
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			_ = guard.Delete(ctx, eventID)
			if logg != nil {
				logg.Error(ctx, fmt.Sprintf("flutterwave event %s failed", eventID), err)
			}
			responses.WriteSuccess(w, nil)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("flutterwave event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func validateFlutterwaveSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
