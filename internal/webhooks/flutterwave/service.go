package flutterwavewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

type reconciler interface {
	Verify(ctx context.Context, reference string) (*models.Transaction, error)
}

// Event is the gateway's push notification envelope. The payload is treated as
// a hint only; the reconciliation engine re-verifies the charge with the
// gateway before any money-relevant transition.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData carries the charge fields this system reads from the push payload.
type EventData struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	FlwRef   string      `json:"flw_ref"`
	Status   string      `json:"status"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// EventID returns the identifier used for webhook delivery dedupe.
func (e *Event) EventID() string {
	if e == nil {
		return ""
	}
	if id := e.Data.ID.String(); id != "" {
		return id
	}
	return strings.TrimSpace(e.Data.TxRef)
}

// ServiceParams carries the webhook service dependencies.
type ServiceParams struct {
	Engine reconciler
	Logger *logger.Logger
}

// Service drives the reconciliation engine from gateway push notifications.
// It is a second entry point into the same flow the polling endpoint uses;
// the ledger's conditional transitions arbitrate when both race.
type Service struct {
	engine reconciler
	logg   *logger.Logger
}

// NewService wires the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{engine: params.Engine, logg: params.Logger}, nil
}

// HandleEvent processes a charge event. References this system never issued
// are acknowledged and ignored; they may belong to charges outside this flow.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}

	if !strings.EqualFold(strings.TrimSpace(event.Event), "charge.completed") {
		s.logg.Info(ctx, "skipping non-charge event")
		return nil
	}

	reference := strings.TrimSpace(event.Data.TxRef)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge event missing tx_ref")
	}

	logCtx := s.logg.WithReference(ctx, reference)
	if _, err := s.engine.Verify(ctx, reference); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			s.logg.Info(logCtx, "webhook for untracked reference ignored")
			return nil
		}
		return err
	}

	s.logg.Info(logCtx, "webhook reconciled charge")
	return nil
}
