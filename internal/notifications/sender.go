package notifications

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

// Sender delivers customer-facing payment emails. Delivery is best effort; the
// reconciliation flow never fails because an email did not go out.
type Sender interface {
	PaymentReceipt(ctx context.Context, txn *models.Transaction) error
	RefundNotice(ctx context.Context, txn *models.Transaction) error
}

type emailSender struct {
	client *sendgrid.Client
	from   string
	logg   *logger.Logger
}

type noopSender struct{}

func (noopSender) PaymentReceipt(context.Context, *models.Transaction) error { return nil }
func (noopSender) RefundNotice(context.Context, *models.Transaction) error   { return nil }

// NewSender builds a SendGrid-backed sender. Without an API key it degrades to
// a no-op so local and test environments run without credentials.
func NewSender(ctx context.Context, cfg config.SendgridConfig, logg *logger.Logger) Sender {
	if cfg.APIKey == "" {
		if logg != nil {
			logg.Warn(ctx, "sendgrid api key not set, payment emails disabled")
		}
		return noopSender{}
	}
	return &emailSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   cfg.DefaultFrom,
		logg:   logg,
	}
}

func (s *emailSender) PaymentReceipt(ctx context.Context, txn *models.Transaction) error {
	subject := fmt.Sprintf("Your %s purchase is complete", txn.Kind)
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s purchase of %s %s (reference %s) has been delivered.\n\nThank you for using MaralemPay.",
		displayName(txn), txn.Kind, txn.Currency, txn.RequestedAmount.StringFixed(2), txn.Reference,
	)
	return s.send(ctx, txn, subject, body)
}

func (s *emailSender) RefundNotice(ctx context.Context, txn *models.Transaction) error {
	subject := "Your payment has been refunded"
	body := fmt.Sprintf(
		"Hello %s,\n\nWe could not deliver your %s purchase (reference %s). Your payment of %s %s has been refunded.\n\nSorry for the inconvenience.",
		displayName(txn), txn.Kind, txn.Reference, txn.Currency, txn.ChargeAmount.StringFixed(2),
	)
	return s.send(ctx, txn, subject, body)
}

func (s *emailSender) send(ctx context.Context, txn *models.Transaction, subject, body string) error {
	if txn.CustomerEmail == "" {
		return nil
	}

	from := mail.NewEmail("MaralemPay", s.from)
	to := mail.NewEmail(displayName(txn), txn.CustomerEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected email: status %d", resp.StatusCode)
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithReference(ctx, txn.Reference), "payment email sent")
	}
	return nil
}

func displayName(txn *models.Transaction) string {
	if txn.CustomerName != "" {
		return txn.CustomerName
	}
	return "customer"
}
