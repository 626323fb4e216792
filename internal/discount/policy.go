package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
)

// Quote is the priced outcome of a purchase request. ChargeAmount is what the
// customer pays the gateway; DiscountAmount is absorbed by the platform, the
// biller is always paid the full face value.
type Quote struct {
	RequestedAmount decimal.Decimal
	ChargeAmount    decimal.Decimal
	DiscountAmount  decimal.Decimal
	Eligible        bool
}

// Policy decides discount eligibility and computes the charge for a purchase.
// Eligibility is evaluated exactly once at initiation; in-flight transactions
// keep the quote they were created with.
type Policy struct {
	rate             decimal.Decimal
	minWalletBalance decimal.Decimal
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.DiscountConfig) *Policy {
	return &Policy{
		rate:             cfg.RateDecimal(),
		minWalletBalance: cfg.MinWalletBalanceDecimal(),
	}
}

// Eligible reports whether the user qualifies for the discount at now. An
// active subscription or a wallet balance at the minimum threshold qualifies,
// and only biller-delivered services are ever discounted.
func (p *Policy) Eligible(user *models.User, kind enums.TransactionKind, now time.Time) bool {
	if user == nil || !kind.IsBillerDelivered() {
		return false
	}
	return user.IsSubscriber(now) || user.WalletBalance.GreaterThanOrEqual(p.minWalletBalance)
}

// QuoteFor prices a purchase. Ineligible purchases are charged at face value.
func (p *Policy) QuoteFor(requested decimal.Decimal, eligible bool) Quote {
	q := Quote{
		RequestedAmount: requested,
		ChargeAmount:    requested,
		DiscountAmount:  decimal.Zero,
		Eligible:        eligible,
	}
	if !eligible || p.rate.IsZero() {
		return q
	}

	discount := requested.Mul(p.rate).Round(2)
	if discount.GreaterThanOrEqual(requested) {
		return q
	}
	q.ChargeAmount = requested.Sub(discount)
	q.DiscountAmount = discount
	q.Eligible = true
	return q
}
