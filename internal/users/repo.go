package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
)

// Repository reads and mutates user rows on behalf of the payments core. The
// wallet balance itself is only touched through the wallet service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ExtendSubscription(ctx context.Context, id uuid.UUID, days int, now time.Time) (time.Time, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a user repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, err
	}
	return &user, nil
}

// ExtendSubscription pushes the subscription expiry out by the given number of
// days. An unexpired subscription stacks on top of its current expiry; an
// expired or absent one starts from now.
func (r *repository) ExtendSubscription(ctx context.Context, id uuid.UUID, days int, now time.Time) (time.Time, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return time.Time{}, err
	}

	base := now
	if user.SubscriptionExpiresAt != nil && user.SubscriptionExpiresAt.After(now) {
		base = *user.SubscriptionExpiresAt
	}
	expiry := base.AddDate(0, 0, days)

	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("subscription_expires_at", expiry)
	if result.Error != nil {
		return time.Time{}, result.Error
	}
	if result.RowsAffected == 0 {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return expiry, nil
}
