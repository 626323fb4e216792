package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/db"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/pagination"
)

// ListQuery filters the admin/reporting read path.
type ListQuery struct {
	OwnerID *uuid.UUID
	Status  *enums.TransactionStatus
	Kind    *enums.TransactionKind
	From    *time.Time
	To      *time.Time
	Limit   int
	Cursor  *pagination.Cursor
}

// Repository manages persistence for the transaction ledger. TransitionStatus
// is the idempotency guard for the whole reconciliation flow.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByReference(ctx context.Context, reference string) (*models.Transaction, error)
	TransitionStatus(ctx context.Context, reference string, from, to enums.TransactionStatus, updates map[string]any) (bool, error)
	ListStaleByStatus(ctx context.Context, status enums.TransactionStatus, cutoff time.Time, limit int) ([]models.Transaction, error)
	List(ctx context.Context, query ListQuery) ([]models.Transaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction reference already exists")
		}
		return err
	}
	return nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}
	return &txn, nil
}

// TransitionStatus applies a conditional state transition as one atomic UPDATE
// guarded by the current status. It returns false when another driver already
// moved the row; the caller must then treat the transaction as processed and
// re-read the winning state instead of redoing work.
func (r *repository) TransitionStatus(ctx context.Context, reference string, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	if !from.IsValid() || !to.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "unknown transaction status")
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("reference = ? AND status = ?", reference, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListStaleByStatus(ctx context.Context, status enums.TransactionStatus, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)

	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if query.OwnerID != nil {
		q = q.Where("owner_id = ?", *query.OwnerID)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Kind != nil {
		q = q.Where("kind = ?", *query.Kind)
	}
	if query.From != nil {
		q = q.Where("created_at >= ?", *query.From)
	}
	if query.To != nil {
		q = q.Where("created_at < ?", *query.To)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var txns []models.Transaction
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	var next *pagination.Cursor
	if len(txns) > limit {
		txns = txns[:limit]
		last := txns[len(txns)-1]
		next = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return txns, next, nil
}
