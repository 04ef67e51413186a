package repositories

import (
	"context"
	"fmt"

	"estatehub/internal/models"

	"github.com/google/uuid"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	// CreateForInvoice inserts a payment keyed by its invoice reference and
	// reports false when that invoice was already recorded.
	CreateForInvoice(ctx context.Context, payment *models.Payment) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIntentRef(ctx context.Context, intentRef string) (*models.Payment, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*models.Payment, error)
	SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, transactionRef *string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseReservation(ctx context.Context, id uuid.UUID) error
}

type paymentRepo struct {
	db Database
}

func NewPaymentRepo(db Database) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, owner_id, listing_id, kind, amount, currency, status, external_intent_ref, external_transaction_ref, external_invoice_ref, details, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	payment := &models.Payment{}
	var details []byte
	err := row.Scan(&payment.ID, &payment.OwnerID, &payment.ListingID, &payment.Kind, &payment.Amount, &payment.Currency, &payment.Status,
		&payment.IntentRef, &payment.TransactionRef, &payment.InvoiceRef, &details, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	payment.Details, err = models.DecodePaymentDetails(payment.Kind, details)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *paymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	details, err := models.EncodePaymentDetails(payment.Details)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payments (id, owner_id, listing_id, kind, amount, currency, status, external_intent_ref, external_transaction_ref, external_invoice_ref, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	_, err = r.db.Exec(ctx, query, payment.ID, payment.OwnerID, payment.ListingID, payment.Kind, payment.Amount, payment.Currency, payment.Status,
		payment.IntentRef, payment.TransactionRef, payment.InvoiceRef, details)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) CreateForInvoice(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.InvoiceRef == nil {
		return false, fmt.Errorf("payment %s has no invoice reference", payment.ID)
	}
	details, err := models.EncodePaymentDetails(payment.Details)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO payments (id, owner_id, listing_id, kind, amount, currency, status, external_intent_ref, external_transaction_ref, external_invoice_ref, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (external_invoice_ref) WHERE external_invoice_ref IS NOT NULL DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, payment.ID, payment.OwnerID, payment.ListingID, payment.Kind, payment.Amount, payment.Currency, payment.Status,
		payment.IntentRef, payment.TransactionRef, payment.InvoiceRef, details)
	if err != nil {
		return false, fmt.Errorf("failed to insert invoice payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

func (r *paymentRepo) GetByIntentRef(ctx context.Context, intentRef string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_intent_ref = $1`
	return scanPayment(r.db.QueryRow(ctx, query, intentRef))
}

func (r *paymentRepo) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// SetIntentRef stores the gateway intent reference. It never overwrites one.
func (r *paymentRepo) SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string) error {
	query := `
		UPDATE payments SET external_intent_ref = $1, updated_at = NOW()
		WHERE id = $2 AND external_intent_ref IS NULL
	`
	tag, err := r.db.Exec(ctx, query, intentRef, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentRefAlreadySet
	}
	return nil
}

// MarkCompleted moves a pending payment to completed. It reports false when
// the payment was no longer pending, which callers treat as an already
// settled payment.
func (r *paymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, transactionRef *string) (bool, error) {
	query := `
		UPDATE payments SET status = 'completed', external_transaction_ref = COALESCE($1, external_transaction_ref), updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, transactionRef, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET status = 'refunded', updated_at = NOW() WHERE id = $1 AND status = 'completed'`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseReservation removes a pending payment that never reached the gateway.
// Rows carrying an intent reference are financial records and are kept.
func (r *paymentRepo) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM payments WHERE id = $1 AND status = 'pending' AND external_intent_ref IS NULL`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
