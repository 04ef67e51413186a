package repositories

import (
	"context"

	"estatehub/internal/models"
)

type CustomerRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*models.BillingCustomer, error)
	// Save records the gateway customer for a user. The first stored reference wins.
	Save(ctx context.Context, customer *models.BillingCustomer) error
}

type customerRepo struct {
	db Database
}

func NewCustomerRepo(db Database) CustomerRepository {
	return &customerRepo{db: db}
}

func (r *customerRepo) GetByUserID(ctx context.Context, userID int64) (*models.BillingCustomer, error) {
	customer := &models.BillingCustomer{}
	query := `SELECT user_id, external_customer_ref, created_at FROM billing_customers WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&customer.UserID, &customer.ExternalCustomerRef, &customer.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return customer, nil
}

func (r *customerRepo) Save(ctx context.Context, customer *models.BillingCustomer) error {
	query := `
		INSERT INTO billing_customers (user_id, external_customer_ref, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, customer.UserID, customer.ExternalCustomerRef)
	return err
}
