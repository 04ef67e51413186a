package repositories

import (
	"context"
	"fmt"
)

// Store groups the billing repositories over one connection scope. A Store
// obtained inside WithTx runs every query on that transaction.
type Store interface {
	Payments() PaymentRepository
	Subscriptions() SubscriptionRepository
	Listings() ListingRepository
	Customers() CustomerRepository
	Users() UserRepository
	Plans() PlanRepository
	WebhookEvents() WebhookEventRepository

	// WithTx runs fn in a single database transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise. Calling WithTx
	// on a transactional Store reuses the open transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type pgStore struct {
	pool Pool
	db   Database
	inTx bool
}

func NewStore(pool Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) Payments() PaymentRepository           { return NewPaymentRepo(s.db) }
func (s *pgStore) Subscriptions() SubscriptionRepository { return NewSubscriptionRepo(s.db) }
func (s *pgStore) Listings() ListingRepository           { return NewListingRepo(s.db) }
func (s *pgStore) Customers() CustomerRepository         { return NewCustomerRepo(s.db) }
func (s *pgStore) Users() UserRepository                 { return NewUserRepo(s.db) }
func (s *pgStore) Plans() PlanRepository                 { return NewPlanRepo(s.db) }
func (s *pgStore) WebhookEvents() WebhookEventRepository { return NewWebhookEventRepo(s.db) }

func (s *pgStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(&pgStore{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
