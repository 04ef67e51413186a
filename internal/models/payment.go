package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentKind string

const (
	PaymentKindFeaturedListing PaymentKind = "featured_listing"
	PaymentKindSubscription    PaymentKind = "subscription"
)

func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentKindFeaturedListing, PaymentKindSubscription:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// CanTransitionTo reports whether the ledger allows moving from s to next.
// pending may settle either way; only a completed payment can be refunded.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCompleted || next == PaymentStatusFailed
	case PaymentStatusCompleted:
		return next == PaymentStatusRefunded
	}
	return false
}

type Payment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OwnerID        int64           `json:"owner_id" db:"owner_id"`
	ListingID      *int64          `json:"listing_id,omitempty" db:"listing_id"`
	Kind           PaymentKind     `json:"kind" db:"kind"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	Status         PaymentStatus   `json:"status" db:"status"`
	IntentRef      *string         `json:"external_intent_ref,omitempty" db:"external_intent_ref"`
	TransactionRef *string         `json:"external_transaction_ref,omitempty" db:"external_transaction_ref"`
	InvoiceRef     *string         `json:"external_invoice_ref,omitempty" db:"external_invoice_ref"`
	Details        PaymentDetails  `json:"details" db:"details"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// NewPendingPayment builds an unsaved pending payment for the given details.
func NewPendingPayment(ownerID int64, amount decimal.Decimal, currency string, details PaymentDetails) *Payment {
	p := &Payment{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Kind:     details.Kind(),
		Amount:   amount,
		Currency: NormalizeCurrency(currency),
		Status:   PaymentStatusPending,
		Details:  details,
	}
	if fl, ok := details.(FeaturedListingDetails); ok {
		listingID := fl.ListingID
		p.ListingID = &listingID
	}
	return p
}
