package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

type Subscription struct {
	ID                      uuid.UUID          `json:"id" db:"id"`
	OwnerID                 int64              `json:"owner_id" db:"owner_id"`
	PlanSlug                string             `json:"plan_slug" db:"plan_slug"`
	Status                  SubscriptionStatus `json:"status" db:"status"`
	StartsAt                time.Time          `json:"starts_at" db:"starts_at"`
	EndsAt                  time.Time          `json:"ends_at" db:"ends_at"`
	AutoRenew               bool               `json:"auto_renew" db:"auto_renew"`
	ExternalSubscriptionRef string             `json:"external_subscription_ref" db:"external_subscription_ref"`
	ExternalCustomerRef     string             `json:"external_customer_ref" db:"external_customer_ref"`
	CreatedAt               time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at" db:"updated_at"`
}

// IsLapsed reports an active subscription whose paid-through time has passed.
func (s *Subscription) IsLapsed(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && !s.EndsAt.After(now)
}

// IsCurrent reports whether the subscription currently grants access.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndsAt.After(now)
}
