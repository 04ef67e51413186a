package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrUnknownPaymentKind = errors.New("unknown payment kind")

// PaymentDetails is the kind-specific part of a payment. The set of
// implementations is closed: FeaturedListingDetails and SubscriptionDetails.
type PaymentDetails interface {
	Kind() PaymentKind
	Validate() error
	isPaymentDetails()
}

type FeaturedListingDetails struct {
	ListingID    int64  `json:"listing_id"`
	PackageID    *int64 `json:"package_id,omitempty"`
	DurationDays int    `json:"duration_days"`
}

func (FeaturedListingDetails) Kind() PaymentKind { return PaymentKindFeaturedListing }
func (FeaturedListingDetails) isPaymentDetails() {}

func (d FeaturedListingDetails) Validate() error {
	if d.ListingID <= 0 {
		return errors.New("listing_id is required for featured listing payments")
	}
	if d.DurationDays <= 0 {
		return errors.New("duration_days must be greater than zero")
	}
	return nil
}

type SubscriptionDetails struct {
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	PlanSlug       string     `json:"plan_slug"`
	Renewal        bool       `json:"renewal,omitempty"`
}

func (SubscriptionDetails) Kind() PaymentKind { return PaymentKindSubscription }
func (SubscriptionDetails) isPaymentDetails() {}

func (d SubscriptionDetails) Validate() error {
	if d.PlanSlug == "" {
		return errors.New("plan_slug is required for subscription payments")
	}
	return nil
}

// EncodePaymentDetails serializes details for the JSONB details column.
func EncodePaymentDetails(d PaymentDetails) ([]byte, error) {
	if d == nil {
		return nil, errors.New("payment details are required")
	}
	return json.Marshal(d)
}

// DecodePaymentDetails restores the concrete details type for kind.
func DecodePaymentDetails(kind PaymentKind, raw []byte) (PaymentDetails, error) {
	switch kind {
	case PaymentKindFeaturedListing:
		var d FeaturedListingDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode featured listing details: %w", err)
		}
		return d, nil
	case PaymentKindSubscription:
		var d SubscriptionDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode subscription details: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentKind, kind)
	}
}
