package services

import (
	"context"
	"errors"
	"fmt"

	"estatehub/internal/common"
	"estatehub/internal/gateway"
	"estatehub/internal/models"
	"estatehub/internal/repositories"
)

// customerResolver finds or creates the owner's gateway customer.
type customerResolver struct {
	store   repositories.Store
	gateway gateway.Client
}

func (r *customerResolver) resolve(ctx context.Context, ownerID int64) (string, error) {
	existing, err := r.store.Customers().GetByUserID(ctx, ownerID)
	if err == nil {
		return existing.ExternalCustomerRef, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return "", fmt.Errorf("failed to load billing customer: %w", err)
	}

	profile, err := r.store.Users().GetProfile(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", common.NewValidationError("user %d not found", ownerID)
		}
		return "", fmt.Errorf("failed to load user profile: %w", err)
	}

	ref, err := r.gateway.CreateOrGetCustomer(ctx, ownerID, profile.Email, profile.Name)
	if err != nil {
		return "", gatewayError(err)
	}

	if err := r.store.Customers().Save(ctx, &models.BillingCustomer{UserID: ownerID, ExternalCustomerRef: ref}); err != nil {
		return "", fmt.Errorf("failed to save billing customer: %w", err)
	}
	// A concurrent request may have saved first; its reference wins.
	saved, err := r.store.Customers().GetByUserID(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("failed to reload billing customer: %w", err)
	}
	return saved.ExternalCustomerRef, nil
}

// gatewayError classifies a gateway failure for callers.
func gatewayError(err error) error {
	if errors.Is(err, gateway.ErrRejected) {
		return &common.AppError{Kind: common.KindValidation, Message: "the payment gateway rejected the request", Err: err}
	}
	return common.NewGatewayUnavailableError(err)
}
