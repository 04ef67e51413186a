package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type UserProfile struct {
	ID    int64  `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
}

type BillingCustomer struct {
	UserID              int64     `json:"user_id" db:"user_id"`
	ExternalCustomerRef string    `json:"external_customer_ref" db:"external_customer_ref"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin
}

// CanAct reports whether the actor may operate on a resource owned by ownerID.
func (a Actor) CanAct(ownerID int64) bool {
	return a.UserID == ownerID || a.IsElevated()
}
