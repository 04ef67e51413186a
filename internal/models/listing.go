package models

import "time"

// Listing holds the slice of a property listing that billing touches.
type Listing struct {
	ID            int64      `json:"id" db:"id"`
	OwnerID       int64      `json:"owner_id" db:"owner_id"`
	IsFeatured    bool       `json:"is_featured" db:"is_featured"`
	FeaturedUntil *time.Time `json:"featured_until,omitempty" db:"featured_until"`
}
