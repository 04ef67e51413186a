package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Plan struct {
	ID               int64           `json:"id" db:"id"`
	Slug             string          `json:"slug" db:"slug"`
	Name             string          `json:"name" db:"name"`
	Description      string          `json:"description" db:"description"`
	Price            decimal.Decimal `json:"price" db:"price"`
	Currency         string          `json:"currency" db:"currency"`
	Interval         string          `json:"interval" db:"billing_interval"`
	ExternalPriceRef string          `json:"external_price_ref" db:"external_price_ref"`
	Active           bool            `json:"active" db:"active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

type FeaturedPackage struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Currency     string          `json:"currency" db:"currency"`
	DurationDays int             `json:"duration_days" db:"duration_days"`
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
