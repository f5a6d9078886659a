package variants

import (
	"time"
)

// Variant represents a sellable product variant. Stock is tracked per
// variant, never per abstract product.
type Variant struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	UnitID    int64     `json:"unit_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
