package units

import (
	"time"
)

// Unit represents a unit of measure. Stock lines record the unit id
// verbatim; no conversion happens anywhere in the stock path.
type Unit struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
