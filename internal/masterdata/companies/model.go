package companies

import (
	"time"
)

// Company represents a company entity. CostingPolicy drives the valuation
// method for all stock locations under the company's branches; empty
// means no company-level policy.
type Company struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	TaxID         string    `json:"tax_id"`
	CostingPolicy string    `json:"costing_policy"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
